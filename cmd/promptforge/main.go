package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/promptforge/internal/bootstrap"
	"github.com/copyleftdev/promptforge/internal/config"
	"github.com/copyleftdev/promptforge/internal/logging"
	"github.com/copyleftdev/promptforge/internal/optimization"
	"github.com/copyleftdev/promptforge/internal/report"
	"github.com/copyleftdev/promptforge/internal/store"
)

// CLI flags
var (
	iterationsFlag int
	templateFlag   string
	rawFlag        bool
	resultsDirFlag string
	runIDFlag      string
	csvPathFlag    string
)

// rootCmd is the main Cobra command for the promptforge CLI.
var rootCmd = &cobra.Command{
	Use:   "promptforge",
	Short: "Iteratively optimize image generation prompts",
	Long: `Promptforge generates an image from a prompt, scores it, and rewrites the
prompt from the feedback until the image satisfies the judge or the
iteration budget runs out.

Providers and scorers are configured through the environment (see
GENERATION_PROVIDER, EVALUATOR_MODE, GEMINI_API_KEY and FAL_KEY).

Examples:
  promptforge optimize "a lighthouse at dusk, oil painting"
  promptforge optimize --iterations 8 --raw "a watercolor fox"
  promptforge compare --dir results
  promptforge log --run-id 3f2a...`,
	SilenceUsage: true,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize [prompt]",
	Short: "Run one optimization and save the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOptimize,
}

var compareCmd = &cobra.Command{
	Use:   "compare [result files]",
	Short: "Summarize saved optimization results",
	RunE:  runCompare,
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the attempt log as JSON",
	Args:  cobra.NoArgs,
	RunE:  runLog,
}

func init() {
	optimizeCmd.Flags().IntVarP(&iterationsFlag, "iterations", "n", 0, "Maximum iterations (0 = OPT_DEFAULT_ITERATIONS)")
	optimizeCmd.Flags().StringVarP(&templateFlag, "template", "t", "", "Prompt template file (default: PROMPT_TEMPLATE_PATH or the built-in template)")
	optimizeCmd.Flags().BoolVar(&rawFlag, "raw", false, "Use the prompt as given instead of wrapping it in the template")

	compareCmd.Flags().StringVarP(&resultsDirFlag, "dir", "d", envOr("RESULTS_DIR", "results"), "Directory of result files")

	logCmd.Flags().StringVar(&csvPathFlag, "csv", envOr("STORE_CSV_PATH", "data/attempts.csv"), "Attempt log file")
	logCmd.Flags().StringVar(&runIDFlag, "run-id", "", "Only print attempts from this run")

	rootCmd.AddCommand(optimizeCmd, compareCmd, logCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// runOptimize runs a single optimization in the foreground. Ctrl-C stops the
// run after the current call; the partial result is still reported.
func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if templateFlag != "" {
		cfg.Prompt.TemplatePath = templateFlag
	}

	iterations := iterationsFlag
	if iterations == 0 {
		iterations = cfg.Optimization.DefaultIterations
	}
	if iterations < 1 || iterations > cfg.Optimization.MaxIterations {
		return fmt.Errorf("iterations must be between 1 and %d", cfg.Optimization.MaxIterations)
	}

	app, err := bootstrap.Build(ctx, cfg, logger.Zap(), bootstrap.Options{
		Reporters: []optimization.Reporter{report.NewConsole(cmd.OutOrStdout())},
		EngineOptions: []optimization.Option{
			optimization.WithIterationCallback(func(i int, a optimization.Attempt) {
				printProgress(cmd, i, a)
			}),
		},
	})
	if err != nil {
		return err
	}

	input := strings.Join(args, " ")
	initial := input
	if !rawFlag {
		initial = app.Template.Format(input)
	}

	result, err := app.Engine.Optimize(ctx, initial, iterations)
	if result != nil && app.Results != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "\nResults saved to %s\n", app.Results.Path(result))
	}
	if err != nil && ctx.Err() != nil {
		logger.Warn("Optimization interrupted", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return err
}

func printProgress(cmd *cobra.Command, i int, a optimization.Attempt) {
	w := cmd.ErrOrStderr()
	if a.Failed() {
		fmt.Fprintf(w, "[%d] error: %s\n", i+1, a.Err)
		return
	}
	fmt.Fprintf(w, "[%d] score %.2f\n", i+1, a.Aggregate())
}

// runCompare loads result files and prints the aggregate comparison.
func runCompare(cmd *cobra.Command, args []string) error {
	var results []*optimization.Result
	if len(args) > 0 {
		for _, path := range args {
			r, err := report.LoadFile(path)
			if err != nil {
				return err
			}
			results = append(results, r)
		}
	} else {
		loaded, err := report.LoadDir(resultsDirFlag)
		if err != nil {
			return err
		}
		results = loaded
	}

	if len(results) == 0 {
		return fmt.Errorf("no optimization results found")
	}
	return printJSON(cmd, report.Compare(results))
}

// runLog prints the CSV attempt log, optionally filtered by run.
func runLog(cmd *cobra.Command, _ []string) error {
	log, err := store.NewCSV(csvPathFlag)
	if err != nil {
		return err
	}
	records, err := log.ReadAll()
	if err != nil {
		return err
	}
	if runIDFlag != "" {
		filtered := records[:0]
		for _, r := range records {
			if r.RunID == runIDFlag {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	return printJSON(cmd, records)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
