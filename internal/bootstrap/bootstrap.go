// Package bootstrap assembles an optimization engine and its collaborators
// from configuration. Both the HTTP server and the CLI start here.
package bootstrap

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/copyleftdev/promptforge/internal/config"
	"github.com/copyleftdev/promptforge/internal/gemini"
	"github.com/copyleftdev/promptforge/internal/metrics"
	"github.com/copyleftdev/promptforge/internal/optimization"
	"github.com/copyleftdev/promptforge/internal/optimization/generation"
	"github.com/copyleftdev/promptforge/internal/optimization/rewrite"
	"github.com/copyleftdev/promptforge/internal/optimization/scoring"
	"github.com/copyleftdev/promptforge/internal/prompt"
	"github.com/copyleftdev/promptforge/internal/report"
	"github.com/copyleftdev/promptforge/internal/store"
)

// Options overrides external dependencies. Zero values build real clients.
type Options struct {
	// Registerer receives the engine metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	// HTTPClient is used for FAL, scorer and image download requests.
	HTTPClient *http.Client
	// Models replaces the Gemini client.
	Models gemini.Models
	// AWS replaces the default AWS configuration.
	AWS *aws.Config
	// Reporters are appended after the configured ones.
	Reporters []optimization.Reporter
	// EngineOptions are applied after the configured ones.
	EngineOptions []optimization.Option
}

// App is a ready-to-run engine plus the pieces the outer shells need.
type App struct {
	Engine   *optimization.Engine
	Template *prompt.Template
	Log      *store.CSV
	Metrics  *metrics.Metrics
	Results  *report.JSONFile
}

// Build wires every collaborator named by cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.Generation.Timeout * 2}
	}

	tmpl, err := prompt.Load(cfg.Prompt.TemplatePath)
	if err != nil {
		return nil, err
	}

	models, err := geminiModels(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	gen, err := newGenerator(cfg, models, opts.HTTPClient, logger)
	if err != nil {
		return nil, err
	}
	// The judge and the rewriter share one text-model quota.
	var text gemini.ContentGenerator
	if models != nil {
		text = gemini.NewThrottled(models, cfg.Gemini.RPS)
	}

	eval, err := newEvaluator(cfg, text, opts.HTTPClient, logger)
	if err != nil {
		return nil, err
	}
	rw, err := newRewriter(cfg, text, logger)
	if err != nil {
		return nil, err
	}

	app := &App{Template: tmpl}

	awsCfg := opts.AWS
	if awsCfg == nil && (cfg.Store.DynamoTable != "" || cfg.Report.S3Bucket != "") {
		loaded, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Store.AWSRegion))
		if err != nil {
			return nil, optimization.WrapError(optimization.KindConfiguration, err, "failed to load AWS configuration").
				WithComponent("bootstrap")
		}
		awsCfg = &loaded
	}

	var recorders store.Multi
	if cfg.Store.CSVPath != "" {
		if app.Log, err = store.NewCSV(cfg.Store.CSVPath); err != nil {
			return nil, err
		}
		recorders = append(recorders, app.Log)
	}
	if cfg.Store.DynamoTable != "" {
		d, err := store.NewDynamo(dynamodb.NewFromConfig(*awsCfg), cfg.Store.DynamoTable)
		if err != nil {
			return nil, err
		}
		recorders = append(recorders, d)
	}

	var reporters report.Multi
	if cfg.Report.ResultsDir != "" {
		if app.Results, err = report.NewJSONFile(cfg.Report.ResultsDir); err != nil {
			return nil, err
		}
		reporters = append(reporters, app.Results)
	}
	if cfg.Report.S3Bucket != "" {
		r, err := report.NewS3(s3.NewFromConfig(*awsCfg), cfg.Report.S3Bucket, cfg.Report.S3Prefix)
		if err != nil {
			return nil, err
		}
		reporters = append(reporters, r)
	}
	reporters = append(reporters, opts.Reporters...)

	engineOpts := []optimization.Option{
		optimization.WithLogger(logger),
		optimization.WithTimeouts(optimization.Timeouts{
			Generation: cfg.Generation.Timeout,
			Evaluation: cfg.Evaluation.Timeout,
			Rewrite:    cfg.Rewrite.Timeout,
		}),
	}
	if len(recorders) > 0 {
		engineOpts = append(engineOpts, optimization.WithRecorder(recorders))
	}
	if len(reporters) > 0 {
		engineOpts = append(engineOpts, optimization.WithReporter(reporters))
	}
	if opts.Registerer != nil {
		if app.Metrics, err = metrics.New(opts.Registerer); err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, optimization.WithObserver(app.Metrics))
	}
	engineOpts = append(engineOpts, opts.EngineOptions...)

	if app.Engine, err = optimization.NewEngine(gen, eval, rw, engineOpts...); err != nil {
		return nil, err
	}

	logger.Info("Engine ready",
		zap.String("generator", cfg.Generation.Provider),
		zap.String("evaluator", cfg.Evaluation.Mode),
		zap.Bool("rewrite_enabled", cfg.Rewrite.Enabled),
		zap.Int("recorders", len(recorders)),
		zap.Int("reporters", len(reporters)),
	)
	return app, nil
}

func needsGemini(cfg *config.Config) bool {
	return cfg.Generation.Provider == config.ProviderImagen ||
		cfg.Evaluation.Mode == config.EvaluatorStructured ||
		cfg.Rewrite.Enabled
}

func geminiModels(ctx context.Context, cfg *config.Config, opts Options) (gemini.Models, error) {
	if opts.Models != nil {
		return opts.Models, nil
	}
	if !needsGemini(cfg) {
		return nil, nil
	}
	client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey)
	if err != nil {
		return nil, err
	}
	return client.Models, nil
}

func newGenerator(cfg *config.Config, models gemini.Models, client *http.Client, logger *zap.Logger) (optimization.Generator, error) {
	switch cfg.Generation.Provider {
	case config.ProviderImagen:
		return generation.NewImagen(
			gemini.NewThrottled(models, cfg.Generation.RPS),
			cfg.Generation.ImagenModel,
			cfg.Generation.AspectRatio,
			logger,
		)
	case config.ProviderFal:
		return generation.NewFal(generation.FalConfig{
			APIKey:      cfg.Generation.FalKey,
			Model:       cfg.Generation.FalModel,
			BaseURL:     cfg.Generation.FalBaseURL,
			AspectRatio: cfg.Generation.AspectRatio,
			RPS:         cfg.Generation.RPS,
			HTTPClient:  client,
			Logger:      logger,
		})
	default:
		return nil, optimization.ConfigurationError("bootstrap", "unknown generation provider "+cfg.Generation.Provider)
	}
}

func newEvaluator(cfg *config.Config, text gemini.ContentGenerator, client *http.Client, logger *zap.Logger) (optimization.Evaluator, error) {
	switch cfg.Evaluation.Mode {
	case config.EvaluatorStructured:
		return scoring.NewStructured(
			text,
			cfg.Gemini.Model,
			generation.NewFetcher(client),
			logger,
		)
	case config.EvaluatorNumeric:
		aesthetic, err := scoring.NewHTTPScorer(cfg.Evaluation.AestheticScorerURL, client)
		if err != nil {
			return nil, err
		}
		preference, err := scoring.NewHTTPScorer(cfg.Evaluation.PreferenceScorerURL, client)
		if err != nil {
			return nil, err
		}
		weights := scoring.Weights{
			Aesthetic:  cfg.Evaluation.AestheticWeight,
			Preference: cfg.Evaluation.PreferenceWeight,
		}
		return scoring.NewNumeric(aesthetic, preference, weights, logger)
	default:
		return nil, optimization.ConfigurationError("bootstrap", "unknown evaluator mode "+cfg.Evaluation.Mode)
	}
}

// newRewriter prefers the evaluator's own suggestion. With rewriting
// disabled a run can still follow judge suggestions but never calls a model.
func newRewriter(cfg *config.Config, text gemini.ContentGenerator, logger *zap.Logger) (optimization.Rewriter, error) {
	if !cfg.Rewrite.Enabled {
		return rewrite.NewSuggestion(nil), nil
	}
	llm, err := rewrite.NewGemini(text, cfg.Gemini.Model, logger)
	if err != nil {
		return nil, err
	}
	return rewrite.NewSuggestion(llm), nil
}
