// Package report publishes finished optimization runs and compares them.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// Multi runs several reporters. Every reporter is tried; the joined error
// reports all failures.
type Multi []optimization.Reporter

// Report implements optimization.Reporter.
func (m Multi) Report(ctx context.Context, result *optimization.Result) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Report(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Console prints a human-readable summary.
type Console struct {
	w io.Writer
}

// NewConsole creates a reporter writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Report implements optimization.Reporter.
func (c *Console) Report(_ context.Context, result *optimization.Result) error {
	if result == nil {
		return nil
	}
	_, err := io.WriteString(c.w, Summary(result))
	return err
}

// Summary renders a run the way the CLI prints it.
func Summary(r *optimization.Result) string {
	var b strings.Builder
	rule := strings.Repeat("=", 50)

	fmt.Fprintf(&b, "\nOPTIMIZATION SUMMARY\n%s\n", rule)
	fmt.Fprintf(&b, "Run ID: %s\n", r.RunID)
	fmt.Fprintf(&b, "Original Prompt: %s\n", r.OriginalPrompt)
	fmt.Fprintf(&b, "Final Prompt: %s\n", r.FinalPrompt)
	fmt.Fprintf(&b, "Best Score: %.2f\n", r.BestScore())
	fmt.Fprintf(&b, "Iterations: %d\n", r.IterationsCompleted)
	switch {
	case r.Converged:
		b.WriteString("Stopped: converged\n")
	case r.Cancelled:
		b.WriteString("Stopped: cancelled\n")
	}

	if best := r.Best; best != nil {
		b.WriteString("\nBEST IMAGE:\n")
		switch s := best.Scores.(type) {
		case optimization.NumericScores:
			fmt.Fprintf(&b, "Aesthetic Score: %.2f\n", s.Aesthetic)
			fmt.Fprintf(&b, "Preference Score: %.2f\n", s.Preference)
		case optimization.StructuredScores:
			fmt.Fprintf(&b, "Overall Score: %d/10\n", s.OverallScore)
		}
		if best.Image.URL != "" {
			fmt.Fprintf(&b, "Image URL: %s\n", best.Image.URL)
		}
	}

	b.WriteString("\nITERATION HISTORY:\n")
	for _, a := range r.History {
		if a.Failed() {
			fmt.Fprintf(&b, "  %d. ERROR: %s\n", a.Iteration, a.Err)
			continue
		}
		fmt.Fprintf(&b, "  %d. Score: %.2f | Prompt: %s\n", a.Iteration, a.Aggregate(), clip(a.Prompt, 60))
	}
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
