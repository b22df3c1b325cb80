package optimization

import (
	"time"

	"go.uber.org/zap"
)

// Default per-call timeouts.
const (
	DefaultGenerationTimeout = 60 * time.Second
	DefaultEvaluationTimeout = 60 * time.Second
	DefaultRewriteTimeout    = 30 * time.Second
)

// Termination describes why a run stopped.
type Termination string

const (
	TerminationBudget    Termination = "budget"
	TerminationConverged Termination = "converged"
	TerminationCancelled Termination = "cancelled"
)

// Observer receives engine events, typically to export them as metrics.
type Observer interface {
	ObserveAttempt(attempt Attempt)
	ObserveRewrite(fallback bool)
	ObserveRun(result *Result, reason Termination)
}

// Timeouts bounds each collaborator call. Zero values select the defaults.
type Timeouts struct {
	Generation time.Duration
	Evaluation time.Duration
	Rewrite    time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Generation <= 0 {
		t.Generation = DefaultGenerationTimeout
	}
	if t.Evaluation <= 0 {
		t.Evaluation = DefaultEvaluationTimeout
	}
	if t.Rewrite <= 0 {
		t.Rewrite = DefaultRewriteTimeout
	}
	return t
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the collaborator that logs scored attempts.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithReporter sets the collaborator that publishes final results.
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithObserver sets the engine event observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithTimeouts overrides the per-call timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(e *Engine) { e.timeouts = t.withDefaults() }
}

// WithIterationCallback registers a function called after every attempt.
func WithIterationCallback(cb IterationCallback) Option {
	return func(e *Engine) { e.callback = cb }
}

// WithIDGenerator overrides how run IDs are produced.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithClock overrides the time source. Tests use it for stable timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
