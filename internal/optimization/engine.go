package optimization

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine drives the generate, evaluate, rewrite loop. An Engine holds no
// per-run state, so one instance may serve concurrent runs.
type Engine struct {
	generator Generator
	evaluator Evaluator
	rewriter  Rewriter
	recorder  Recorder
	reporter  Reporter
	observer  Observer
	callback  IterationCallback

	timeouts Timeouts
	logger   *zap.Logger
	newID    func() string
	now      func() time.Time
}

// NewEngine creates an engine from its three required collaborators.
func NewEngine(gen Generator, eval Evaluator, rw Rewriter, opts ...Option) (*Engine, error) {
	switch {
	case gen == nil:
		return nil, ConfigurationError("engine", "generator is required")
	case eval == nil:
		return nil, ConfigurationError("engine", "evaluator is required")
	case rw == nil:
		return nil, ConfigurationError("engine", "rewriter is required")
	}

	e := &Engine{
		generator: gen,
		evaluator: eval,
		rewriter:  rw,
		timeouts:  Timeouts{}.withDefaults(),
		logger:    zap.NewNop(),
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")
	return e, nil
}

type (
	runIDKey    struct{}
	callbackKey struct{}
)

// ContextWithRunID makes Optimize use id instead of generating a run ID.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// ContextWithIterationCallback registers cb for the single run started with
// ctx. It is called after the engine-wide callback.
func ContextWithIterationCallback(ctx context.Context, cb IterationCallback) context.Context {
	return context.WithValue(ctx, callbackKey{}, cb)
}

// run is the mutable state owned by a single Optimize call.
type run struct {
	result  *Result
	current string
	logger  *zap.Logger
}

// Optimize improves initialPrompt for at most maxIterations attempts.
//
// Collaborator failures never escape: they become error-tagged history
// entries or keep the current prompt. Only misuse and cancellation are
// returned as errors, and cancellation still returns the partial result.
func (e *Engine) Optimize(ctx context.Context, initialPrompt string, maxIterations int) (*Result, error) {
	if maxIterations < 1 {
		return nil, NewErrorf(KindConfiguration, "max iterations must be at least 1, got %d", maxIterations).
			WithOperation("optimize")
	}
	if strings.TrimSpace(initialPrompt) == "" {
		return nil, NewError(KindConfiguration, "prompt must not be empty").WithOperation("optimize")
	}

	runID, _ := ctx.Value(runIDKey{}).(string)
	if runID == "" {
		runID = e.newID()
	}

	r := &run{
		result: &Result{
			RunID:          runID,
			OriginalPrompt: initialPrompt,
			FinalPrompt:    initialPrompt,
			History:        make([]Attempt, 0, maxIterations),
			StartedAt:      e.now(),
		},
		current: initialPrompt,
		logger:  e.logger.With(zap.String("run_id", runID)),
	}
	r.logger.Info("Starting optimization",
		zap.String("prompt", initialPrompt),
		zap.Int("max_iterations", maxIterations),
	)

	reason := TerminationBudget
	var runErr error

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			reason = TerminationCancelled
			runErr = err
			r.result.Cancelled = true
			r.logger.Warn("Optimization cancelled", zap.Int("iteration", iteration), zap.Error(err))
			break
		}

		attempt, ok := e.attempt(ctx, r, iteration)
		e.appendAttempt(ctx, r, attempt)
		if !ok {
			continue
		}

		if attempt.Scores.Converged() {
			reason = TerminationConverged
			r.result.Converged = true
			r.logger.Info("Prompt converged", zap.Int("iteration", iteration))
			break
		}

		if iteration < maxIterations-1 {
			e.rewrite(ctx, r, attempt)
		}
	}

	return e.finish(ctx, r, reason), runErr
}

// attempt runs one generate and evaluate cycle. It reports false when the
// returned attempt is error-tagged.
func (e *Engine) attempt(ctx context.Context, r *run, iteration int) (Attempt, bool) {
	attempt := Attempt{
		Iteration: iteration,
		Prompt:    r.current,
		Timestamp: e.now(),
	}
	logger := r.logger.With(zap.Int("iteration", iteration))

	genCtx, cancel := context.WithTimeout(ctx, e.timeouts.Generation)
	start := time.Now()
	generated, err := e.safeGenerate(genCtx, r.current)
	cancel()
	attempt.GenerationLatency = time.Since(start)
	if err == nil && (generated == nil || generated.Image.Empty()) {
		err = GenerationError(nil, "generator returned no image")
	}
	if err != nil {
		err = GenerationError(err, "image generation failed").WithOperation("generate")
		logger.Warn("Generation failed", zap.Error(err))
		attempt.Err = err.Error()
		return attempt, false
	}
	if generated.Latency > 0 {
		attempt.GenerationLatency = generated.Latency
	}
	attempt.Image = generated.Image

	var previous *Attempt
	if n := len(r.result.History); n > 0 {
		previous = &r.result.History[n-1]
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeouts.Evaluation)
	start = time.Now()
	scores, feedback, err := e.safeEvaluate(evalCtx, EvaluationRequest{
		Image:            generated.Image,
		Prompt:           r.current,
		DesiredPrompt:    r.result.OriginalPrompt,
		PreviousFeedback: SummarizeFeedback(previous, r.result.Best),
	})
	cancel()
	attempt.EvaluationLatency = time.Since(start)
	if err == nil && scores == nil {
		err = EvaluationError(nil, "evaluator returned no scores")
	}
	if err != nil {
		err = EvaluationError(err, "image evaluation failed").WithOperation("evaluate")
		logger.Warn("Evaluation failed", zap.Error(err))
		attempt.Err = err.Error()
		return attempt, false
	}

	attempt.Scores = scores
	attempt.Feedback = feedback
	logger.Info("Attempt scored",
		zap.Float64("score", scores.Aggregate()),
		zap.String("variant", string(scores.Variant())),
		zap.Duration("generation_latency", attempt.GenerationLatency),
		zap.Duration("evaluation_latency", attempt.EvaluationLatency),
	)
	return attempt, true
}

// appendAttempt records the attempt in history, moves the best pointer and
// notifies the recorder, observer and callback.
func (e *Engine) appendAttempt(ctx context.Context, r *run, attempt Attempt) {
	r.result.History = append(r.result.History, attempt)
	r.result.IterationsCompleted = len(r.result.History)

	if !attempt.Failed() {
		if r.result.Best == nil || attempt.Aggregate() > r.result.Best.Aggregate() {
			best := attempt
			r.result.Best = &best
			r.result.FinalPrompt = best.Prompt
		}

		if e.recorder != nil {
			if err := e.recorder.Record(ctx, r.result.RunID, attempt); err != nil {
				r.logger.Warn("Failed to record attempt",
					zap.Int("iteration", attempt.Iteration),
					zap.Error(err),
				)
			}
		}
	}

	if e.observer != nil {
		e.observer.ObserveAttempt(attempt)
	}
	if e.callback != nil {
		e.callback(attempt.Iteration, attempt)
	}
	if cb, _ := ctx.Value(callbackKey{}).(IterationCallback); cb != nil {
		cb(attempt.Iteration, attempt)
	}
}

// rewrite replaces the current prompt with the rewriter's output. Errors,
// panics and blank output leave the current prompt untouched.
func (e *Engine) rewrite(ctx context.Context, r *run, attempt Attempt) {
	req := RewriteRequest{
		OriginalPrompt: r.result.OriginalPrompt,
		CurrentPrompt:  r.current,
		CurrentScore:   attempt.Aggregate(),
		Feedback:       SummarizeFeedback(&attempt, r.result.Best),
	}
	if attempt.Feedback != nil {
		req.Suggestion = attempt.Feedback.RevisedPrompt
	}

	rwCtx, cancel := context.WithTimeout(ctx, e.timeouts.Rewrite)
	defer cancel()

	revised, err := e.safeRewrite(rwCtx, req)
	if err == nil && strings.TrimSpace(revised) == "" {
		err = RewriteError(nil, "rewriter returned an empty prompt")
	}
	if err != nil {
		r.logger.Warn("Rewrite failed, keeping current prompt",
			zap.Int("iteration", attempt.Iteration),
			zap.Error(err),
		)
		if e.observer != nil {
			e.observer.ObserveRewrite(true)
		}
		return
	}

	r.current = strings.TrimSpace(revised)
	if e.observer != nil {
		e.observer.ObserveRewrite(false)
	}
	r.logger.Debug("Prompt rewritten",
		zap.Int("iteration", attempt.Iteration),
		zap.String("prompt", r.current),
	)
}

func (e *Engine) safeGenerate(ctx context.Context, prompt string) (generated *Generated, err error) {
	defer func() {
		if p := recover(); p != nil {
			generated, err = nil, GenerationError(fmt.Errorf("panic: %v", p), "generator panicked")
		}
	}()
	return e.generator.Generate(ctx, prompt)
}

func (e *Engine) safeEvaluate(ctx context.Context, req EvaluationRequest) (scores ScoreSet, feedback *Feedback, err error) {
	defer func() {
		if p := recover(); p != nil {
			scores, feedback, err = nil, nil, EvaluationError(fmt.Errorf("panic: %v", p), "evaluator panicked")
		}
	}()
	return e.evaluator.Evaluate(ctx, req)
}

func (e *Engine) safeRewrite(ctx context.Context, req RewriteRequest) (revised string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = RewriteError(fmt.Errorf("panic: %v", p), "rewriter panicked")
		}
	}()
	return e.rewriter.Rewrite(ctx, req)
}

func (e *Engine) finish(ctx context.Context, r *run, reason Termination) *Result {
	r.result.FinishedAt = e.now()

	r.logger.Info("Optimization finished",
		zap.String("reason", string(reason)),
		zap.Int("iterations", r.result.IterationsCompleted),
		zap.Int("failures", r.result.Failures()),
		zap.Float64("best_score", r.result.BestScore()),
		zap.String("final_prompt", r.result.FinalPrompt),
	)

	if e.observer != nil {
		e.observer.ObserveRun(r.result, reason)
	}
	if e.reporter != nil {
		// A cancelled run still gets reported.
		if err := e.reporter.Report(context.WithoutCancel(ctx), r.result); err != nil {
			r.logger.Warn("Failed to report result", zap.Error(err))
		}
	}
	return r.result
}
