// Package optimization implements the iterative image-prompt optimization
// loop: generate an image, score it, rewrite the prompt from feedback, and
// track the best attempt until the iteration budget runs out or the
// evaluator reports convergence.
package optimization

import (
	"context"
	"time"
)

// Generator turns a prompt into an image.
type Generator interface {
	// Generate returns the generated image. Network, provider and empty
	// result failures are reported as generation errors.
	Generate(ctx context.Context, prompt string) (*Generated, error)
}

// Evaluator scores an image against the prompt that produced it.
type Evaluator interface {
	// Evaluate returns the score set and feedback for one image. It must not
	// retain state between calls.
	Evaluate(ctx context.Context, req EvaluationRequest) (ScoreSet, *Feedback, error)
}

// Rewriter produces a revised prompt from the latest evaluation.
type Rewriter interface {
	// Rewrite returns the next prompt. Implementations return an error
	// instead of an empty string.
	Rewrite(ctx context.Context, req RewriteRequest) (string, error)
}

// Recorder durably logs scored attempts. Failures are logged by the engine
// and never abort a run.
type Recorder interface {
	Record(ctx context.Context, runID string, attempt Attempt) error
}

// Reporter publishes the final result bundle of a run.
type Reporter interface {
	Report(ctx context.Context, result *Result) error
}

// IterationCallback is invoked after every attempt is appended to history.
type IterationCallback func(iteration int, attempt Attempt)

// ImageRef is an opaque handle to a generated image. Either URL or Data is
// set, sometimes both after a download.
type ImageRef struct {
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"-"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Empty reports whether the reference points at nothing.
func (r ImageRef) Empty() bool {
	return r.URL == "" && len(r.Data) == 0
}

// Generated is the outcome of one generation call.
type Generated struct {
	Image   ImageRef
	Model   string
	Latency time.Duration
}

// EvaluationRequest carries everything an evaluator may look at.
type EvaluationRequest struct {
	Image  ImageRef
	Prompt string
	// DesiredPrompt is the prompt the user originally asked for.
	DesiredPrompt string
	// PreviousFeedback summarizes only the immediately preceding attempt.
	PreviousFeedback string
}

// RewriteRequest carries the inputs of one rewrite step.
type RewriteRequest struct {
	OriginalPrompt string
	CurrentPrompt  string
	CurrentScore   float64
	// Feedback is the summary of the attempt that was just evaluated.
	Feedback string
	// Suggestion is the evaluator's own revised prompt, when it offers one.
	Suggestion string
}

// Feedback holds the evaluator's free-text critique.
type Feedback struct {
	Reasoning           string `json:"reasoning,omitempty"`
	Subject             string `json:"subject,omitempty"`
	ArtType             string `json:"art_type,omitempty"`
	ArtStyle            string `json:"art_style,omitempty"`
	ArtMovement         string `json:"art_movement,omitempty"`
	OverallPrompt       string `json:"overall_prompt,omitempty"`
	ConflictDescription string `json:"conflict_description,omitempty"`
	RevisedPrompt       string `json:"revised_prompt,omitempty"`
}

// Attempt is the recorded outcome of one generate and evaluate cycle.
// Attempts are values; the engine never mutates one after appending it.
type Attempt struct {
	Iteration         int           `json:"iteration"`
	Prompt            string        `json:"prompt"`
	Image             ImageRef      `json:"image"`
	Scores            ScoreSet      `json:"scores,omitempty"`
	Feedback          *Feedback     `json:"feedback,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
	GenerationLatency time.Duration `json:"generation_latency"`
	EvaluationLatency time.Duration `json:"evaluation_latency,omitempty"`
	// Err is set on error-tagged entries, which carry no scores.
	Err string `json:"error,omitempty"`
}

// Failed reports whether the attempt is an error-tagged entry.
func (a Attempt) Failed() bool {
	return a.Err != "" || a.Scores == nil
}

// Aggregate returns the attempt's comparable score, or 0 for failed entries.
func (a Attempt) Aggregate() float64 {
	if a.Scores == nil {
		return 0
	}
	return a.Scores.Aggregate()
}

// Result is the outcome of one optimization run.
type Result struct {
	RunID          string `json:"run_id"`
	OriginalPrompt string `json:"original_prompt"`
	// FinalPrompt is the prompt of the best attempt, or the original prompt
	// when no attempt could be scored.
	FinalPrompt         string    `json:"final_prompt"`
	Best                *Attempt  `json:"best,omitempty"`
	History             []Attempt `json:"history"`
	IterationsCompleted int       `json:"iterations_completed"`
	Converged           bool      `json:"converged"`
	Cancelled           bool      `json:"cancelled,omitempty"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
}

// BestScore returns the aggregate of the best attempt, or 0 without one.
func (r *Result) BestScore() float64 {
	if r == nil || r.Best == nil {
		return 0
	}
	return r.Best.Aggregate()
}

// Failures counts the error-tagged entries in the history.
func (r *Result) Failures() int {
	n := 0
	for _, a := range r.History {
		if a.Failed() {
			n++
		}
	}
	return n
}
