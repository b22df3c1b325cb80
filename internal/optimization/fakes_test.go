package optimization

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// scriptedGenerator returns one scripted outcome per call, repeating the last.
type scriptedGenerator struct {
	mu      sync.Mutex
	errs    []error
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (*Generated, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	call := len(g.prompts)
	g.prompts = append(g.prompts, prompt)
	if call < len(g.errs) && g.errs[call] != nil {
		return nil, g.errs[call]
	}
	return &Generated{
		Image: ImageRef{URL: fmt.Sprintf("https://images.test/%d.png", call)},
		Model: "fake",
	}, nil
}

func (g *scriptedGenerator) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// scriptedEvaluator returns scores in order, repeating the last.
type scriptedEvaluator struct {
	mu       sync.Mutex
	scores   []ScoreSet
	feedback []*Feedback
	errs     []error
	requests []EvaluationRequest
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, req EvaluationRequest) (ScoreSet, *Feedback, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	call := len(e.requests)
	e.requests = append(e.requests, req)
	if call < len(e.errs) && e.errs[call] != nil {
		return nil, nil, e.errs[call]
	}

	s := e.scores[len(e.scores)-1]
	if call < len(e.scores) {
		s = e.scores[call]
	}
	var fb *Feedback
	if call < len(e.feedback) {
		fb = e.feedback[call]
	}
	return s, fb, nil
}

// numberedRewriter rewrites to "<original> v<call>".
type numberedRewriter struct {
	mu       sync.Mutex
	requests []RewriteRequest
	output   func(call int, req RewriteRequest) (string, error)
}

func (r *numberedRewriter) Rewrite(_ context.Context, req RewriteRequest) (string, error) {
	r.mu.Lock()
	call := len(r.requests)
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if r.output != nil {
		return r.output(call, req)
	}
	return fmt.Sprintf("%s v%d", req.OriginalPrompt, call+1), nil
}

type recordingRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
	err      error
}

func (r *recordingRecorder) Record(_ context.Context, _ string, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return r.err
}

type recordingReporter struct {
	results []*Result
}

func (r *recordingReporter) Report(_ context.Context, res *Result) error {
	r.results = append(r.results, res)
	return errors.New("report sink unavailable")
}

type countingObserver struct {
	attempts  int
	fallbacks int
	rewrites  int
	reason    Termination
}

func (o *countingObserver) ObserveAttempt(Attempt) { o.attempts++ }

func (o *countingObserver) ObserveRewrite(fallback bool) {
	if fallback {
		o.fallbacks++
		return
	}
	o.rewrites++
}

func (o *countingObserver) ObserveRun(_ *Result, reason Termination) { o.reason = reason }

func numeric(aesthetic, preference float64) NumericScores {
	return NumericScores{
		Aesthetic:  aesthetic,
		Preference: preference,
		Combined:   0.5*aesthetic + 0.5*preference,
	}
}

func structured(score int, allMatch bool) StructuredScores {
	return StructuredScores{
		SubjectMatch:       allMatch,
		ArtTypeMatch:       allMatch,
		ArtStyleMatch:      allMatch,
		ArtMovementMatch:   allMatch,
		OverallPromptMatch: allMatch,
		OverallScore:       score,
	}
}

type panickingGenerator struct{}

func (panickingGenerator) Generate(context.Context, string) (*Generated, error) {
	panic("sdk returned a nil image")
}

type panickingEvaluator struct{}

func (panickingEvaluator) Evaluate(context.Context, EvaluationRequest) (ScoreSet, *Feedback, error) {
	panic("judge sdk bug")
}
