// Package scoring provides the numeric and structured image evaluators.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// weightTolerance bounds how far the weights may sum away from 1.
const weightTolerance = 1e-9

// SubScorer predicts one quality score for an image.
type SubScorer interface {
	Score(ctx context.Context, image optimization.ImageRef, prompt string) (float64, error)
}

// Weights are the coefficients of the aesthetic and preference scores.
type Weights struct {
	Aesthetic  float64
	Preference float64
}

// DefaultWeights weigh both scores equally.
var DefaultWeights = Weights{Aesthetic: 0.5, Preference: 0.5}

// Validate checks that both weights lie in [0, 1] and sum to 1.
func (w Weights) Validate() error {
	ws := w.vector()
	for _, v := range ws {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return optimization.ConfigurationError("scoring",
				fmt.Sprintf("weights must lie in [0, 1], got aesthetic=%g preference=%g", w.Aesthetic, w.Preference))
		}
	}
	if sum := floats.Sum(ws); !scalar.EqualWithinAbs(sum, 1, weightTolerance) {
		return optimization.ConfigurationError("scoring",
			fmt.Sprintf("weights must sum to 1, got %g", sum))
	}
	return nil
}

// Combine returns the weighted sum of the two scores.
func (w Weights) Combine(aesthetic, preference float64) float64 {
	return floats.Dot(w.vector(), []float64{aesthetic, preference})
}

func (w Weights) vector() []float64 {
	return []float64{w.Aesthetic, w.Preference}
}

// Numeric combines an aesthetic predictor and a human-preference predictor.
// A failing predictor scores 0 for its axis instead of failing the
// evaluation.
type Numeric struct {
	aesthetic  SubScorer
	preference SubScorer
	weights    Weights
	logger     *zap.Logger
}

// NewNumeric validates the weights once and builds the evaluator.
func NewNumeric(aesthetic, preference SubScorer, weights Weights, logger *zap.Logger) (*Numeric, error) {
	if aesthetic == nil || preference == nil {
		return nil, optimization.ConfigurationError("scoring", "numeric evaluator requires both sub-scorers")
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Numeric{
		aesthetic:  aesthetic,
		preference: preference,
		weights:    weights,
		logger:     logger.Named("numeric_evaluator"),
	}, nil
}

// Evaluate runs both predictors concurrently and combines their scores.
func (n *Numeric) Evaluate(ctx context.Context, req optimization.EvaluationRequest) (optimization.ScoreSet, *optimization.Feedback, error) {
	var (
		wg                    sync.WaitGroup
		aesthetic, preference float64
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		aesthetic = n.score(ctx, "aesthetic", n.aesthetic, req)
	}()
	go func() {
		defer wg.Done()
		preference = n.score(ctx, "preference", n.preference, req)
	}()
	wg.Wait()

	scores := optimization.NumericScores{
		Aesthetic:  aesthetic,
		Preference: preference,
		Combined:   n.weights.Combine(aesthetic, preference),
	}
	return scores, nil, nil
}

func (n *Numeric) score(ctx context.Context, axis string, s SubScorer, req optimization.EvaluationRequest) (v float64) {
	// Runs on its own goroutine, so a panic here cannot be recovered by the
	// caller.
	defer func() {
		if p := recover(); p != nil {
			n.logger.Error("Sub-scorer panicked, scoring axis as 0",
				zap.String("axis", axis),
				zap.Any("panic", p),
			)
			v = 0
		}
	}()

	v, err := s.Score(ctx, req.Image, req.Prompt)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("non-finite score %v", v)
	}
	if err != nil {
		n.logger.Warn("Sub-scorer failed, scoring axis as 0",
			zap.String("axis", axis),
			zap.Error(err),
		)
		return 0
	}
	return v
}
