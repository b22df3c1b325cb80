// Package store persists scored attempts as they happen.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// Record is the flattened row written for every scored attempt.
type Record struct {
	RunID     string    `json:"run_id" dynamodbav:"run_id"`
	Iteration int       `json:"iteration" dynamodbav:"iteration"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
	Prompt    string    `json:"prompt" dynamodbav:"prompt"`
	ImageURL  string    `json:"image_url,omitempty" dynamodbav:"image_url,omitempty"`
	Variant   string    `json:"variant" dynamodbav:"variant"`
	Score     float64   `json:"score" dynamodbav:"score"`

	Aesthetic  float64 `json:"aesthetic,omitempty" dynamodbav:"aesthetic,omitempty"`
	Preference float64 `json:"preference,omitempty" dynamodbav:"preference,omitempty"`

	SubjectMatch       bool `json:"subject_match" dynamodbav:"subject_match"`
	ArtTypeMatch       bool `json:"art_type_match" dynamodbav:"art_type_match"`
	ArtStyleMatch      bool `json:"art_style_match" dynamodbav:"art_style_match"`
	ArtMovementMatch   bool `json:"art_movement_match" dynamodbav:"art_movement_match"`
	OverallPromptMatch bool `json:"overall_prompt_match" dynamodbav:"overall_prompt_match"`
	HasConflicts       bool `json:"has_conflicting_elements" dynamodbav:"has_conflicting_elements"`

	Reasoning     string `json:"reasoning,omitempty" dynamodbav:"reasoning,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty" dynamodbav:"revised_prompt,omitempty"`
}

// NewRecord flattens a scored attempt.
func NewRecord(runID string, a optimization.Attempt) Record {
	r := Record{
		RunID:     runID,
		Iteration: a.Iteration,
		Timestamp: a.Timestamp.UTC(),
		Prompt:    a.Prompt,
		ImageURL:  a.Image.URL,
		Score:     a.Aggregate(),
	}

	switch s := a.Scores.(type) {
	case optimization.NumericScores:
		r.Variant = string(s.Variant())
		r.Aesthetic = s.Aesthetic
		r.Preference = s.Preference
	case optimization.StructuredScores:
		r.Variant = string(s.Variant())
		r.SubjectMatch = s.SubjectMatch
		r.ArtTypeMatch = s.ArtTypeMatch
		r.ArtStyleMatch = s.ArtStyleMatch
		r.ArtMovementMatch = s.ArtMovementMatch
		r.OverallPromptMatch = s.OverallPromptMatch
		r.HasConflicts = s.HasConflictingElements
	}

	if a.Feedback != nil {
		r.Reasoning = a.Feedback.Reasoning
		r.RevisedPrompt = a.Feedback.RevisedPrompt
	}
	return r
}

// Key identifies a record. Keys of one run sort by iteration as text.
func (r Record) Key() string {
	return r.RunID + "#" + iterationKey(r.Iteration)
}

func iterationKey(i int) string {
	return fmt.Sprintf("%04d", i)
}

// Multi fans a record out to several recorders. Every recorder is tried;
// the joined error reports all failures.
type Multi []optimization.Recorder

// Record implements optimization.Recorder.
func (m Multi) Record(ctx context.Context, runID string, attempt optimization.Attempt) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, runID, attempt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
