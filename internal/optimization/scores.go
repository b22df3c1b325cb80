package optimization

import (
	"encoding/json"
	"fmt"
)

// Variant names the kind of score set an evaluator produces.
type Variant string

const (
	// VariantNumeric is a weighted combination of model-predicted scores.
	VariantNumeric Variant = "numeric"
	// VariantStructured is a multimodal judge's per-axis verdict.
	VariantStructured Variant = "structured"
)

// ScoreSet is the evaluator's verdict for one image. The engine only compares
// aggregates and asks whether the verdict means the prompt is done.
type ScoreSet interface {
	// Aggregate returns a single comparable number. Higher is better.
	Aggregate() float64
	// Converged reports whether the loop may stop early.
	Converged() bool
	// Variant reports which evaluator produced the set.
	Variant() Variant
}

// NumericScores holds two model-predicted scores and their weighted sum.
type NumericScores struct {
	Aesthetic  float64 `json:"aesthetic"`
	Preference float64 `json:"preference"`
	Combined   float64 `json:"combined"`
}

// Aggregate returns the combined score.
func (s NumericScores) Aggregate() float64 { return s.Combined }

// Converged is always false: numeric scores have no early-exit threshold.
func (s NumericScores) Converged() bool { return false }

// Variant returns VariantNumeric.
func (s NumericScores) Variant() Variant { return VariantNumeric }

// StructuredScores holds a judge's per-axis match verdicts.
type StructuredScores struct {
	SubjectMatch           bool `json:"subject_match"`
	ArtTypeMatch           bool `json:"art_type_match"`
	ArtStyleMatch          bool `json:"art_style_match"`
	ArtMovementMatch       bool `json:"art_movement_match"`
	OverallPromptMatch     bool `json:"overall_prompt_match"`
	HasConflictingElements bool `json:"has_conflicting_elements"`
	// OverallScore is in [1, 10].
	OverallScore int `json:"overall_score"`
}

// Aggregate returns the overall score.
func (s StructuredScores) Aggregate() float64 { return float64(s.OverallScore) }

// Converged reports whether every axis matches and nothing conflicts.
func (s StructuredScores) Converged() bool {
	return s.SubjectMatch &&
		s.ArtTypeMatch &&
		s.ArtStyleMatch &&
		s.ArtMovementMatch &&
		s.OverallPromptMatch &&
		!s.HasConflictingElements
}

// Variant returns VariantStructured.
func (s StructuredScores) Variant() Variant { return VariantStructured }

// MarshalScores encodes a score set together with its variant tag.
func MarshalScores(s ScoreSet) ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(struct {
		Variant Variant  `json:"variant"`
		Values  ScoreSet `json:"values"`
	}{s.Variant(), s})
}

// UnmarshalScores decodes the output of MarshalScores.
func UnmarshalScores(data []byte) (ScoreSet, error) {
	if string(data) == "null" || len(data) == 0 {
		return nil, nil
	}
	var env struct {
		Variant Variant         `json:"variant"`
		Values  json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Variant {
	case VariantNumeric:
		var s NumericScores
		if err := json.Unmarshal(env.Values, &s); err != nil {
			return nil, err
		}
		return s, nil
	case VariantStructured:
		var s StructuredScores
		if err := json.Unmarshal(env.Values, &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown score variant %q", env.Variant)
	}
}

// MarshalJSON writes the tagged score set so results can be read back.
func (a Attempt) MarshalJSON() ([]byte, error) {
	type plain Attempt
	scores, err := MarshalScores(a.Scores)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		Scores json.RawMessage `json:"scores"`
	}{plain(a), scores})
}

// UnmarshalJSON reverses MarshalJSON.
func (a *Attempt) UnmarshalJSON(data []byte) error {
	type plain Attempt
	aux := struct {
		*plain
		Scores json.RawMessage `json:"scores"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	scores, err := UnmarshalScores(aux.Scores)
	if err != nil {
		return err
	}
	a.Scores = scores
	return nil
}
