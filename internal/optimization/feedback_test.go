package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeFeedback(t *testing.T) {
	conflicted := structured(6, true)
	conflicted.HasConflictingElements = true
	conflicted.ArtStyleMatch = false

	tests := []struct {
		name     string
		last     *Attempt
		best     *Attempt
		contains []string
		excludes []string
	}{
		{
			name:     "no previous attempt",
			contains: []string{NoPreviousAttempts},
		},
		{
			name:     "failed attempt",
			last:     &Attempt{Prompt: "a fox", Err: "generation failed: timeout"},
			contains: []string{"Previous attempt failed", "timeout", "Prompt: a fox"},
		},
		{
			name:     "numeric attempt reports previous best",
			last:     &Attempt{Prompt: "a fox", Scores: numeric(5.5, 6.5)},
			best:     &Attempt{Prompt: "a red fox", Scores: numeric(7, 7)},
			contains: []string{"aesthetic score: 5.50", "preference score: 6.50", "combined score: 6.00", "Previous best: 7.00"},
		},
		{
			name: "structured attempt lists axes and conflicts",
			last: &Attempt{
				Prompt: "a fox in watercolor",
				Scores: conflicted,
				Feedback: &Feedback{
					ArtStyle:            "looks like an oil painting",
					ConflictDescription: "night sky with midday shadows",
				},
			},
			contains: []string{
				"Prompt: a fox in watercolor",
				"Overall score: 6/10",
				"Subject: match",
				"Style: looks like an oil painting (mismatch)",
				"Conflicts: night sky with midday shadows",
			},
		},
		{
			name:     "structured attempt without conflicts",
			last:     &Attempt{Prompt: "a fox", Scores: structured(9, true)},
			contains: []string{"Conflicts: none"},
			excludes: []string{"mismatch"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SummarizeFeedback(tt.last, tt.best)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, got, unwanted)
			}
		})
	}
}
