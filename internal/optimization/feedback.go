package optimization

import (
	"fmt"
	"strings"
)

// NoPreviousAttempts is the feedback summary used before the first attempt.
const NoPreviousAttempts = "No previous attempts"

// SummarizeFeedback condenses the most recent attempt into the critique text
// passed to the next evaluation and rewrite. Older attempts are never
// included. best may be nil.
func SummarizeFeedback(last, best *Attempt) string {
	if last == nil {
		return NoPreviousAttempts
	}

	if last.Failed() {
		return fmt.Sprintf("Previous attempt failed: %s\nPrompt: %s", last.Err, last.Prompt)
	}

	switch s := last.Scores.(type) {
	case NumericScores:
		return summarizeNumeric(s, best)
	case StructuredScores:
		return summarizeStructured(last.Prompt, s, last.Feedback)
	default:
		return fmt.Sprintf("Previous attempt:\nPrompt: %s\nScore: %.2f", last.Prompt, last.Aggregate())
	}
}

func summarizeNumeric(s NumericScores, best *Attempt) string {
	prevBest := s.Combined
	if best != nil {
		prevBest = best.Aggregate()
	}
	return fmt.Sprintf(
		"Current aesthetic score: %.2f, preference score: %.2f, combined score: %.2f (Previous best: %.2f)",
		s.Aesthetic, s.Preference, s.Combined, prevBest,
	)
}

func summarizeStructured(prompt string, s StructuredScores, fb *Feedback) string {
	if fb == nil {
		fb = &Feedback{}
	}

	var b strings.Builder
	b.WriteString("Previous attempt:\n")
	fmt.Fprintf(&b, "Prompt: %s\n", prompt)
	fmt.Fprintf(&b, "Overall score: %d/10\n", s.OverallScore)
	writeAxis(&b, "Subject", s.SubjectMatch, fb.Subject)
	writeAxis(&b, "Art Type", s.ArtTypeMatch, fb.ArtType)
	writeAxis(&b, "Style", s.ArtStyleMatch, fb.ArtStyle)
	writeAxis(&b, "Art Movement", s.ArtMovementMatch, fb.ArtMovement)
	writeAxis(&b, "Overall", s.OverallPromptMatch, fb.OverallPrompt)

	conflicts := "none"
	if s.HasConflictingElements {
		conflicts = fb.ConflictDescription
		if conflicts == "" {
			conflicts = "conflicting elements present"
		}
	}
	fmt.Fprintf(&b, "Conflicts: %s", conflicts)
	return b.String()
}

func writeAxis(b *strings.Builder, name string, match bool, text string) {
	verdict := "mismatch"
	if match {
		verdict = "match"
	}
	if text == "" {
		fmt.Fprintf(b, "%s: %s\n", name, verdict)
		return
	}
	fmt.Fprintf(b, "%s: %s (%s)\n", name, text, verdict)
}
