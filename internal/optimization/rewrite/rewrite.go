// Package rewrite provides prompt rewriters.
package rewrite

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/copyleftdev/promptforge/internal/gemini"
	"github.com/copyleftdev/promptforge/internal/optimization"
)

// DefaultModel is the text model used when none is configured.
const DefaultModel = "gemini-2.5-pro"

const optimizationTemplate = `You are an expert at optimizing prompts for AI image generation to achieve higher aesthetic and human-preference scores.

Original prompt: %s
Current prompt: %s
Current combined score: %.2f
Feedback: %s

Guidelines for optimization:
1. Keep the core concept but enhance visual details
2. Add artistic style descriptors (e.g., "highly detailed", "professional photography", "award-winning")
3. Include lighting and composition terms (e.g., "dramatic lighting", "perfect composition")
4. Add quality enhancers (e.g., "8k resolution", "masterpiece")
5. Maintain coherence and avoid contradictory terms
6. Keep the prompt concise but descriptive

Reply with the improved prompt only, without quotes or commentary.`

// Gemini rewrites prompts with a text model.
type Gemini struct {
	models gemini.ContentGenerator
	model  string
	logger *zap.Logger
}

// NewGemini creates an LLM-backed rewriter.
func NewGemini(models gemini.ContentGenerator, model string, logger *zap.Logger) (*Gemini, error) {
	if models == nil {
		return nil, optimization.ConfigurationError("rewrite", "Gemini rewriter requires a client")
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{models: models, model: model, logger: logger.Named("rewriter")}, nil
}

// Rewrite implements optimization.Rewriter.
func (g *Gemini) Rewrite(ctx context.Context, req optimization.RewriteRequest) (string, error) {
	prompt := fmt.Sprintf(optimizationTemplate,
		req.OriginalPrompt, req.CurrentPrompt, req.CurrentScore, req.Feedback)

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.7),
	})
	if err != nil {
		return "", optimization.RewriteError(gemini.Describe(err), "rewrite request failed").WithComponent("rewriter")
	}

	revised := Clean(gemini.ResponseText(resp))
	if revised == "" {
		return "", optimization.NewError(optimization.KindRewrite, "model returned an empty prompt").
			WithComponent("rewriter")
	}

	g.logger.Debug("Prompt rewritten",
		zap.String("from", gemini.Truncate(req.CurrentPrompt, 120)),
		zap.String("to", gemini.Truncate(revised, 120)),
	)
	return revised, nil
}

// Clean strips the wrapping models tend to add around a bare prompt.
func Clean(s string) string {
	s = strings.TrimSpace(gemini.StripMarkdownFences(s))
	for _, prefix := range []string{"Improved prompt:", "Optimized prompt:", "Prompt:"} {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = strings.TrimSpace(s[len(prefix):])
		}
	}
	s = strings.Trim(s, "\"'`")
	return strings.TrimSpace(s)
}

// Suggestion uses the evaluator's own revised prompt and falls back to
// another rewriter when the evaluator offered none.
type Suggestion struct {
	fallback optimization.Rewriter
}

// NewSuggestion wraps fallback. A nil fallback keeps the current prompt.
func NewSuggestion(fallback optimization.Rewriter) *Suggestion {
	if fallback == nil {
		fallback = Passthrough{}
	}
	return &Suggestion{fallback: fallback}
}

// Rewrite implements optimization.Rewriter.
func (s *Suggestion) Rewrite(ctx context.Context, req optimization.RewriteRequest) (string, error) {
	if suggestion := strings.TrimSpace(req.Suggestion); suggestion != "" {
		return suggestion, nil
	}
	return s.fallback.Rewrite(ctx, req)
}

// Passthrough returns the current prompt. It is used when no rewrite model
// is available, which turns a run into repeated sampling of one prompt.
type Passthrough struct{}

// Rewrite implements optimization.Rewriter.
func (Passthrough) Rewrite(_ context.Context, req optimization.RewriteRequest) (string, error) {
	if strings.TrimSpace(req.CurrentPrompt) == "" {
		return "", optimization.NewError(optimization.KindRewrite, "no current prompt to keep")
	}
	return req.CurrentPrompt, nil
}
