package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/copyleftdev/promptforge/internal/gemini"
	"github.com/copyleftdev/promptforge/internal/optimization"
)

// DefaultJudgeModel is the multimodal model used when none is configured.
const DefaultJudgeModel = "gemini-2.5-pro"

const judgeInstruction = `Analyze a generated image against the desired prompt and provide a detailed evaluation.

Evaluate each component (subject, art type, art style, art movement) for accuracy.
Identify any conflicting elements that should not coexist. If conflicts exist, focus on the subject and art style first.
Provide specific, actionable feedback for improvements.
If issues are found, generate a revised prompt that addresses them precisely.
Give an overall score between 1 and 10 where 10 means perfect.`

// ImageFetcher resolves URL-only image references into bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref optimization.ImageRef) (optimization.ImageRef, error)
}

// judgment is the JSON document the judge model must return.
type judgment struct {
	Reasoning                  string `json:"reasoning"`
	OverallPromptMatch         bool   `json:"overall_prompt_match"`
	SubjectMatch               bool   `json:"subject_match"`
	ArtTypeMatch               bool   `json:"art_type_match"`
	ArtStyleMatch              bool   `json:"art_style_match"`
	ArtMovementMatch           bool   `json:"art_movement_match"`
	HasConflictingElements     bool   `json:"has_conflicting_elements"`
	ConflictDescription        string `json:"conflict_description"`
	OverallPromptMatchFeedback string `json:"overall_prompt_match_feedback"`
	SubjectFeedback            string `json:"subject_feedback"`
	ArtTypeFeedback            string `json:"art_type_feedback"`
	ArtStyleFeedback           string `json:"art_style_feedback"`
	ArtMovementFeedback        string `json:"art_movement_feedback"`
	RevisedPrompt              string `json:"revised_prompt"`
	OverallScore               int    `json:"overall_score" validate:"min=1,max=10"`
}

// Structured asks a multimodal model for per-axis verdicts in one call. It
// keeps no state between calls; prior context arrives in the request.
type Structured struct {
	models   gemini.ContentGenerator
	model    string
	fetcher  ImageFetcher
	validate *validator.Validate
	logger   *zap.Logger
}

// NewStructured creates the judge evaluator.
func NewStructured(models gemini.ContentGenerator, model string, fetcher ImageFetcher, logger *zap.Logger) (*Structured, error) {
	if models == nil {
		return nil, optimization.ConfigurationError("scoring", "structured evaluator requires a Gemini client")
	}
	if fetcher == nil {
		return nil, optimization.ConfigurationError("scoring", "structured evaluator requires an image fetcher")
	}
	if model == "" {
		model = DefaultJudgeModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Structured{
		models:   models,
		model:    model,
		fetcher:  fetcher,
		validate: validator.New(),
		logger:   logger.Named("structured_evaluator"),
	}, nil
}

// Evaluate implements optimization.Evaluator.
func (s *Structured) Evaluate(ctx context.Context, req optimization.EvaluationRequest) (optimization.ScoreSet, *optimization.Feedback, error) {
	image, err := s.fetcher.Fetch(ctx, req.Image)
	if err != nil {
		return nil, nil, optimization.EvaluationError(err, "failed to load image").WithComponent("judge")
	}

	previous := req.PreviousFeedback
	if previous == "" {
		previous = optimization.NoPreviousAttempts
	}
	desired := req.DesiredPrompt
	if desired == "" {
		desired = req.Prompt
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image.Data, contentType(image)),
			genai.NewPartFromText(fmt.Sprintf(
				"Desired prompt:\n%s\n\nPrompt used for this image:\n%s\n\nPrevious attempts:\n%s",
				desired, req.Prompt, previous,
			)),
		}, genai.RoleUser),
	}

	resp, err := s.models.GenerateContent(ctx, s.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(judgeInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    judgmentSchema(),
	})
	if err != nil {
		return nil, nil, optimization.EvaluationError(gemini.Describe(err), "judge request failed").WithComponent("judge")
	}

	raw := gemini.ResponseText(resp)
	if strings.TrimSpace(raw) == "" {
		return nil, nil, optimization.NewError(optimization.KindEvaluation, "judge returned an empty response").
			WithComponent("judge")
	}

	j, err := gemini.ParseJSON[judgment](raw)
	if err != nil {
		return nil, nil, optimization.EvaluationError(err, "failed to parse judgment").WithComponent("judge")
	}
	if err := s.validate.Struct(j); err != nil {
		return nil, nil, optimization.EvaluationError(err, "judgment out of range").WithComponent("judge")
	}

	s.logger.Debug("Image judged",
		zap.Int("overall_score", j.OverallScore),
		zap.Bool("conflicts", j.HasConflictingElements),
	)

	scores := optimization.StructuredScores{
		SubjectMatch:           j.SubjectMatch,
		ArtTypeMatch:           j.ArtTypeMatch,
		ArtStyleMatch:          j.ArtStyleMatch,
		ArtMovementMatch:       j.ArtMovementMatch,
		OverallPromptMatch:     j.OverallPromptMatch,
		HasConflictingElements: j.HasConflictingElements,
		OverallScore:           j.OverallScore,
	}
	feedback := &optimization.Feedback{
		Reasoning:           j.Reasoning,
		Subject:             j.SubjectFeedback,
		ArtType:             j.ArtTypeFeedback,
		ArtStyle:            j.ArtStyleFeedback,
		ArtMovement:         j.ArtMovementFeedback,
		OverallPrompt:       j.OverallPromptMatchFeedback,
		ConflictDescription: j.ConflictDescription,
		RevisedPrompt:       strings.TrimSpace(j.RevisedPrompt),
	}
	return scores, feedback, nil
}

func contentType(ref optimization.ImageRef) string {
	if ref.ContentType != "" {
		return ref.ContentType
	}
	return "image/png"
}

func judgmentSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	flag := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeBoolean, Description: desc}
	}

	props := map[string]*genai.Schema{
		"reasoning":                     str("Step-by-step analysis of the image"),
		"overall_prompt_match":          flag("Does the image match the overall intent?"),
		"subject_match":                 flag("Is the main subject correct?"),
		"art_type_match":                flag("Is the art type or medium correct?"),
		"art_style_match":               flag("Is the artistic style correct?"),
		"art_movement_match":            flag("Is the art movement or period correct?"),
		"has_conflicting_elements":      flag("Are there contradictory elements?"),
		"conflict_description":          str("Describe any conflicting elements found"),
		"overall_prompt_match_feedback": str("Feedback on overall match"),
		"subject_feedback":              str("Specific feedback on the subject"),
		"art_type_feedback":             str("Specific feedback on art type"),
		"art_style_feedback":            str("Specific feedback on art style"),
		"art_movement_feedback":         str("Specific feedback on art movement"),
		"revised_prompt":                str("Improved prompt addressing identified issues"),
		"overall_score": {
			Type:        genai.TypeInteger,
			Description: "Overall score between 1 and 10 where 10 means perfect",
			Minimum:     genai.Ptr[float64](1),
			Maximum:     genai.Ptr[float64](10),
		},
	}

	order := []string{
		"reasoning",
		"overall_prompt_match", "subject_match", "art_type_match", "art_style_match", "art_movement_match",
		"has_conflicting_elements", "conflict_description",
		"overall_prompt_match_feedback", "subject_feedback", "art_type_feedback", "art_style_feedback", "art_movement_feedback",
		"revised_prompt", "overall_score",
	}

	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       props,
		Required:         order,
		PropertyOrdering: order,
	}
}
