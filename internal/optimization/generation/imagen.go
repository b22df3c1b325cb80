package generation

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/copyleftdev/promptforge/internal/gemini"
	"github.com/copyleftdev/promptforge/internal/optimization"
)

// DefaultImagenModel is used when no model is configured.
const DefaultImagenModel = "imagen-4.0-generate-001"

// Imagen generates images with Google's Imagen models through the Gemini API.
// Images come back inline, so ImageRef.Data is set and URL is empty.
type Imagen struct {
	models      gemini.ImageGenerator
	model       string
	aspectRatio string
	logger      *zap.Logger
}

// NewImagen creates an Imagen generator.
func NewImagen(models gemini.ImageGenerator, model, aspectRatio string, logger *zap.Logger) (*Imagen, error) {
	if models == nil {
		return nil, optimization.ConfigurationError("generation", "Imagen requires a Gemini client")
	}
	if model == "" {
		model = DefaultImagenModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Imagen{
		models:      models,
		model:       model,
		aspectRatio: aspectRatio,
		logger:      logger.Named("imagen"),
	}, nil
}

// Generate requests a single image for prompt.
func (g *Imagen) Generate(ctx context.Context, prompt string) (*optimization.Generated, error) {
	start := time.Now()
	resp, err := g.models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    g.aspectRatio,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, optimization.GenerationError(gemini.Describe(err), "Imagen request failed").WithComponent("imagen")
	}
	latency := time.Since(start)

	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, optimization.NewError(optimization.KindGeneration, "no image generated in response").
			WithComponent("imagen")
	}
	generated := resp.GeneratedImages[0]
	if generated.Image == nil || len(generated.Image.ImageBytes) == 0 {
		reason := generated.RAIFilteredReason
		if reason == "" {
			reason = "empty image payload"
		}
		return nil, optimization.NewErrorf(optimization.KindGeneration, "image was not returned: %s", reason).
			WithComponent("imagen")
	}

	contentType := generated.Image.MIMEType
	if contentType == "" {
		contentType = "image/png"
	}
	g.logger.Debug("Image generated",
		zap.String("model", g.model),
		zap.Int("bytes", len(generated.Image.ImageBytes)),
		zap.Duration("latency", latency),
	)

	return &optimization.Generated{
		Image: optimization.ImageRef{
			Data:        generated.Image.ImageBytes,
			ContentType: contentType,
		},
		Model:   g.model,
		Latency: latency,
	}, nil
}
