package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/copyleftdev/promptforge/internal/config"
	"github.com/copyleftdev/promptforge/internal/optimization"
	"github.com/copyleftdev/promptforge/internal/report"
)

func newFalServer(t *testing.T) *httptest.Server {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := n.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"images": []map[string]interface{}{{
				"url":          "https://cdn.fal.test/" + string(rune('a'+i-1)) + ".png",
				"content_type": "image/png",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newScorer(t *testing.T, score float64) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]float64{"score": score})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func numericConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	t.Setenv("GENERATION_PROVIDER", "fal")
	t.Setenv("FAL_KEY", "secret")
	t.Setenv("FAL_BASE_URL", newFalServer(t).URL)
	t.Setenv("EVALUATOR_MODE", "numeric")
	t.Setenv("AESTHETIC_SCORER_URL", newScorer(t, 6).URL)
	t.Setenv("PREFERENCE_SCORER_URL", newScorer(t, 0.3).URL)
	t.Setenv("REWRITE_ENABLED", "false")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("STORE_CSV_PATH", filepath.Join(dir, "attempts.csv"))
	t.Setenv("RESULTS_DIR", filepath.Join(dir, "results"))

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestBuild_NumericEndToEnd(t *testing.T) {
	cfg := numericConfig(t)
	var console bytes.Buffer

	app, err := Build(context.Background(), cfg, nil, Options{
		Registerer: prometheus.NewRegistry(),
		Reporters:  []optimization.Reporter{report.NewConsole(&console)},
	})
	require.NoError(t, err)
	require.NotNil(t, app.Metrics)

	result, err := app.Engine.Optimize(context.Background(), app.Template.Format("a cat sitting in a garden"), 3)
	require.NoError(t, err)

	assert.Equal(t, 3, result.IterationsCompleted)
	assert.False(t, result.Converged)
	assert.InDelta(t, 3.15, result.BestScore(), 1e-9)
	assert.Equal(t, "https://cdn.fal.test/a.png", result.Best.Image.URL, "ties keep the first attempt")

	records, err := app.Log.ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	saved, err := report.LoadDir(cfg.Report.ResultsDir)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, result.RunID, saved[0].RunID)

	assert.Contains(t, console.String(), "Best Score: 3.15")
}

type fakeModels struct {
	judgment string
	images   int
	texts    int
}

func (f *fakeModels) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.texts++
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.judgment, genai.RoleModel)}},
	}, nil
}

func (f *fakeModels) GenerateImages(context.Context, string, string, *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	f.images++
	return &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{{
			Image: &genai.Image{ImageBytes: []byte("png"), MIMEType: "image/png"},
		}},
	}, nil
}

func TestBuild_ImagenStructuredConverges(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GENERATION_PROVIDER", "imagen")
	t.Setenv("EVALUATOR_MODE", "structured")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("STORE_CSV_PATH", filepath.Join(dir, "attempts.csv"))

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Report.ResultsDir = ""

	models := &fakeModels{judgment: `{
		"overall_prompt_match": true, "subject_match": true, "art_type_match": true,
		"art_style_match": true, "art_movement_match": true,
		"has_conflicting_elements": false, "overall_score": 10
	}`}
	app, err := Build(context.Background(), cfg, nil, Options{Models: models})
	require.NoError(t, err)
	assert.Nil(t, app.Metrics)
	assert.Nil(t, app.Results)

	result, err := app.Engine.Optimize(context.Background(), "a lighthouse, oil painting", 5)
	require.NoError(t, err)
	assert.True(t, result.Converged)
	assert.Equal(t, 1, result.IterationsCompleted)
	assert.Equal(t, 1, models.images)
}

func TestBuild_JudgeAndRewriterShareGeminiLimit(t *testing.T) {
	t.Setenv("GENERATION_PROVIDER", "imagen")
	t.Setenv("EVALUATOR_MODE", "structured")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("GEMINI_RPS", "5")
	t.Setenv("GENERATION_RPS", "1000")
	t.Setenv("REWRITE_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Store.CSVPath = ""
	cfg.Report.ResultsDir = ""

	// No revised prompt, so every rewrite goes to the model.
	models := &fakeModels{judgment: `{
		"overall_prompt_match": false, "subject_match": true, "art_type_match": true,
		"art_style_match": true, "art_movement_match": true,
		"has_conflicting_elements": false, "overall_score": 6
	}`}
	app, err := Build(context.Background(), cfg, nil, Options{Models: models})
	require.NoError(t, err)

	start := time.Now()
	result, err := app.Engine.Optimize(context.Background(), "a lighthouse, oil painting", 2)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, 2, result.IterationsCompleted)
	require.Equal(t, 3, models.texts, "judge, rewrite, judge")
	// Three calls through one 5 rps limiter with burst 1 need at least 400ms.
	// Separate limiters would let the rewrite through immediately.
	assert.GreaterOrEqual(t, elapsed, 350*time.Millisecond)
}

func TestBuild_MissingGeminiKey(t *testing.T) {
	cfg := numericConfig(t)
	cfg.Rewrite.Enabled = true

	_, err := Build(context.Background(), cfg, nil, Options{})
	assert.ErrorIs(t, err, optimization.ErrConfiguration)
}
