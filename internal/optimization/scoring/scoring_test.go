package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

type fixedScorer struct {
	score float64
	err   error
}

func (f fixedScorer) Score(context.Context, optimization.ImageRef, string) (float64, error) {
	return f.score, f.err
}

type panickingScorer struct{}

func (panickingScorer) Score(context.Context, optimization.ImageRef, string) (float64, error) {
	panic("model server returned garbage")
}

func TestWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"equal", Weights{0.5, 0.5}, false},
		{"all aesthetic", Weights{1, 0}, false},
		{"float noise", Weights{0.7, 0.3}, false},
		{"sum above one", Weights{0.6, 0.5}, true},
		{"sum below one", Weights{0.2, 0.2}, true},
		{"negative", Weights{1.5, -0.5}, true},
		{"nan", Weights{math.NaN(), 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, optimization.ErrConfiguration)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWeights_CombineIsConvex(t *testing.T) {
	pairs := [][2]float64{{0, 10}, {5.5, 5.5}, {7.2, 0.27}, {-1, 3}}
	weights := []Weights{{0.5, 0.5}, {0.1, 0.9}, {1, 0}, {0.25, 0.75}}

	for _, w := range weights {
		require.NoError(t, w.Validate())
		for _, p := range pairs {
			c := w.Combine(p[0], p[1])
			assert.GreaterOrEqual(t, c, math.Min(p[0], p[1])-1e-12)
			assert.LessOrEqual(t, c, math.Max(p[0], p[1])+1e-12)
		}
	}
}

func TestNewNumeric_RejectsBadConfig(t *testing.T) {
	_, err := NewNumeric(fixedScorer{}, fixedScorer{}, Weights{0.9, 0.9}, nil)
	assert.ErrorIs(t, err, optimization.ErrConfiguration)

	_, err = NewNumeric(nil, fixedScorer{}, DefaultWeights, nil)
	assert.ErrorIs(t, err, optimization.ErrConfiguration)
}

func TestNumeric_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		aesthetic  SubScorer
		preference SubScorer
		want       optimization.NumericScores
	}{
		{
			name:       "both succeed",
			aesthetic:  fixedScorer{score: 6},
			preference: fixedScorer{score: 0.3},
			want:       optimization.NumericScores{Aesthetic: 6, Preference: 0.3, Combined: 3.15},
		},
		{
			name:       "aesthetic fails",
			aesthetic:  fixedScorer{err: errors.New("gpu out of memory")},
			preference: fixedScorer{score: 0.4},
			want:       optimization.NumericScores{Aesthetic: 0, Preference: 0.4, Combined: 0.2},
		},
		{
			name:       "both fail",
			aesthetic:  fixedScorer{err: errors.New("down")},
			preference: fixedScorer{score: math.Inf(1)},
			want:       optimization.NumericScores{},
		},
		{
			name:       "preference panics",
			aesthetic:  fixedScorer{score: 4},
			preference: panickingScorer{},
			want:       optimization.NumericScores{Aesthetic: 4, Preference: 0, Combined: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewNumeric(tt.aesthetic, tt.preference, DefaultWeights, nil)
			require.NoError(t, err)

			scores, feedback, err := n.Evaluate(context.Background(), optimization.EvaluationRequest{Prompt: "a cat"})
			require.NoError(t, err)
			assert.Nil(t, feedback)

			got, ok := scores.(optimization.NumericScores)
			require.True(t, ok)
			assert.InDelta(t, tt.want.Aesthetic, got.Aesthetic, 1e-9)
			assert.InDelta(t, tt.want.Preference, got.Preference, 1e-9)
			assert.InDelta(t, tt.want.Combined, got.Combined, 1e-9)
			assert.False(t, scores.Converged())
		})
	}
}

func TestHTTPScorer_Score(t *testing.T) {
	var got scoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"score": 6.25}`))
	}))
	defer srv.Close()

	s, err := NewHTTPScorer(srv.URL, srv.Client())
	require.NoError(t, err)

	score, err := s.Score(context.Background(), optimization.ImageRef{URL: "https://cdn/x.png", Data: []byte("abc")}, "a cat")
	require.NoError(t, err)
	assert.Equal(t, 6.25, score)
	assert.Equal(t, "a cat", got.Prompt)
	assert.Equal(t, "https://cdn/x.png", got.ImageURL)
	assert.Equal(t, "YWJj", got.ImageBase64)
}

func TestHTTPScorer_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "oops"},
		{"scorer error", http.StatusOK, `{"error":"model not loaded"}`},
		{"missing score", http.StatusOK, `{}`},
		{"bad json", http.StatusOK, `{"score":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s, err := NewHTTPScorer(srv.URL, srv.Client())
			require.NoError(t, err)
			_, err = s.Score(context.Background(), optimization.ImageRef{URL: "u"}, "p")
			assert.Error(t, err)
		})
	}

	_, err := NewHTTPScorer("", nil)
	assert.ErrorIs(t, err, optimization.ErrConfiguration)
}

type fakeJudge struct {
	text     string
	err      error
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeJudge) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.contents, f.config = contents, config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(f.text, genai.RoleModel),
		}},
	}, nil
}

type staticFetcher struct{ err error }

func (s staticFetcher) Fetch(_ context.Context, ref optimization.ImageRef) (optimization.ImageRef, error) {
	if s.err != nil {
		return ref, s.err
	}
	ref.Data = []byte("image-bytes")
	ref.ContentType = "image/png"
	return ref, nil
}

const perfectJudgment = `{
  "reasoning": "All good",
  "overall_prompt_match": true,
  "subject_match": true,
  "art_type_match": true,
  "art_style_match": true,
  "art_movement_match": true,
  "has_conflicting_elements": false,
  "conflict_description": "",
  "overall_prompt_match_feedback": "matches",
  "subject_feedback": "cat present",
  "art_type_feedback": "oil painting",
  "art_style_feedback": "impressionist",
  "art_movement_feedback": "late 19th century",
  "revised_prompt": "  a cat in a garden, impressionist oil painting  ",
  "overall_score": 9
}`

func TestStructured_Evaluate(t *testing.T) {
	judge := &fakeJudge{text: "```json\n" + perfectJudgment + "\n```"}
	s, err := NewStructured(judge, "", staticFetcher{}, nil)
	require.NoError(t, err)

	scores, feedback, err := s.Evaluate(context.Background(), optimization.EvaluationRequest{
		Image:            optimization.ImageRef{URL: "https://cdn/cat.png"},
		Prompt:           "a cat, oil",
		DesiredPrompt:    "a cat in a garden",
		PreviousFeedback: "Previous attempt:\nPrompt: a cat",
	})
	require.NoError(t, err)

	got, ok := scores.(optimization.StructuredScores)
	require.True(t, ok)
	assert.True(t, got.Converged())
	assert.Equal(t, 9, got.OverallScore)
	assert.Equal(t, "cat present", feedback.Subject)
	assert.Equal(t, "a cat in a garden, impressionist oil painting", feedback.RevisedPrompt)

	require.Len(t, judge.contents, 1)
	parts := judge.contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, []byte("image-bytes"), parts[0].InlineData.Data)
	assert.Contains(t, parts[1].Text, "a cat in a garden")
	assert.Contains(t, parts[1].Text, "Previous attempt:")
	assert.Equal(t, "application/json", judge.config.ResponseMIMEType)
	assert.Equal(t, genai.TypeObject, judge.config.ResponseSchema.Type)
}

func TestStructured_EvaluateFailures(t *testing.T) {
	outOfRange := `{"overall_score": 11, "subject_match": true}`
	zero := `{"overall_score": 0}`

	tests := []struct {
		name    string
		judge   *fakeJudge
		fetcher ImageFetcher
		wantMsg string
	}{
		{"fetch fails", &fakeJudge{text: perfectJudgment}, staticFetcher{err: errors.New("404")}, "failed to load image"},
		{"model error", &fakeJudge{err: errors.New("deadline")}, staticFetcher{}, "judge request failed"},
		{"empty reply", &fakeJudge{text: "  "}, staticFetcher{}, "empty response"},
		{"prose reply", &fakeJudge{text: "I cannot evaluate this image."}, staticFetcher{}, "failed to parse"},
		{"score above range", &fakeJudge{text: outOfRange}, staticFetcher{}, "out of range"},
		{"score below range", &fakeJudge{text: zero}, staticFetcher{}, "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStructured(tt.judge, "judge", tt.fetcher, nil)
			require.NoError(t, err)

			scores, feedback, err := s.Evaluate(context.Background(), optimization.EvaluationRequest{
				Image:  optimization.ImageRef{URL: "https://cdn/x.png"},
				Prompt: "a cat",
			})
			assert.Nil(t, scores)
			assert.Nil(t, feedback)
			assert.ErrorIs(t, err, optimization.ErrEvaluation)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestStructured_IsStateless(t *testing.T) {
	judge := &fakeJudge{text: perfectJudgment}
	s, err := NewStructured(judge, "judge", staticFetcher{}, nil)
	require.NoError(t, err)

	req := optimization.EvaluationRequest{Image: optimization.ImageRef{URL: "u"}, Prompt: "p"}
	_, _, err = s.Evaluate(context.Background(), req)
	require.NoError(t, err)
	first := judge.contents[0].Parts[1].Text

	_, _, err = s.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, judge.contents[0].Parts[1].Text)
	assert.Contains(t, first, optimization.NoPreviousAttempts)
}
