package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

var finished = time.Date(2025, 3, 1, 14, 30, 5, 0, time.UTC)

func sampleResult() *optimization.Result {
	first := optimization.Attempt{
		Iteration: 1,
		Prompt:    "a cat sitting in a garden",
		Image:     optimization.ImageRef{URL: "https://cdn/1.png"},
		Scores:    optimization.NumericScores{Aesthetic: 5, Preference: 0.2, Combined: 2.6},
		Timestamp: finished.Add(-time.Minute),
	}
	second := optimization.Attempt{
		Iteration: 2,
		Prompt:    "a cat sitting in a lush garden",
		Err:       "generation failed: timeout",
		Timestamp: finished.Add(-30 * time.Second),
	}
	return &optimization.Result{
		RunID:               "0123456789abcdef",
		OriginalPrompt:      "a cat sitting in a garden",
		FinalPrompt:         first.Prompt,
		Best:                &first,
		History:             []optimization.Attempt{first, second},
		IterationsCompleted: 2,
		StartedAt:           finished.Add(-2 * time.Minute),
		FinishedAt:          finished,
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewConsole(&buf).Report(context.Background(), sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "Best Score: 2.60")
	assert.Contains(t, out, "Aesthetic Score: 5.00")
	assert.Contains(t, out, "1. Score: 2.60 | Prompt: a cat sitting in a garden")
	assert.Contains(t, out, "2. ERROR: generation failed: timeout")
	assert.NotContains(t, out, "Stopped:")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "optimization_results_20250301_143005_01234567.json", FileName(sampleResult()))
	assert.Equal(t, "optimization_results_20250301_143005.json",
		FileName(&optimization.Result{FinishedAt: finished}))
}

func TestJSONFile_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJSONFile(dir)
	require.NoError(t, err)

	path, err := j.Save(sampleResult())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName(sampleResult())), path)
	assert.Equal(t, path, j.Path(sampleResult()))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", loaded.RunID)
	require.Len(t, loaded.History, 2)
	assert.Equal(t, optimization.NumericScores{Aesthetic: 5, Preference: 0.2, Combined: 2.6}, loaded.History[0].Scores)
	assert.Nil(t, loaded.History[1].Scores)
	assert.True(t, loaded.History[1].Failed())
	assert.InDelta(t, 2.6, loaded.BestScore(), 1e-9)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	all, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestJSONFile_Report(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJSONFile(dir)
	require.NoError(t, err)
	j.now = func() time.Time { return finished }

	r := sampleResult()
	r.FinishedAt = time.Time{}
	require.NoError(t, j.Report(context.Background(), r))

	_, err = os.Stat(filepath.Join(dir, "optimization_results_20250301_143005_01234567.json"))
	assert.NoError(t, err)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3_Report(t *testing.T) {
	client := &fakeS3{}
	s, err := NewS3(client, "bucket", "results/")
	require.NoError(t, err)

	require.NoError(t, s.Report(context.Background(), sampleResult()))
	assert.Equal(t, "bucket", *client.input.Bucket)
	assert.Equal(t, "results/optimization_results_20250301_143005_01234567.json", *client.input.Key)
	assert.Equal(t, "application/json", *client.input.ContentType)
	assert.Contains(t, string(client.body), `"run_id": "0123456789abcdef"`)

	failing, err := NewS3(&fakeS3{err: errors.New("access denied")}, "bucket", "")
	require.NoError(t, err)
	assert.ErrorContains(t, failing.Report(context.Background(), sampleResult()), "access denied")

	_, err = NewS3(nil, "bucket", "")
	assert.ErrorIs(t, err, optimization.ErrConfiguration)
}

type errReporter struct{}

func (errReporter) Report(context.Context, *optimization.Result) error { return errors.New("boom") }

func TestMulti(t *testing.T) {
	var buf bytes.Buffer
	m := Multi{errReporter{}, nil, NewConsole(&buf)}

	err := m.Report(context.Background(), sampleResult())
	assert.ErrorContains(t, err, "boom")
	assert.Contains(t, buf.String(), "OPTIMIZATION SUMMARY")
}

func TestCompare(t *testing.T) {
	withScore := func(id string, score float64) *optimization.Result {
		best := optimization.Attempt{Scores: optimization.StructuredScores{OverallScore: int(score)}}
		return &optimization.Result{RunID: id, FinalPrompt: "prompt " + id, Best: &best}
	}

	tests := []struct {
		name    string
		results []*optimization.Result
		want    Comparison
	}{
		{
			name:    "empty",
			results: nil,
			want:    Comparison{},
		},
		{
			name:    "single run",
			results: []*optimization.Result{withScore("a", 7)},
			want: Comparison{
				TotalRuns: 1, BestOverallScore: 7, BestOverallPrompt: "prompt a", BestRunID: "a",
				AverageScore: 7, ScoreRange: Range{Min: 7, Max: 7},
			},
		},
		{
			name: "unscored run counts as zero",
			results: []*optimization.Result{
				withScore("a", 4),
				{RunID: "b", FinalPrompt: "prompt b"},
				withScore("c", 8),
			},
			want: Comparison{
				TotalRuns: 3, BestOverallScore: 8, BestOverallPrompt: "prompt c", BestRunID: "c",
				AverageScore: 4, StdDev: 4, ScoreRange: Range{Min: 0, Max: 8},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.results)
			assert.InDelta(t, tt.want.StdDev, got.StdDev, 1e-9)
			got.StdDev = tt.want.StdDev
			assert.Equal(t, tt.want, got)
		})
	}
}
