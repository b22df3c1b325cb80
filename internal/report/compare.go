package report

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// Range is the spread of best scores across runs.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Comparison summarizes several runs by their best scores.
type Comparison struct {
	TotalRuns         int     `json:"total_runs"`
	BestOverallScore  float64 `json:"best_overall_score"`
	BestOverallPrompt string  `json:"best_overall_prompt"`
	BestRunID         string  `json:"best_run_id,omitempty"`
	AverageScore      float64 `json:"average_score"`
	StdDev            float64 `json:"std_dev"`
	ScoreRange        Range   `json:"score_range"`
}

// Compare summarizes results. It returns the zero Comparison for no input.
// Runs without a scored attempt count as 0.
func Compare(results []*optimization.Result) Comparison {
	scores := make([]float64, 0, len(results))
	kept := make([]*optimization.Result, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		scores = append(scores, r.BestScore())
		kept = append(kept, r)
	}
	if len(scores) == 0 {
		return Comparison{}
	}

	best := kept[floats.MaxIdx(scores)]
	c := Comparison{
		TotalRuns:         len(scores),
		BestOverallScore:  best.BestScore(),
		BestOverallPrompt: best.FinalPrompt,
		BestRunID:         best.RunID,
		AverageScore:      stat.Mean(scores, nil),
		ScoreRange:        Range{Min: floats.Min(scores), Max: floats.Max(scores)},
	}
	if len(scores) > 1 {
		c.StdDev = stat.StdDev(scores, nil)
	}
	return c
}
