package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// FileName returns the results file name for a run finished at t.
func FileName(r *optimization.Result) string {
	name := "optimization_results_" + r.FinishedAt.Format("20060102_150405")
	if id := r.RunID; id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		name += "_" + id
	}
	return name + ".json"
}

// Encode renders a result as indented JSON.
func Encode(r *optimization.Result) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// JSONFile writes each result into its own file under a directory.
type JSONFile struct {
	dir string
	now func() time.Time
}

// NewJSONFile creates a reporter writing into dir.
func NewJSONFile(dir string) (*JSONFile, error) {
	if dir == "" {
		return nil, optimization.ConfigurationError("report", "results directory is required")
	}
	return &JSONFile{dir: dir, now: time.Now}, nil
}

// Report implements optimization.Reporter.
func (j *JSONFile) Report(_ context.Context, result *optimization.Result) error {
	_, err := j.Save(result)
	return err
}

// Save writes the result and returns the file path.
func (j *JSONFile) Save(result *optimization.Result) (string, error) {
	if result == nil {
		return "", fmt.Errorf("nil result")
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	if result.FinishedAt.IsZero() {
		copied := *result
		copied.FinishedAt = j.now()
		result = &copied
	}

	data, err := Encode(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	path := j.Path(result)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// Path returns where Save writes a finished result.
func (j *JSONFile) Path(result *optimization.Result) string {
	return filepath.Join(j.dir, FileName(result))
}

// LoadFile reads a result written by JSONFile.
func LoadFile(path string) (*optimization.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r optimization.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &r, nil
}

// LoadDir reads every results file in dir, skipping other files.
func LoadDir(dir string) ([]*optimization.Result, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "optimization_results_*.json"))
	if err != nil {
		return nil, err
	}
	results := make([]*optimization.Result, 0, len(paths))
	for _, p := range paths {
		r, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}
