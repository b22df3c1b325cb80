package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

var csvHeader = []string{
	"run_id", "iteration", "timestamp", "prompt", "image_url",
	"variant", "score", "aesthetic", "preference",
	"subject_match", "art_type_match", "art_style_match", "art_movement_match",
	"overall_prompt_match", "has_conflicting_elements",
	"reasoning", "revised_prompt",
}

// CSV appends records to a local file, writing the header once.
type CSV struct {
	mu   sync.Mutex
	path string
}

// NewCSV creates a recorder that appends to path.
func NewCSV(path string) (*CSV, error) {
	if path == "" {
		return nil, optimization.ConfigurationError("store", "CSV path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return &CSV{path: path}, nil
}

// Path returns the file being written.
func (c *CSV) Path() string { return c.path }

// Record implements optimization.Recorder.
func (c *CSV) Record(_ context.Context, runID string, attempt optimization.Attempt) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", c.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	if err := w.Write(NewRecord(runID, attempt).row()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// ReadAll loads every record from the file. A missing file yields no records.
func (c *CSV) ReadAll() ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readRecords(f)
}

func readRecords(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	var out []Record
	for line := 0; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 0 && row[0] == csvHeader[0] {
			continue
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		out = append(out, rec)
	}
}

func (r Record) row() []string {
	return []string{
		r.RunID,
		strconv.Itoa(r.Iteration),
		r.Timestamp.Format(time.RFC3339Nano),
		r.Prompt,
		r.ImageURL,
		r.Variant,
		formatFloat(r.Score),
		formatFloat(r.Aesthetic),
		formatFloat(r.Preference),
		strconv.FormatBool(r.SubjectMatch),
		strconv.FormatBool(r.ArtTypeMatch),
		strconv.FormatBool(r.ArtStyleMatch),
		strconv.FormatBool(r.ArtMovementMatch),
		strconv.FormatBool(r.OverallPromptMatch),
		strconv.FormatBool(r.HasConflicts),
		r.Reasoning,
		r.RevisedPrompt,
	}
}

func parseRow(row []string) (Record, error) {
	var (
		r   Record
		err error
	)
	r.RunID = row[0]
	if r.Iteration, err = strconv.Atoi(row[1]); err != nil {
		return r, err
	}
	if r.Timestamp, err = time.Parse(time.RFC3339Nano, row[2]); err != nil {
		return r, err
	}
	r.Prompt, r.ImageURL, r.Variant = row[3], row[4], row[5]

	floats := []*float64{&r.Score, &r.Aesthetic, &r.Preference}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(row[6+i], 64); err != nil {
			return r, err
		}
	}

	flags := []*bool{
		&r.SubjectMatch, &r.ArtTypeMatch, &r.ArtStyleMatch,
		&r.ArtMovementMatch, &r.OverallPromptMatch, &r.HasConflicts,
	}
	for i, dst := range flags {
		if *dst, err = strconv.ParseBool(row[9+i]); err != nil {
			return r, err
		}
	}

	r.Reasoning, r.RevisedPrompt = row[15], row[16]
	return r, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
