package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WarnLevel, &buf)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["message"])
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "error", entries[1]["message"])
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf).
		WithField("run_id", "abc").
		WithError(errors.New("boom"))

	logger.Info("attempt scored", map[string]interface{}{"score": 7.5, "iteration": 2})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "abc", e["run_id"])
	assert.Equal(t, "boom", e["error"])
	assert.Equal(t, 7.5, e["score"])
	assert.Equal(t, float64(2), e["iteration"])
	assert.Contains(t, e["caller"], "logging/logger_test.go")
}

func TestLogger_ZapSharesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf).WithField("component", "engine")

	logger.Zap().Info("from zap")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0]["component"])
	assert.Contains(t, entries[0]["caller"], "logging/logger_test.go")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"Error":   ErrorLevel,
		"fatal":   FatalLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctxLogger := &CtxLogger{New(InfoLevel, &buf).WithField("request_id", "r1")}

	ctx := ctxLogger.WithContext(context.Background())
	FromContext(ctx).Info("hello")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "r1", entries[0]["request_id"])

	assert.NotNil(t, FromContext(context.Background()))
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf).WithField("service", "promptforge")

	handler := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/log", nil))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "inside handler", entries[0]["message"])
	assert.Equal(t, "/api/v1/log", entries[0]["path"])
	assert.Equal(t, http.MethodGet, entries[0]["method"])
	assert.Equal(t, "promptforge", entries[0]["service"], "request logger keeps the service fields")
	assert.Equal(t, "Request rejected", entries[1]["message"])
	assert.Equal(t, float64(http.StatusTeapot), entries[1]["status"])
}
