package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	cfg.writer = out
	l, err := New(&cfg)
	require.NoError(t, err)
	return l, out
}

func decodeLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level      string
		wantLevels []string
	}{
		{level: "debug", wantLevels: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "info", wantLevels: []string{"INFO", "WARN", "ERROR"}},
		{level: "warning", wantLevels: []string{"WARN", "ERROR"}},
		{level: "error", wantLevels: []string{"ERROR"}},
		{level: "", wantLevels: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			l, out := newBuffered(t, Config{Level: tt.level, Format: "json"})

			l.Debug("claiming job")
			l.Info("job completed")
			l.Warn("task failed, scheduling retry")
			l.Error("task dead-lettered")

			var got []string
			for _, entry := range decodeLines(t, out) {
				got = append(got, entry["level"].(string))
			}
			assert.Equal(t, tt.wantLevels, got)
		})
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	l, out := newBuffered(t, Config{Level: "info", Format: "json"})

	l.With(slog.String("component", "executor")).Info("Job completed",
		slog.String("job_id", "job-1"),
		slog.Int("attempt", 2),
		slog.Bool("export", true),
	)

	entries := decodeLines(t, out)
	require.Len(t, entries, 1)
	assert.Equal(t, "Job completed", entries[0]["msg"])
	assert.Equal(t, "executor", entries[0]["component"])
	assert.Equal(t, "job-1", entries[0]["job_id"])
	assert.Equal(t, float64(2), entries[0]["attempt"])
	assert.Equal(t, true, entries[0]["export"])
	assert.Contains(t, entries[0], "time")
}

func TestNew_Source(t *testing.T) {
	l, out := newBuffered(t, Config{Level: "info", Format: "json", EnableSource: true})
	l.Info("with caller")

	entries := decodeLines(t, out)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_Console(t *testing.T) {
	l, out := newBuffered(t, Config{Level: "info", Format: "console"})
	l.Info("notification sent", slog.String("session_id", "sess-1"))

	// tint abbreviates levels
	assert.Contains(t, out.String(), "INF")
	assert.Contains(t, out.String(), "notification sent")
	assert.Contains(t, out.String(), "sess-1")
}

func TestNew_UnknownFormatFallsBackToJSON(t *testing.T) {
	l, out := newBuffered(t, Config{Format: "logfmt"})
	l.Info("fallback")

	entries := decodeLines(t, out)
	require.Len(t, entries, 1)
	assert.Equal(t, "fallback", entries[0]["msg"])
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.log")

	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Info("written to file", slog.String("job_id", "job-1"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "written to file", entry["msg"])
	assert.Equal(t, "job-1", entry["job_id"])
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "app.log")})
	assert.ErrorContains(t, err, "failed to open log file")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	// Matching is case-sensitive
	assert.Equal(t, slog.LevelInfo, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	require.NotNil(t, l)
	l.Error("discarded")
	assert.NoError(t, l.Close())
}
