package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPretty(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewPrettyHandler(buf, &slog.HandlerOptions{Level: level}))
}

func TestNew_Format(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantJSON bool
	}{
		{"production defaults to json", Config{Environment: "production"}, true},
		{"development defaults to pretty", Config{Environment: "development"}, false},
		{"no environment is pretty", Config{}, false},
		{"explicit json wins", Config{Environment: "development", Format: "json"}, true},
		{"explicit pretty wins", Config{Environment: "production", Format: "pretty"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.cfg.Writer = &buf

			New(tt.cfg).Info("story started", "story_id", 4)

			out := buf.String()
			if tt.wantJSON {
				var entry map[string]any
				require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), out)
				assert.Equal(t, "story started", entry["msg"])
				assert.EqualValues(t, 4, entry["story_id"])
			} else {
				assert.Contains(t, out, "INF")
				assert.Contains(t, out, "story_id=4")
				assert.Contains(t, out, colorReset)
			}
		})
	}
}

func TestNew_DefaultsToStdout(t *testing.T) {
	l := New(Config{Level: slog.LevelInfo})
	require.NotNil(t, l.Logger)
	assert.NoError(t, l.Close())
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelWarn, Format: "json", Writer: &buf})

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")
	l.Error("error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line")
	assert.Contains(t, out, "error line")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DeBuG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})
	ctx := context.Background()

	assert.False(t, h.Enabled(ctx, slog.LevelDebug))
	assert.True(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelError))

	// Nil options fall back to info.
	bare := NewPrettyHandler(&bytes.Buffer{}, nil)
	require.NotNil(t, bare.opts)
	assert.False(t, bare.Enabled(ctx, slog.LevelDebug))
	assert.True(t, bare.Enabled(ctx, slog.LevelInfo))
}

func TestPrettyHandler_Line(t *testing.T) {
	var buf bytes.Buffer
	newPretty(&buf, slog.LevelDebug).Info("progress updated",
		"user_id", 7,
		"completed", true,
		"avg", 85.5,
		"elapsed", 1500*time.Millisecond,
	)

	out := buf.String()
	require.True(t, strings.HasSuffix(out, "\n"))
	assert.Regexp(t, `^\x1b\[2m\d{2}:\d{2}:\d{2}`, out)
	assert.Contains(t, out, "progress updated")
	assert.Contains(t, out, "user_id=7")
	assert.Contains(t, out, "completed=true")
	assert.Contains(t, out, "avg=85.5")
	assert.Contains(t, out, "elapsed=1.5s")
}

func TestPrettyHandler_NoAttrs(t *testing.T) {
	var buf bytes.Buffer
	newPretty(&buf, slog.LevelInfo).Info("sweep finished")

	_, after, found := strings.Cut(buf.String(), "sweep finished")
	require.True(t, found)
	assert.NotContains(t, after, "=")
}

func TestPrettyHandler_Levels(t *testing.T) {
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		var buf bytes.Buffer
		newPretty(&buf, slog.LevelDebug).Log(context.Background(), level, "x")

		want, color := formatLevel(level)
		assert.Contains(t, buf.String(), color+want)
	}

	custom, color := formatLevel(slog.LevelWarn + 2)
	assert.Equal(t, "WARN+2", custom)
	assert.Equal(t, colorGray, color)
}

func TestPrettyHandler_Source(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{AddSource: true})).Info("with source")

	assert.Contains(t, buf.String(), "logger_test.go:")
}

func TestPrettyHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)

	assert.Same(t, h, h.WithGroup(""))

	logger := slog.New(h).With("component", "scheduler").WithGroup("job").With("name", "stale")
	logger.Info("sweep", "paused", 2)

	out := buf.String()
	assert.Contains(t, out, "component=scheduler")
	assert.Contains(t, out, "job.name=stale")
	assert.Contains(t, out, "job.paused=2")

	// Deriving a logger leaves the parent untouched.
	buf.Reset()
	slog.New(h).Info("plain", "k", "v")
	assert.NotContains(t, buf.String(), "component=")
	assert.Contains(t, buf.String(), "k=v")
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "hola", formatValue(slog.StringValue("hola")))
	assert.Equal(t, "2026-03-01T12:00:00Z", formatValue(slog.TimeValue(ts)))
	assert.Equal(t, "5s", formatValue(slog.DurationValue(5*time.Second)))
	assert.Equal(t, "42", formatValue(slog.Int64Value(42)))
	assert.Equal(t, "redacted", formatValue(slog.AnyValue(redacted{})))
}

type redacted struct{}

func (redacted) LogValue() slog.Value { return slog.StringValue("redacted") }

func TestNew_FileReceivesJSON(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "server.log")

	l := New(Config{
		Level:      slog.LevelInfo,
		Format:     "pretty",
		Writer:     &console,
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	l.With("user_id", 7).Info("progress updated", "story_id", 3)
	l.Debug("filtered out")
	require.NoError(t, l.Close())

	assert.Contains(t, console.String(), "progress updated")
	assert.NotContains(t, console.String(), "filtered out")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "progress updated", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.EqualValues(t, 7, entry["user_id"])
	assert.EqualValues(t, 3, entry["story_id"])
}

func TestFanoutHandler_Levels(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := &fanoutHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewJSONHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.Same(t, h, h.WithGroup(""))

	logger := slog.New(h).WithGroup("req")
	logger.Info("only debug sink")
	logger.Warn("both sinks", "id", "abc")

	assert.Contains(t, debugBuf.String(), "only debug sink")
	assert.Contains(t, debugBuf.String(), `"req":{"id":"abc"}`)
	assert.NotContains(t, warnBuf.String(), "only debug sink")
	assert.Contains(t, warnBuf.String(), "both sinks")
}
