package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiostream/internal/logger"
)

func TestSlogLoggerLevels(t *testing.T) {
	testCases := []struct {
		name    string
		level   logger.LogLevel
		logFunc func(l logger.Logger)
		visible bool
	}{
		{"debug hidden at info", logger.LogLevelInfo, func(l logger.Logger) { l.Debug("msg") }, false},
		{"info visible at info", logger.LogLevelInfo, func(l logger.Logger) { l.Info("msg") }, true},
		{"warn visible at info", logger.LogLevelInfo, func(l logger.Logger) { l.Warn("msg") }, true},
		{"trace visible at trace", logger.LogLevelTrace, func(l logger.Logger) { l.Trace("msg") }, true},
		{"info hidden at error", logger.LogLevelError, func(l logger.Logger) { l.Info("msg") }, false},
		{"explicit level", logger.LogLevelDebug, func(l logger.Logger) { l.Log(logger.LogLevelDebug, "msg") }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			tc.logFunc(logger.NewSlogLogger(&buf, tc.level, time.UTC))
			assert.Equal(t, tc.visible, strings.Contains(buf.String(), "msg"))
		})
	}
}

func TestModuleAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelDebug, time.UTC).
		Module("resource").
		Module("stream").
		With(logger.String("asset", "birds.flac"))

	log.Info("page filled", logger.Uint64("frames", 44100), logger.Bool("looping", false))

	out := buf.String()
	assert.Contains(t, out, "[resource.stream]")
	assert.Contains(t, out, "asset=birds.flac")
	assert.Contains(t, out, "frames=44100")
	assert.Contains(t, out, "looping=false")
}

func TestWithContextTraceID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC)

	ctx := logger.WithTraceID(context.Background(), "abc-123")
	log.WithContext(ctx).Info("traced")
	assert.Contains(t, buf.String(), "trace_id=abc-123")

	buf.Reset()
	log.WithContext(context.Background()).Info("untraced")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
	})
	require.NoError(t, err)

	cl.Module("jobqueue").Debug("job posted", logger.String("kind", "page_stream"))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "job posted", record["msg"])
	assert.Equal(t, "jobqueue", record["module"])
	assert.Equal(t, "page_stream", record["kind"])
}

func TestCentralLoggerInvalidTimezone(t *testing.T) {
	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Not/AZone"})
	require.Error(t, err)

	_, err = logger.NewCentralLogger(nil)
	require.Error(t, err)
}
