package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSONCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelInfo, "json", "trainer")

	l.WithRunID("20240102-030405").
		WithJob("customJobs/42").
		WithError(errors.New("boom")).
		WithDuration(1500*time.Millisecond).
		Info("Job finished", "state", "succeeded")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Job finished", line["msg"])
	assert.Equal(t, "trainer", line["component"])
	assert.Equal(t, "20240102-030405", line["run_id"])
	assert.Equal(t, "customJobs/42", line["job"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, float64(1500), line["duration_ms"])
	assert.Equal(t, "succeeded", line["state"])
}

func TestTextFormatKeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelInfo, "text", "")

	l.Info("Final metric", "tag", "mean_average_precision", "value", 0.55)
	assert.Contains(t, buf.String(), "tag=mean_average_precision value=0.55")
}

func TestTransferLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelDebug, "text", "")

	l.TransferLog("upload", "/tmp/a", "gs://b/a", 10, nil)
	assert.Contains(t, buf.String(), "level=DEBUG")

	buf.Reset()
	l.TransferLog("upload", "/tmp/a", "gs://b/a", 0, errors.New("denied"))
	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "error=denied")
}

func TestLevelsAndDiscard(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, slog.LevelWarn, "text", "")
	l.Info("hidden")
	l.Warn("shown")
	assert.False(t, strings.Contains(buf.String(), "hidden"))
	assert.Contains(t, buf.String(), "shown")

	assert.NotPanics(t, func() { Discard().Error("dropped") })
	assert.Same(t, l, l.WithError(nil))
}
