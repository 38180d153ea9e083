package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultMetricTag is the objective name reported after each trial
const DefaultMetricTag = "mean_average_precision"

// DefaultHypertuneFile is where the tuning service collects trial metrics
const DefaultHypertuneFile = "/tmp/hypertune/output.metrics"

// Reporter sends the final metric of a trial to a tuning metric sink
type Reporter interface {
	Report(ctx context.Context, tag string, value float64, step int) error
}

// HypertuneReporter appends metric lines to the file the tuning service watches
type HypertuneReporter struct {
	path  string
	trial string
	now   func() time.Time
}

// NewHypertuneReporter creates a reporter honoring CLOUD_ML_HP_METRIC_FILE and CLOUD_ML_TRIAL_ID
func NewHypertuneReporter() *HypertuneReporter {
	path := os.Getenv("CLOUD_ML_HP_METRIC_FILE")
	if path == "" {
		path = DefaultHypertuneFile
	}
	trial := os.Getenv("CLOUD_ML_TRIAL_ID")
	if trial == "" {
		trial = "0"
	}
	return &HypertuneReporter{path: path, trial: trial, now: time.Now}
}

// Path returns the metrics file path
func (r *HypertuneReporter) Path() string {
	return r.path
}

// Report appends one JSON line. The timestamp is in fractional seconds;
// every other value is a string.
func (r *HypertuneReporter) Report(_ context.Context, tag string, value float64, step int) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create metric dir: %w", err)
	}

	line := map[string]any{
		"timestamp":   float64(r.now().UnixNano()) / 1e9,
		"trial":       r.trial,
		tag:           strconv.FormatFloat(value, 'g', -1, 64),
		"global_step": strconv.Itoa(step),
	}
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open metric file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write metric file: %w", err)
	}
	return nil
}

// PushReporter pushes the final metric to a Prometheus Pushgateway
type PushReporter struct {
	url   string
	job   string
	trial string
}

// NewPushReporter creates a reporter for the given gateway URL
func NewPushReporter(url, job, trial string) *PushReporter {
	return &PushReporter{url: url, job: job, trial: trial}
}

var invalidMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

// GaugeName is the pushed gauge name for tag, with characters Prometheus
// does not allow in metric names replaced by '_'
func GaugeName(tag string) string {
	return "final_" + invalidMetricChars.ReplaceAllString(tag, "_")
}

// Report pushes a gauge named after tag
func (r *PushReporter) Report(ctx context.Context, tag string, value float64, step int) error {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vision_trainer",
		Name:      GaugeName(tag),
		Help:      "Final evaluation metric of the training run",
	})
	gauge.Set(value)

	steps := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vision_trainer",
		Name:      "final_global_step",
		Help:      "Number of epochs recorded when the final metric was taken",
	})
	steps.Set(float64(step))

	pusher := push.New(r.url, r.job).
		Collector(gauge).
		Collector(steps).
		Grouping("trial", r.trial)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metric to %s: %w", r.url, err)
	}
	return nil
}

// MultiReporter fans a metric out to several reporters, stopping at the first error
type MultiReporter []Reporter

// Report calls every reporter in order
func (m MultiReporter) Report(ctx context.Context, tag string, value float64, step int) error {
	for _, r := range m {
		if err := r.Report(ctx, tag, value, step); err != nil {
			return err
		}
	}
	return nil
}

// LastReported returns the value of tag in the last line of a hypertune
// metrics file written by HypertuneReporter, or nil if tag never appears
func LastReported(path, tag string) (*float64, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last *float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line map[string]any
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		raw, ok := line[tag]
		if !ok {
			continue
		}
		var v float64
		switch x := raw.(type) {
		case float64:
			v = x
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", path, tag, err)
			}
			v = f
		default:
			return nil, fmt.Errorf("%s: %s: unexpected value %v", path, tag, raw)
		}
		last = &v
	}
	return last, sc.Err()
}
