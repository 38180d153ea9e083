// Package metrics extracts the final quality metric from training results
// and reports it to hyperparameter-tuning sinks.
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"vision-trainer/core/models"
)

// NestedKeys are the container keys searched for an epoch sequence, in order
var NestedKeys = []string{"history", "results", "metrics"}

// MetricKeys are the accepted metric names, in priority order
var MetricKeys = []string{"val_mAP", "val_map", "mAP", "map", "test_mAP", "test_map"}

// shape is the resolved container variant of a results document
type shape int

const (
	shapeRows   shape = iota // [ {...}, {...} ]
	shapeNested              // {"history": [ {...} ]}
	shapeFlat                // {...}
)

func (s shape) String() string {
	switch s {
	case shapeRows:
		return "rows"
	case shapeNested:
		return "nested"
	default:
		return "flat"
	}
}

// resolved is a document normalized to its final row
type resolved struct {
	shape shape
	key   string // nested key for shapeNested
	row   map[string]any
}

// ExtractFinalMetric returns the final metric of a decoded results document
func ExtractFinalMetric(doc any) (float64, error) {
	r, err := resolve(doc)
	if err != nil {
		return 0, err
	}
	return FindMetric(r.row)
}

// ExtractFromJSON decodes a results document and extracts its final metric
func ExtractFromJSON(data []byte) (float64, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, &FormatError{Shape: "invalid json", Detail: err.Error()}
	}
	return ExtractFinalMetric(doc)
}

// ExtractFromFile reads a results document from disk
func ExtractFromFile(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read results %s: %w", path, err)
	}
	return ExtractFromJSON(data)
}

// ExtractFromHistory extracts the final metric from an in-memory history
func ExtractFromHistory(h *models.History) (float64, error) {
	last, ok := h.Last()
	if !ok {
		return 0, &FormatError{Shape: "array", Detail: "history is empty"}
	}
	return FindMetric(last)
}

// FindMetric scans row for the first accepted key holding a non-null value
func FindMetric(row map[string]any) (float64, error) {
	for _, key := range MetricKeys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return 0, &FormatError{Shape: describe(v), Detail: fmt.Sprintf("metric %q: %v", key, err)}
		}
		return f, nil
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return 0, &MetricNotFoundError{
		Accepted:  append([]string(nil), MetricKeys...),
		Available: keys,
	}
}

// IsReportingError reports whether err came from parsing or lookup, as
// opposed to I/O. Reporting errors never block artifact upload.
func IsReportingError(err error) bool {
	var ferr *FormatError
	var merr *MetricNotFoundError
	return errors.As(err, &ferr) || errors.As(err, &merr)
}

func resolve(doc any) (resolved, error) {
	switch v := doc.(type) {
	case []any:
		if row, ok := lastRecord(v); ok {
			return resolved{shape: shapeRows, row: row}, nil
		}
		if len(v) == 0 {
			return resolved{}, &FormatError{Shape: "array", Detail: "empty sequence"}
		}
		return resolved{}, &FormatError{Shape: "array", Detail: "last element is " + describe(v[len(v)-1])}
	case []map[string]any:
		if len(v) > 0 {
			return resolved{shape: shapeRows, row: v[len(v)-1]}, nil
		}
		return resolved{}, &FormatError{Shape: "array", Detail: "empty sequence"}
	case []models.EpochRecord:
		if len(v) > 0 {
			return resolved{shape: shapeRows, row: v[len(v)-1]}, nil
		}
		return resolved{}, &FormatError{Shape: "array", Detail: "empty sequence"}
	case models.EpochRecord:
		return resolve(map[string]any(v))
	case map[string]any:
		for _, key := range NestedKeys {
			seq, ok := v[key].([]any)
			if !ok {
				continue
			}
			if row, ok := lastRecord(seq); ok {
				return resolved{shape: shapeNested, key: key, row: row}, nil
			}
		}
		return resolved{shape: shapeFlat, row: v}, nil
	default:
		return resolved{}, &FormatError{Shape: describe(doc)}
	}
}

func lastRecord(seq []any) (map[string]any, bool) {
	if len(seq) == 0 {
		return nil, false
	}
	row, ok := seq[len(seq)-1].(map[string]any)
	return row, ok
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("not a number: %s", describe(v))
	}
}

// describe names the JSON shape of a decoded value
func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
