package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-trainer/core/models"
)

func TestExtractFromJSON_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want float64
	}{
		{
			name: "nested results sequence",
			doc:  `{"results": [{"epoch":1,"val_mAP":0.40},{"epoch":2,"val_mAP":0.55}]}`,
			want: 0.55,
		},
		{
			name: "single row sequence with alternate key",
			doc:  `[{"map":0.31}]`,
			want: 0.31,
		},
		{
			name: "flat mapping",
			doc:  `{"epoch":3,"test_map":0.61}`,
			want: 0.61,
		},
		{
			name: "only the last row counts",
			doc:  `[{"val_mAP":0.9},{"mAP":0.2}]`,
			want: 0.2,
		},
		{
			name: "key priority within final row",
			doc:  `[{"test_map":0.1,"mAP":0.3,"val_map":0.7}]`,
			want: 0.7,
		},
		{
			name: "null value is skipped",
			doc:  `[{"val_mAP":null,"map":0.44}]`,
			want: 0.44,
		},
		{
			name: "history key searched before metrics",
			doc:  `{"history":[{"mAP":0.12}],"metrics":[{"mAP":0.99}]}`,
			want: 0.12,
		},
		{
			name: "empty nested sequence falls through to next key",
			doc:  `{"history":[],"metrics":[{"val_mAP":0.5}]}`,
			want: 0.5,
		},
		{
			name: "numeric string coerced",
			doc:  `{"val_mAP":"0.25"}`,
			want: 0.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractFromJSON([]byte(tt.doc))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestExtractFinalMetric_MetricNotFound(t *testing.T) {
	_, err := ExtractFromJSON([]byte(`{"foo": 1}`))

	var merr *MetricNotFoundError
	require.True(t, errors.As(err, &merr), "got %v", err)
	assert.Equal(t, []string{"foo"}, merr.Available)
	assert.Contains(t, err.Error(), "foo")
}

func TestExtractFinalMetric_KeysSorted(t *testing.T) {
	_, err := ExtractFinalMetric([]any{map[string]any{"zeta": 1.0, "alpha": 2.0, "loss": nil}})

	var merr *MetricNotFoundError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, []string{"alpha", "loss", "zeta"}, merr.Available)
}

func TestExtractFinalMetric_FlatWhenNestedNotRecords(t *testing.T) {
	doc := map[string]any{"results": []any{1.0, 2.0}, "val_mAP": 0.8}
	got, err := ExtractFinalMetric(doc)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got)
}

func TestExtractFinalMetric_FormatErrors(t *testing.T) {
	tests := []struct {
		name  string
		doc   any
		shape string
	}{
		{"string", "results", "string"},
		{"number", 3.0, "number"},
		{"null", nil, "null"},
		{"bool", true, "bool"},
		{"empty array", []any{}, "array"},
		{"array of numbers", []any{1.0, 2.0}, "array"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractFinalMetric(tt.doc)
			var ferr *FormatError
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, tt.shape, ferr.Shape)
			assert.True(t, IsReportingError(err))
		})
	}
}

func TestExtractFinalMetric_NonNumericMetric(t *testing.T) {
	_, err := ExtractFinalMetric(map[string]any{"val_mAP": true})
	var ferr *FormatError
	require.ErrorAs(t, err, &ferr)
	assert.Contains(t, ferr.Detail, "val_mAP")
}

func TestExtractFromJSON_Invalid(t *testing.T) {
	_, err := ExtractFromJSON([]byte(`{not json`))
	var ferr *FormatError
	assert.ErrorAs(t, err, &ferr)
}

func TestExtractFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, models.ResultsFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"metrics":[{"epoch":1,"mAP":0.5}]}`), 0o644))

	got, err := ExtractFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got)

	_, err = ExtractFromFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.False(t, IsReportingError(err), "I/O failures are not reporting errors")
}

func TestExtractFromHistory(t *testing.T) {
	var h models.History
	_, err := ExtractFromHistory(&h)
	assert.True(t, IsReportingError(err))

	h.Append(models.EpochRecord{"epoch": 1, "val_mAP": 0.4})
	h.Append(models.EpochRecord{"epoch": 2, "val_mAP": 0.55})

	got, err := ExtractFromHistory(&h)
	require.NoError(t, err)
	assert.Equal(t, 0.55, got)
}

func TestExtractFinalMetric_TypedSequences(t *testing.T) {
	got, err := ExtractFinalMetric([]models.EpochRecord{{"map": 0.1}, {"map": 0.2}})
	require.NoError(t, err)
	assert.Equal(t, 0.2, got)

	got, err = ExtractFinalMetric(models.EpochRecord{"history": []any{map[string]any{"mAP": 0.3}}})
	require.NoError(t, err)
	assert.Equal(t, 0.3, got)
}
