package handlers

import (
	"net/http"
	"time"

	"vision-trainer/core/models"
	"vision-trainer/core/repository"
)

// summaryWindow caps how many runs the summary scans
const summaryWindow = 1000

// DashboardHandler handles dashboard API requests
type DashboardHandler struct {
	runRepo *repository.RunRepository
	now     func() time.Time
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(runRepo *repository.RunRepository) *DashboardHandler {
	return &DashboardHandler{runRepo: runRepo, now: time.Now}
}

// GetRunSummary handles GET /v1/dashboard/summary: run counts by state and
// provider, and the best final metric, for runs created in the period
func (h *DashboardHandler) GetRunSummary(w http.ResponseWriter, r *http.Request) {
	end := h.now()
	start := end.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid start_date format", http.StatusBadRequest)
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid end_date format", http.StatusBadRequest)
			return
		}
		end = t
	}

	runs, err := h.runRepo.ListRuns(r.Context(), nil, summaryWindow)
	if err != nil {
		http.Error(w, "Failed to fetch runs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	byState := map[models.JobState]int{}
	byProvider := map[models.Provider]int{}
	var best *models.RunRecord
	total := 0
	for _, run := range runs {
		if run.CreatedAt.Before(start) || run.CreatedAt.After(end) {
			continue
		}
		total++
		byState[run.State]++
		byProvider[run.Provider]++
		if run.FinalMetric != nil && (best == nil || *run.FinalMetric > *best.FinalMetric) {
			best = run
		}
	}

	response := map[string]interface{}{
		"period": map[string]interface{}{
			"start": start.Format(time.RFC3339),
			"end":   end.Format(time.RFC3339),
		},
		"runs": map[string]interface{}{
			"total":       total,
			"by_state":    byState,
			"by_provider": byProvider,
		},
	}
	if best != nil {
		response["best"] = map[string]interface{}{
			"run_id":       best.RunID,
			"final_metric": *best.FinalMetric,
			"output_dir":   best.BaseOutputDir,
		}
	}
	writeJSON(w, http.StatusOK, response)
}
