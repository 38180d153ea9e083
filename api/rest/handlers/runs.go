package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"vision-trainer/config"
	"vision-trainer/core/models"
	"vision-trainer/core/repository"
)

const maxSpecBytes = 1 << 20

// Launcher starts runs from YAML run files
type Launcher interface {
	Launch(specYAML string, kind models.JobKind) (models.Run, error)
}

// RunHandler handles run-related HTTP requests
type RunHandler struct {
	runRepo      *repository.RunRepository
	eventRepo    *repository.EventRepository
	artifactRepo *repository.ArtifactRepository
	launcher     Launcher
}

// NewRunHandler creates a new run handler
func NewRunHandler(
	runRepo *repository.RunRepository,
	eventRepo *repository.EventRepository,
	artifactRepo *repository.ArtifactRepository,
	launcher Launcher,
) *RunHandler {
	return &RunHandler{
		runRepo:      runRepo,
		eventRepo:    eventRepo,
		artifactRepo: artifactRepo,
		launcher:     launcher,
	}
}

// SubmitRunResponse is returned when a run is accepted
type SubmitRunResponse struct {
	RunID      string `json:"run_id"`
	Kind       string `json:"kind"`
	OutputDir  string `json:"output_dir"`
	AcceptedAt string `json:"accepted_at"`
}

// SubmitRun handles POST /v1/runs. The body is a YAML run file; ?kind=tuning
// submits a sweep. The run continues after the response is written.
func (h *RunHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	kind := models.JobKind(r.URL.Query().Get("kind"))
	switch kind {
	case "":
		kind = models.JobKindCustom
	case models.JobKindCustom, models.JobKindTuning:
	default:
		http.Error(w, "Invalid kind: "+string(kind), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSpecBytes))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	run, err := h.launcher.Launch(string(body), kind)
	if err != nil {
		var cerr *config.ConfigError
		if errors.As(err, &cerr) {
			http.Error(w, "Invalid run spec: "+err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, models.ErrRunExists) {
			http.Error(w, "Run id already taken, retry: "+err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Failed to start run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitRunResponse{
		RunID:      run.ID,
		Kind:       string(kind),
		OutputDir:  run.BaseOutputDir,
		AcceptedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// GetRun handles GET /v1/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runView(run))
}

// ListRuns handles GET /v1/runs
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	var state *models.JobState
	if s := r.URL.Query().Get("state"); s != "" {
		st := models.JobState(s)
		state = &st
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.runRepo.ListRuns(r.Context(), state, limit)
	if err != nil {
		http.Error(w, "Failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(runs))
	for i, run := range runs {
		items[i] = runView(run)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// GetRunEvents handles GET /v1/runs/{id}/events
func (h *RunHandler) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}

	events, err := h.eventRepo.GetRunEvents(r.Context(), run.RunID, 100)
	if err != nil {
		http.Error(w, "Failed to fetch events: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(events))
	for i, event := range events {
		item := map[string]interface{}{
			"at":       event.At,
			"to_state": event.ToState,
			"reason":   event.Reason,
		}
		if event.FromState != nil {
			item["from_state"] = *event.FromState
		}
		if len(event.MetaJSON) > 0 {
			item["meta"] = event.MetaJSON
		}
		items[i] = item
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// GetRunArtifacts handles GET /v1/runs/{id}/artifacts
func (h *RunHandler) GetRunArtifacts(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var artifactType *models.ArtifactType
	if typeParam := r.URL.Query().Get("type"); typeParam != "" {
		t := models.ArtifactType(typeParam)
		artifactType = &t
	}

	artifacts, err := h.artifactRepo.GetRunArtifacts(r.Context(), run.RunID, artifactType)
	if err != nil {
		http.Error(w, "Failed to fetch artifacts: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(artifacts))
	for i, artifact := range artifacts {
		items[i] = map[string]interface{}{
			"type":       artifact.Type,
			"uri":        artifact.URI,
			"created_at": artifact.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *RunHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.RunRecord, bool) {
	runID := mux.Vars(r)["id"]
	run, err := h.runRepo.GetRun(r.Context(), runID)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, "Failed to fetch run: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

func runView(run *models.RunRecord) map[string]interface{} {
	view := map[string]interface{}{
		"run_id":       run.RunID,
		"kind":         run.Kind,
		"provider":     run.Provider,
		"state":        run.State,
		"display_name": run.DisplayName,
		"output_dir":   run.BaseOutputDir,
		"timestamps": map[string]interface{}{
			"created_at":  run.CreatedAt,
			"updated_at":  run.UpdatedAt,
			"finished_at": run.FinishedAt,
		},
	}
	if run.Experiment != "" {
		view["experiment"] = run.Experiment
	}
	if run.JobName != "" {
		view["job"] = run.JobName
	}
	if run.FinalMetric != nil {
		view["final_metric"] = *run.FinalMetric
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
