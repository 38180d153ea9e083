package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vision-trainer/api/rest/handlers"
	"vision-trainer/core/repository"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, db *repository.DB, launcher handlers.Launcher, gatherer prometheus.Gatherer) {
	runRepo := repository.NewRunRepository(db)
	eventRepo := repository.NewEventRepository(db)
	artifactRepo := repository.NewArtifactRepository(db)
	runHandler := handlers.NewRunHandler(runRepo, eventRepo, artifactRepo, launcher)
	dashboardHandler := handlers.NewDashboardHandler(runRepo)

	api := r.PathPrefix("/v1").Subrouter()

	// Run endpoints
	api.HandleFunc("/runs", runHandler.SubmitRun).Methods("POST")
	api.HandleFunc("/runs", runHandler.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", runHandler.GetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/events", runHandler.GetRunEvents).Methods("GET")
	api.HandleFunc("/runs/{id}/artifacts", runHandler.GetRunArtifacts).Methods("GET")

	// Dashboard
	api.HandleFunc("/dashboard/summary", dashboardHandler.GetRunSummary).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
}
