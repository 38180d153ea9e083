package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"vision-trainer/api/rest/routes"
	"vision-trainer/config"
	"vision-trainer/core/monitoring"
	"vision-trainer/core/repository"
	"vision-trainer/core/submission"
	"vision-trainer/pkg/logging"
	"vision-trainer/providers"
)

const pollInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logCfg := cfg.Log
	logCfg.Component = "server"
	logger := logging.New(logCfg)

	// Initialize database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	logger.Info("Database connected", "driver", db.Driver())

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(reg)

	// Runs outlive their request but not the server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schedulerFor := func(ctx context.Context, c *config.Config) (submission.Scheduler, func(), error) {
		return providers.NewScheduler(ctx, c, logger)
	}
	launcher := submission.NewLauncher(ctx, cfg, schedulerFor, repository.NewRunRepository(db), metrics, logger, pollInterval)

	r := mux.NewRouter()
	routes.SetupRoutes(r, db, launcher, reg)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		logger.Info("Starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	cancel()
	launcher.Wait()
	logger.Info("Server exited")
}
