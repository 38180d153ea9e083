// Command trainer is the worker entry point: it fetches and extracts the
// dataset, runs training, publishes artifacts and reports the final metric.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"vision-trainer/config"
	"vision-trainer/core/metrics"
	"vision-trainer/core/repository"
	"vision-trainer/pkg/logging"
	"vision-trainer/storage"
	"vision-trainer/training"
	"vision-trainer/training/frameworks"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		log.Fatalf("Trainer failed: %v", err)
	}
}

// run executes one worker. Every resource it opens is released before it returns.
func run(ctx context.Context, args []string) error {
	wc := training.DefaultWorkerConfig()
	fs := flag.NewFlagSet("trainer", flag.ContinueOnError)
	wc.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logCfg := cfg.Log
	logCfg.Component = "trainer"
	logger := logging.New(logCfg)

	router, err := storage.OpenRouter(ctx, cfg, storage.SchemesOf(wc.DatasetURI, wc.Destination(os.Getenv))...)
	if err != nil {
		return err
	}

	publisher := storage.NewPublisher(router, logger, nil)
	if runID := os.Getenv("VT_RUN_ID"); runID != "" && os.Getenv("DATABASE_URL") != "" {
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Warn("Run ledger unavailable; artifacts will not be recorded")
		} else {
			defer db.Close()
			recorder := storage.NewCheckpointManager(repository.NewArtifactRepository(db))
			publisher = publisher.WithRecorder(runID, recorder)
		}
	}

	reporter := metrics.MultiReporter{metrics.NewHypertuneReporter()}
	if url := os.Getenv("PUSHGATEWAY_URL"); url != "" {
		reporter = append(reporter, metrics.NewPushReporter(url, "vision_trainer", os.Getenv("CLOUD_ML_TRIAL_ID")))
	}

	runner := training.NewRunner(frameworks.NewPyTorchTrainer(wc.Command, logger), logger)
	pipeline := training.NewPipeline(wc, router, runner, publisher, reporter, logger)

	result, err := pipeline.Run(ctx)
	if err != nil {
		logger.WithError(err).Error("Training pipeline failed")
		return err
	}
	logger.Info("Worker finished",
		"epochs", result.Run.History.Len(),
		"destination", result.Destination,
		"duration", result.Run.Duration.String(),
	)
	return nil
}
