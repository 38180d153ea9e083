// Command submit launches a training run or a hyperparameter sweep and
// waits for it to finish.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vision-trainer/config"
	"vision-trainer/core/repository"
	"vision-trainer/core/spec"
	"vision-trainer/core/submission"
	"vision-trainer/pkg/logging"
	"vision-trainer/providers"
)

func main() {
	sweep := flag.Bool("sweep", false, "submit a hyperparameter sweep instead of a single run")
	specPath := flag.String("spec", "", "YAML run file overriding the configured job settings")
	poll := flag.Duration("poll", 30*time.Second, "job state polling interval")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var specYAML string
	if *specPath != "" {
		data, err := os.ReadFile(*specPath)
		if err != nil {
			log.Fatalf("Failed to read run file: %v", err)
		}
		specYAML = string(data)
		if cfg, err = spec.ParseRunSpec(specYAML, cfg); err != nil {
			log.Fatalf("Invalid run file: %v", err)
		}
	}

	if err := cfg.ValidateSubmission(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *sweep {
		if err := cfg.ValidateSweep(); err != nil {
			log.Fatalf("Invalid sweep configuration: %v", err)
		}
	}

	logCfg := cfg.Log
	logCfg.Component = "submit"
	logger := logging.New(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var recorder submission.RunRecorder
	if db, err := repository.NewDB(cfg.DatabaseURL); err != nil {
		logger.WithError(err).Warn("Run ledger unavailable; continuing without it")
	} else {
		defer db.Close()
		recorder = repository.NewRunRepository(db)
	}

	sched, release, err := providers.NewScheduler(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	defer release()

	ctrl := submission.NewController(cfg, sched, recorder, nil, logger, *poll).WithSpecYAML(specYAML)

	var result *submission.SubmissionResult
	if *sweep {
		result, err = ctrl.SubmitSweep(ctx)
	} else {
		result, err = ctrl.SubmitRun(ctx)
	}
	if err != nil {
		logger.WithError(err).Error("Submission failed")
		os.Exit(1)
	}

	fmt.Printf("run %s %s: %s\n", result.Run.ID, result.State, result.OutputDir)
	if t := result.BestTrial; t != nil && t.Metric != nil {
		fmt.Printf("best trial %s: %s=%g %v\n", t.ID, cfg.Sweep.Metric, *t.Metric, t.Parameters)
	}
}
