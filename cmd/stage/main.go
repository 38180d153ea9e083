// Command stage zips a local dataset directory and uploads it to the
// staging bucket, optionally staging the trainer package as well.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"vision-trainer/config"
	"vision-trainer/core/staging"
	"vision-trainer/pkg/logging"
	"vision-trainer/storage"
)

func main() {
	dataset := flag.String("dataset", "", "dataset directory (overrides DATASET_PATH)")
	pkgDir := flag.String("package", "", "trainer source directory to stage as trainer-<version>.tar.gz")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dataset != "" {
		cfg.DatasetPath = *dataset
	}
	if err := cfg.ValidateStaging(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logCfg := cfg.Log
	logCfg.Component = "stager"
	logger := logging.New(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, err := storage.OpenRouter(ctx, cfg, cfg.StorageScheme)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	stager := staging.NewStager(router, cfg.StagingRoot(), logger, nil)

	uri, err := stager.StageDataset(ctx, cfg.DatasetPath)
	if err != nil {
		logger.WithError(err).Error("Dataset staging failed")
		os.Exit(1)
	}
	fmt.Println(uri)

	if *pkgDir != "" {
		uri, err := stager.StagePackage(ctx, *pkgDir, cfg.TrainerVersion)
		if err != nil {
			logger.WithError(err).Error("Package staging failed")
			os.Exit(1)
		}
		fmt.Println(uri)
	}
}
