// Package providers selects the job scheduler named in the configuration
package providers

import (
	"context"
	"fmt"

	"vision-trainer/config"
	"vision-trainer/core/submission"
	"vision-trainer/pkg/logging"
	"vision-trainer/providers/aws"
	"vision-trainer/providers/gcp"
	"vision-trainer/providers/local"
)

// NewScheduler returns the scheduler for cfg.Scheduler and a function
// releasing its clients
func NewScheduler(ctx context.Context, cfg *config.Config, log *logging.Logger) (submission.Scheduler, func(), error) {
	switch cfg.Scheduler {
	case "vertex":
		s, err := gcp.NewVertexScheduler(ctx, cfg.Project, cfg.Location, log)
		if err != nil {
			return nil, nil, fmt.Errorf("vertex scheduler: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn("Failed to close Vertex clients", "error", err)
			}
		}, nil

	case "sagemaker":
		client, err := aws.NewClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, nil, fmt.Errorf("aws client: %w", err)
		}
		s := aws.NewSageMakerScheduler(client.SageMaker(), client.InstanceChecker(), cfg.SageMakerRole, log)
		return s, func() {}, nil

	case "local":
		run := local.ExecJob(cfg.LocalTrainerBin, cfg.Sweep.Metric, log)
		return local.NewScheduler(run, log), func() {}, nil

	default:
		return nil, nil, config.Invalid("SCHEDULER", "unknown scheduler %q", cfg.Scheduler)
	}
}
