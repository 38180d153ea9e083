package training

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"vision-trainer/core/metrics"
	"vision-trainer/pkg/logging"
	"vision-trainer/storage"
)

// PipelineResult summarizes a worker run
type PipelineResult struct {
	Run         *RunResult
	FinalMetric *float64
	Destination string
	Published   *storage.PublishResult
}

// Pipeline is the worker flow: extract, train, extract the final metric,
// publish artifacts, report the metric
type Pipeline struct {
	cfg        WorkerConfig
	downloader Downloader
	runner     *Runner
	publisher  *storage.Publisher
	reporter   metrics.Reporter
	log        *logging.Logger
	getenv     func(string) string
}

// NewPipeline creates a pipeline. reporter may be nil.
func NewPipeline(
	cfg WorkerConfig,
	downloader Downloader,
	runner *Runner,
	publisher *storage.Publisher,
	reporter metrics.Reporter,
	log *logging.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		downloader: downloader,
		runner:     runner,
		publisher:  publisher,
		reporter:   reporter,
		log:        log,
		getenv:     os.Getenv,
	}
}

// Run executes the pipeline. Once training has succeeded, artifacts are
// published whatever became of the final metric; a metric error is
// returned only after publishing.
func (p *Pipeline) Run(ctx context.Context) (*PipelineResult, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.cfg.LocalOutputDir, 0o755); err != nil {
		return nil, err
	}

	p.log.Info("Fetching dataset", "uri", p.cfg.DatasetURI)
	archive, cleanup, err := FetchDataset(ctx, p.downloader, p.cfg.DatasetURI, os.TempDir(), p.cfg.GCSMount)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	p.log.Info("Extracting dataset", "archive", archive, "dst", p.cfg.LocalDataDir)
	files, err := ExtractArchive(archive, p.cfg.LocalDataDir)
	if err != nil {
		return nil, err
	}
	p.log.Info("Dataset extracted", "files", files)

	run, err := p.runner.Run(ctx, p.cfg.TrainConfig())
	if err != nil {
		return nil, err
	}
	result := &PipelineResult{Run: run, Destination: p.cfg.Destination(p.getenv)}

	metricErr := p.extractMetric(result)

	published, err := p.publisher.Publish(ctx, p.cfg.LocalOutputDir, result.Destination)
	if err != nil {
		if metricErr != nil {
			p.log.WithError(metricErr).Warn("Final metric unavailable")
		}
		return result, err
	}
	result.Published = published

	if metricErr != nil {
		msg := "Final metric unavailable; artifacts were uploaded"
		if !metrics.IsReportingError(metricErr) {
			msg = "Results document unreadable; artifacts were uploaded"
		}
		p.log.WithError(metricErr).Error(msg)
		return result, metricErr
	}
	if result.FinalMetric == nil {
		p.log.Info("No results document found; skipping final metric")
		return result, nil
	}

	p.log.Info("Final metric", "tag", p.cfg.MetricTag, "value", *result.FinalMetric)
	if p.reporter != nil {
		if err := p.reporter.Report(ctx, p.cfg.MetricTag, *result.FinalMetric, run.History.Len()); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (p *Pipeline) extractMetric(result *PipelineResult) error {
	if _, err := os.Stat(result.Run.ResultsPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	v, err := metrics.ExtractFromFile(result.Run.ResultsPath)
	if err != nil {
		return err
	}
	result.FinalMetric = &v
	return nil
}
