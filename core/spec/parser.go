// Package spec parses YAML run files that override the configured job settings
package spec

import (
	"errors"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"vision-trainer/config"
)

// RunSpec represents a YAML run file
type RunSpec struct {
	Run RunSection `yaml:"run"`
}

// RunSection holds the job settings a run file may override. Keys left out
// keep the configured values.
type RunSection struct {
	ModelFamily     string                      `yaml:"model_family"`
	Scheduler       string                      `yaml:"scheduler"`
	Dataset         string                      `yaml:"dataset"`
	Experiment      config.ExperimentConfig     `yaml:"experiment"`
	Machine         config.MachineConfig        `yaml:"machine"`
	Image           string                      `yaml:"image"`
	Module          string                      `yaml:"module"`
	TrainerVersion  string                      `yaml:"trainer_version"`
	Hyperparameters config.HyperparameterConfig `yaml:"hyperparameters"`
	Sweep           config.SweepConfig          `yaml:"sweep"`
}

// ParseRunSpec overlays specYAML on base and returns the resulting
// configuration. base is not modified. Unknown keys are rejected.
func ParseRunSpec(specYAML string, base *config.Config) (*config.Config, error) {
	cfg := *base
	spec := RunSpec{Run: sectionFrom(&cfg)}

	dec := yaml.NewDecoder(strings.NewReader(specYAML))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return nil, config.Invalid("spec", "failed to parse YAML: %v", err)
	}

	r := spec.Run
	cfg.ModelFamily = r.ModelFamily
	cfg.Scheduler = r.Scheduler
	cfg.DatasetPath = r.Dataset
	cfg.Experiment = r.Experiment
	cfg.Machine = r.Machine
	cfg.Image = r.Image
	cfg.Module = r.Module
	cfg.TrainerVersion = r.TrainerVersion
	cfg.Hyperparameters = r.Hyperparameters
	cfg.Sweep = r.Sweep

	if cfg.ModelFamily == "" {
		return nil, config.Missing("run.model_family")
	}
	return &cfg, nil
}

func sectionFrom(cfg *config.Config) RunSection {
	return RunSection{
		ModelFamily:     cfg.ModelFamily,
		Scheduler:       cfg.Scheduler,
		Dataset:         cfg.DatasetPath,
		Experiment:      cfg.Experiment,
		Machine:         cfg.Machine,
		Image:           cfg.Image,
		Module:          cfg.Module,
		TrainerVersion:  cfg.TrainerVersion,
		Hyperparameters: cfg.Hyperparameters,
		Sweep:           cfg.Sweep,
	}
}
