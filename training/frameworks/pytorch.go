package frameworks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"vision-trainer/core/models"
	"vision-trainer/pkg/logging"
	"vision-trainer/training"
)

// EpochPrefix marks stdout lines carrying one epoch's metrics as JSON
const EpochPrefix = "EPOCH "

// PyTorchTrainer runs the training entry point as a child process. The
// child prints one "EPOCH {...}" line per completed epoch and writes
// results.json into its output directory.
type PyTorchTrainer struct {
	command []string
	environ func() []string
	stderr  io.Writer
	log     *logging.Logger
}

// NewPyTorchTrainer creates a trainer for a command line such as
// "python3 -m trainer.fit"
func NewPyTorchTrainer(command string, log *logging.Logger) *PyTorchTrainer {
	return &PyTorchTrainer{
		command: strings.Fields(command),
		environ: os.Environ,
		stderr:  os.Stderr,
		log:     log,
	}
}

// Args renders cfg as entry point flags
func Args(cfg training.TrainConfig) []string {
	args := []string{
		"--dataset_dir", cfg.DatasetDir,
		"--output_dir", cfg.OutputDir,
		"--lr", strconv.FormatFloat(cfg.LearningRate, 'g', -1, 64),
		"--batch_size", strconv.Itoa(cfg.BatchSize),
		"--grad_accum_steps", strconv.Itoa(cfg.GradAccumSteps),
		"--epochs", strconv.Itoa(cfg.Epochs),
		"--num_workers", strconv.Itoa(cfg.NumWorkers),
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	return args
}

// Train implements training.Trainer
func (t *PyTorchTrainer) Train(ctx context.Context, cfg training.TrainConfig, onEpoch func(models.EpochRecord)) error {
	if len(t.command) == 0 {
		return fmt.Errorf("empty training command")
	}

	argv := append(append([]string(nil), t.command[1:]...), Args(cfg)...)
	cmd := exec.CommandContext(ctx, t.command[0], argv...)
	cmd.Env = BuildEnvironment(t.environ(), cfg.ExecutionMode)
	cmd.Stderr = t.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	t.log.Info("Launching trainer", "command", t.command[0], "args", strings.Join(argv, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start trainer: %w", err)
	}

	parseErr := t.scan(stdout, onEpoch)
	waitErr := cmd.Wait()

	if waitErr != nil {
		return fmt.Errorf("trainer exited: %w", waitErr)
	}
	return parseErr
}

// scan drains r, forwarding epoch lines to onEpoch and logging the rest.
// The first malformed epoch line is returned once r is exhausted.
func (t *PyTorchTrainer) scan(r io.Reader, onEpoch func(models.EpochRecord)) error {
	var firstErr error
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		rec, ok, err := ParseEpochLine(line)
		switch {
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
		case ok:
			onEpoch(rec)
		default:
			t.log.Info(line, "stream", "stdout")
		}
	}
	if err := sc.Err(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		io.Copy(io.Discard, r)
	}
	return firstErr
}

// ParseEpochLine decodes an "EPOCH {...}" line. ok is false for any other line.
func ParseEpochLine(line string) (models.EpochRecord, bool, error) {
	payload, found := strings.CutPrefix(strings.TrimSpace(line), EpochPrefix)
	if !found {
		return nil, false, nil
	}
	var rec models.EpochRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, false, fmt.Errorf("malformed epoch line %q: %w", line, err)
	}
	if rec == nil {
		return nil, false, fmt.Errorf("malformed epoch line %q: not an object", line)
	}
	return rec, true, nil
}
