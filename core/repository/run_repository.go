package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vision-trainer/core/models"

	"github.com/google/uuid"
)

// RunRepository handles database operations for runs
type RunRepository struct {
	db  *DB
	now func() time.Time
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db, now: time.Now}
}

// CreateRun inserts a run and its initial event. A run id that is already
// recorded returns models.ErrRunExists and leaves the existing run untouched.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.State == "" {
		run.State = models.JobStatePending
	}
	now := r.now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	return r.db.withTx(ctx, func(tx txRunner) error {
		_, err := tx.exec(ctx, `
			INSERT INTO runs (
				id, run_id, kind, provider, experiment, display_name, job_name,
				state, base_output_dir, spec_yaml, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			run.ID,
			run.RunID,
			run.Kind,
			run.Provider,
			run.Experiment,
			run.DisplayName,
			run.JobName,
			run.State,
			run.BaseOutputDir,
			run.SpecYAML,
			now,
			now,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", models.ErrRunExists, run.RunID)
		}
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, run.RunID, nil, run.State, "run_created", nil, now)
	})
}

const runColumns = `
	id, run_id, kind, provider, experiment, display_name, job_name, state,
	base_output_dir, spec_yaml, final_metric, created_at, updated_at, finished_at
`

// GetRun retrieves a run by its run id
func (r *RunRepository) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	row := r.db.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns lists runs newest first, optionally filtered by state
func (r *RunRepository) ListRuns(ctx context.Context, state *models.JobState, limit int) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	args := []interface{}{}
	if state != nil {
		query += ` WHERE state = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, *state, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRunState moves a run to a new state and records the transition
func (r *RunRepository) UpdateRunState(
	ctx context.Context,
	runID string,
	from models.JobState,
	to models.JobState,
	reason string,
	meta map[string]interface{},
) error {
	now := r.now().UTC()
	return r.db.withTx(ctx, func(tx txRunner) error {
		var finishedAt *time.Time
		if to.IsTerminal() {
			finishedAt = &now
		}
		res, err := tx.exec(ctx, `
			UPDATE runs SET state = $1, updated_at = $2, finished_at = COALESCE($3, finished_at)
			WHERE run_id = $4
		`, to, now, finishedAt, runID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return insertEvent(ctx, tx, runID, &from, to, reason, meta, now)
	})
}

// SetJobName stores the scheduler resource name of a run
func (r *RunRepository) SetJobName(ctx context.Context, runID, jobName string) error {
	_, err := r.db.exec(ctx, `UPDATE runs SET job_name = $1, updated_at = $2 WHERE run_id = $3`,
		jobName, r.now().UTC(), runID)
	return err
}

// SetFinalMetric stores the reported metric of a run
func (r *RunRepository) SetFinalMetric(ctx context.Context, runID string, value float64) error {
	_, err := r.db.exec(ctx, `UPDATE runs SET final_metric = $1, updated_at = $2 WHERE run_id = $3`,
		value, r.now().UTC(), runID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s rowScanner) (*models.RunRecord, error) {
	var run models.RunRecord
	var finalMetric sql.NullFloat64
	var finishedAt sql.NullTime

	err := s.Scan(
		&run.ID,
		&run.RunID,
		&run.Kind,
		&run.Provider,
		&run.Experiment,
		&run.DisplayName,
		&run.JobName,
		&run.State,
		&run.BaseOutputDir,
		&run.SpecYAML,
		&finalMetric,
		&run.CreatedAt,
		&run.UpdatedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if finalMetric.Valid {
		v := finalMetric.Float64
		run.FinalMetric = &v
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func insertEvent(
	ctx context.Context,
	tx txRunner,
	runID string,
	from *models.JobState,
	to models.JobState,
	reason string,
	meta map[string]interface{},
	at time.Time,
) error {
	metaJSON := "{}"
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			metaJSON = string(b)
		}
	}

	var fromState interface{}
	if from != nil {
		fromState = string(*from)
	}

	_, err := tx.exec(ctx, `
		INSERT INTO run_events (run_id, at, from_state, to_state, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, runID, at, fromState, to, reason, metaJSON)
	return err
}
