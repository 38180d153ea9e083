package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"vision-trainer/core/models"
)

// EventRepository handles database operations for run events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetRunEvents retrieves events for a run, newest first
func (r *EventRepository) GetRunEvents(ctx context.Context, runID string, limit int) ([]models.RunEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.query(ctx, `
		SELECT id, run_id, at, from_state, to_state, reason, meta_json
		FROM run_events
		WHERE run_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.RunEvent
	for rows.Next() {
		var event models.RunEvent
		var fromState sql.NullString
		var metaJSON string

		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.At,
			&fromState,
			&event.ToState,
			&event.Reason,
			&metaJSON,
		)
		if err != nil {
			return nil, err
		}

		if fromState.Valid {
			state := models.JobState(fromState.String)
			event.FromState = &state
		}

		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &event.MetaJSON)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}
