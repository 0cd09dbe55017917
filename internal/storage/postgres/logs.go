package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

// InsertRunLog persists a log entry whose sequence the sequencer assigned.
// A (run_id, sequence) collision means another appender won the race.
func (db *DB) InsertRunLog(ctx context.Context, log model.RunLog) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO run_logs (id, run_id, step_id, sequence, severity, message, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.RunID, log.StepID, log.Sequence,
		string(log.Severity), log.Message, log.Payload, log.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrSequenceConflict
		}
		return fmt.Errorf("storage: insert run log: %w", err)
	}
	return nil
}

// MaxRunLogSequence returns the highest sequence for a run, or -1 when the
// run has no logs.
func (db *DB) MaxRunLogSequence(ctx context.Context, runID uuid.UUID) (int64, error) {
	var max int64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), -1) FROM run_logs WHERE run_id = $1`, runID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("storage: max run log sequence: %w", err)
	}
	return max, nil
}

// ListRunLogsAfter returns logs with sequence strictly greater than after,
// ascending. Pass -1 for the full history.
func (db *DB) ListRunLogsAfter(ctx context.Context, runID uuid.UUID, after int64) ([]model.RunLog, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, step_id, sequence, severity, message, payload, created_at
		 FROM run_logs WHERE run_id = $1 AND sequence > $2
		 ORDER BY sequence ASC`, runID, after,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list run logs: %w", err)
	}
	defer rows.Close()

	var logs []model.RunLog
	for rows.Next() {
		var l model.RunLog
		if err := rows.Scan(
			&l.ID, &l.RunID, &l.StepID, &l.Sequence, &l.Severity,
			&l.Message, &l.Payload, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan run log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// InsertExecutionLog persists an execution-scoped log entry.
func (db *DB) InsertExecutionLog(ctx context.Context, log model.ExecutionLog) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO execution_logs (id, execution_id, run_id, sequence, severity, message, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.ExecutionID, log.RunID, log.Sequence,
		string(log.Severity), log.Message, log.Payload, log.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrSequenceConflict
		}
		return fmt.Errorf("storage: insert execution log: %w", err)
	}
	return nil
}

// MaxExecutionLogSequence returns the highest sequence for an execution,
// or -1 when it has no logs.
func (db *DB) MaxExecutionLogSequence(ctx context.Context, executionID uuid.UUID) (int64, error) {
	var max int64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), -1) FROM execution_logs WHERE execution_id = $1`, executionID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("storage: max execution log sequence: %w", err)
	}
	return max, nil
}

// ListExecutionLogsAfter returns execution logs with sequence strictly
// greater than after, ascending.
func (db *DB) ListExecutionLogsAfter(ctx context.Context, executionID uuid.UUID, after int64) ([]model.ExecutionLog, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, execution_id, run_id, sequence, severity, message, payload, created_at
		 FROM execution_logs WHERE execution_id = $1 AND sequence > $2
		 ORDER BY sequence ASC`, executionID, after,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list execution logs: %w", err)
	}
	defer rows.Close()

	var logs []model.ExecutionLog
	for rows.Next() {
		var l model.ExecutionLog
		if err := rows.Scan(
			&l.ID, &l.ExecutionID, &l.RunID, &l.Sequence, &l.Severity,
			&l.Message, &l.Payload, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan execution log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
