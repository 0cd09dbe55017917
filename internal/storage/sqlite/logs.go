package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/scrapeherd/scrapeherd/internal/model"
	"github.com/scrapeherd/scrapeherd/internal/storage"
)

// InsertRunLog persists a log entry whose sequence the sequencer assigned.
func (db *DB) InsertRunLog(ctx context.Context, log model.RunLog) error {
	payload, err := jsonArg(log.Payload)
	if err != nil {
		return err
	}
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO run_logs (id, run_id, step_id, sequence, severity, message, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID.String(), log.RunID.String(), uuidArg(log.StepID), log.Sequence,
		string(log.Severity), log.Message, payload, log.CreatedAt,
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
	err := db.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), -1) FROM run_logs WHERE run_id = ?`, runID.String(),
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("storage: max run log sequence: %w", err)
	}
	return max, nil
}

// ListRunLogsAfter returns logs with sequence strictly greater than after,
// ascending. Pass -1 for the full history.
func (db *DB) ListRunLogsAfter(ctx context.Context, runID uuid.UUID, after int64) ([]model.RunLog, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, run_id, step_id, sequence, severity, message, payload, created_at
		 FROM run_logs WHERE run_id = ? AND sequence > ?
		 ORDER BY sequence ASC`, runID.String(), after,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list run logs: %w", err)
	}
	defer rows.Close()

	var logs []model.RunLog
	for rows.Next() {
		var (
			l       model.RunLog
			id, rid string
			stepID  sql.NullString
			payload sql.NullString
		)
		if err := rows.Scan(&id, &rid, &stepID, &l.Sequence, &l.Severity,
			&l.Message, &payload, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan run log: %w", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("storage: parse log id: %w", err)
		}
		if l.RunID, err = uuid.Parse(rid); err != nil {
			return nil, fmt.Errorf("storage: parse log run id: %w", err)
		}
		if l.StepID, err = uuidField(stepID); err != nil {
			return nil, err
		}
		if l.Payload, err = jsonField(payload); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// InsertExecutionLog persists an execution-scoped log entry.
func (db *DB) InsertExecutionLog(ctx context.Context, log model.ExecutionLog) error {
	payload, err := jsonArg(log.Payload)
	if err != nil {
		return err
	}
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO execution_logs (id, execution_id, run_id, sequence, severity, message, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID.String(), log.ExecutionID.String(), log.RunID.String(), log.Sequence,
		string(log.Severity), log.Message, payload, log.CreatedAt,
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
	err := db.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), -1) FROM execution_logs WHERE execution_id = ?`,
		executionID.String(),
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("storage: max execution log sequence: %w", err)
	}
	return max, nil
}

// ListExecutionLogsAfter returns execution logs with sequence strictly
// greater than after, ascending.
func (db *DB) ListExecutionLogsAfter(ctx context.Context, executionID uuid.UUID, after int64) ([]model.ExecutionLog, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, execution_id, run_id, sequence, severity, message, payload, created_at
		 FROM execution_logs WHERE execution_id = ? AND sequence > ?
		 ORDER BY sequence ASC`, executionID.String(), after,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list execution logs: %w", err)
	}
	defer rows.Close()

	var logs []model.ExecutionLog
	for rows.Next() {
		var (
			l        model.ExecutionLog
			id, eid  string
			rid      string
			payload  sql.NullString
		)
		if err := rows.Scan(&id, &eid, &rid, &l.Sequence, &l.Severity,
			&l.Message, &payload, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan execution log: %w", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("storage: parse log id: %w", err)
		}
		if l.ExecutionID, err = uuid.Parse(eid); err != nil {
			return nil, fmt.Errorf("storage: parse log execution id: %w", err)
		}
		if l.RunID, err = uuid.Parse(rid); err != nil {
			return nil, fmt.Errorf("storage: parse log run id: %w", err)
		}
		if l.Payload, err = jsonField(payload); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
