package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dialcore/dialcore/internal/call"
	"github.com/dialcore/dialcore/internal/database/models"
)

// callRecordRepo implements CallRecordRepository.
type callRecordRepo struct {
	db *DB
}

// NewCallRecordRepository creates a new CallRecordRepository.
func NewCallRecordRepository(db *DB) CallRecordRepository {
	return &callRecordRepo{db: db}
}

// Append inserts the in-flight record for a session that just started.
func (r *callRecordRepo) Append(ctx context.Context, s call.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_records (call_id, from_number, to_number, direction, state, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.From, s.To, string(s.Direction), string(s.State), s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting call record: %w", err)
	}
	return nil
}

// Finalize writes the terminal snapshot of a session onto its record.
func (r *callRecordRepo) Finalize(ctx context.Context, s call.Session) error {
	var recordingRef *string
	if s.RecordingRef != "" {
		recordingRef = &s.RecordingRef
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE call_records
		 SET state = ?, ended_at = ?, duration_seconds = ?, recording_ref = ?,
		     updated_at = datetime('now')
		 WHERE call_id = ?`,
		string(s.State), s.EndedAt, s.DurationSeconds, recordingRef, s.ID,
	)
	if err != nil {
		return fmt.Errorf("finalizing call record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("finalizing call record %s: no such record", s.ID)
	}
	return nil
}

const callRecordColumns = `id, call_id, from_number, to_number, direction, state,
	 started_at, ended_at, duration_seconds, recording_ref, created_at, updated_at`

// GetByCallID returns a record by its call ID, or nil if none exists.
func (r *callRecordRepo) GetByCallID(ctx context.Context, callID string) (*models.CallRecord, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE call_id = ?`, callID,
	))
}

// List returns call records matching the filter, newest first, along with
// the total count of matching rows.
func (r *callRecordRepo) List(ctx context.Context, filter models.CallRecordFilter) ([]models.CallRecord, int, error) {
	where, args := buildCallRecordWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM call_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + callRecordColumns + ` FROM call_records WHERE ` + where +
		` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call records: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var rec models.CallRecord
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.FromNumber, &rec.ToNumber,
			&rec.Direction, &rec.State, &rec.StartedAt, &rec.EndedAt,
			&rec.DurationSeconds, &rec.RecordingRef, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning call record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call record rows: %w", err)
	}

	return records, total, nil
}

// Summary aggregates records matching the filter. Average duration counts
// completed calls only; missed and failed calls would drag it to zero.
func (r *callRecordRepo) Summary(ctx context.Context, filter models.CallRecordFilter) (*models.CallSummary, error) {
	where, args := buildCallRecordWhere(filter)

	var s models.CallSummary
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN state = 'missed' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(CASE WHEN state = 'completed' THEN duration_seconds END), 0)
		 FROM call_records WHERE `+where, args...,
	).Scan(&s.TotalCalls, &s.Answered, &s.Missed, &s.Failed, &s.AvgDurationSecs)
	if err != nil {
		return nil, fmt.Errorf("summarizing call records: %w", err)
	}
	return &s, nil
}

// CountSince returns the number of records started at or after the given
// SQLite datetime expression value (e.g. "2026-09-01 00:00:00").
func (r *callRecordRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_records WHERE started_at >= ?`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting call records: %w", err)
	}
	return count, nil
}

// CountByState returns call record counts keyed by terminal or in-flight state.
func (r *callRecordRepo) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM call_records GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting call records by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scanning state count row: %w", err)
		}
		counts[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state count rows: %w", err)
	}

	return counts, nil
}

func buildCallRecordWhere(filter models.CallRecordFilter) (string, []any) {
	where := "1=1"
	args := []any{}

	if filter.StartDate != nil {
		where += " AND started_at >= ?"
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		where += " AND started_at <= ?"
		args = append(args, *filter.EndDate)
	}
	if filter.State != "" {
		where += " AND state = ?"
		args = append(args, filter.State)
	}
	if filter.Number != "" {
		where += " AND (from_number = ? OR to_number = ?)"
		args = append(args, filter.Number, filter.Number)
	}
	return where, args
}

func (r *callRecordRepo) scanOne(row *sql.Row) (*models.CallRecord, error) {
	var rec models.CallRecord
	err := row.Scan(&rec.ID, &rec.CallID, &rec.FromNumber, &rec.ToNumber,
		&rec.Direction, &rec.State, &rec.StartedAt, &rec.EndedAt,
		&rec.DurationSeconds, &rec.RecordingRef, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call record: %w", err)
	}
	return &rec, nil
}
