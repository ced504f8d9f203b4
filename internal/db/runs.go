package db

import (
	"context"
	"time"
)

// RunRecord is one archived monitoring run. The full report travels as JSON;
// the count columns exist so the archive can be queried without unpacking it.
type RunRecord struct {
	ID              string
	StartedAt       time.Time
	CompletedAt     time.Time
	OKCount         int
	NOKCount        int
	WokenAttempted  int
	WokenSucceeded  int
	LowBatteryCount int
	AnyFailing      bool
	Error           *string
	Report          []byte
}

// EnsureSchema creates the archive table when it does not exist yet.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS monitor_runs (
	id               text PRIMARY KEY,
	started_at       timestamptz NOT NULL,
	completed_at     timestamptz NOT NULL,
	ok_count         integer NOT NULL,
	nok_count        integer NOT NULL,
	woken_attempted  integer NOT NULL,
	woken_succeeded  integer NOT NULL,
	low_battery      integer NOT NULL,
	any_failing      boolean NOT NULL,
	last_error       text,
	report           jsonb NOT NULL
)`)
	return err
}

// InsertRun archives one completed run.
func (p *Pool) InsertRun(ctx context.Context, rec RunRecord) error {
	if p == nil || p.pool == nil {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO monitor_runs (
	id, started_at, completed_at, ok_count, nok_count,
	woken_attempted, woken_succeeded, low_battery, any_failing, last_error, report
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.StartedAt, rec.CompletedAt, rec.OKCount, rec.NOKCount,
		rec.WokenAttempted, rec.WokenSucceeded, rec.LowBatteryCount,
		rec.AnyFailing, rec.Error, rec.Report,
	)
	return err
}

// ListRuns returns the most recent runs, newest first.
func (p *Pool) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, started_at, completed_at, ok_count, nok_count,
       woken_attempted, woken_succeeded, low_battery, any_failing, last_error, report
FROM monitor_runs
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(
			&rec.ID, &rec.StartedAt, &rec.CompletedAt, &rec.OKCount, &rec.NOKCount,
			&rec.WokenAttempted, &rec.WokenSucceeded, &rec.LowBatteryCount,
			&rec.AnyFailing, &rec.Error, &rec.Report,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRun fetches one archived run by ID. Returns pgx.ErrNoRows when absent.
func (p *Pool) GetRun(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	err := p.pool.QueryRow(ctx, `
SELECT id, started_at, completed_at, ok_count, nok_count,
       woken_attempted, woken_succeeded, low_battery, any_failing, last_error, report
FROM monitor_runs
WHERE id = $1`, id).Scan(
		&rec.ID, &rec.StartedAt, &rec.CompletedAt, &rec.OKCount, &rec.NOKCount,
		&rec.WokenAttempted, &rec.WokenSucceeded, &rec.LowBatteryCount,
		&rec.AnyFailing, &rec.Error, &rec.Report,
	)
	if err != nil {
		return RunRecord{}, err
	}
	return rec, nil
}
