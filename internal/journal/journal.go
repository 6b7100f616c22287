// Package journal persists a row per completed sync cycle to PostgreSQL.
// The journal is optional: a nil *Journal is a valid no-op recorder, so the
// engine runs unchanged without a database.
package journal

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolethescientist/email-engine/internal/mailbox"
	"github.com/wolethescientist/email-engine/internal/monitor"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_cycles (
	id          BIGSERIAL PRIMARY KEY,
	username    TEXT NOT NULL,
	folder      TEXT NOT NULL,
	generation  BIGINT NOT NULL,
	steps       TEXT[],
	new_mail    INT NOT NULL DEFAULT 0,
	error       TEXT,
	recorded_at TIMESTAMPTZ NOT NULL
)`

// Journal writes cycle records to a connection pool.
type Journal struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn, ensures the journal table exists,
// and returns a ready journal. An empty dsn returns (nil, nil): the caller
// gets the no-op journal without treating it as an error.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	if dsn == "" {
		return nil, nil
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse journal DSN: %w", err)
	}

	poolConfig.MaxConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure journal schema: %w", err)
	}

	return &Journal{pool: pool}, nil
}

// RecordCycle inserts one cycle row. Journal failures are logged, never
// propagated: a broken journal must not break synchronization.
func (j *Journal) RecordCycle(ctx context.Context, rec monitor.CycleRecord) {
	if j == nil || j.pool == nil {
		return
	}

	var errText *string
	if rec.Err != "" {
		errText = &rec.Err
	}

	_, err := j.pool.Exec(ctx, `
		INSERT INTO sync_cycles (username, folder, generation, steps, new_mail, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.User, string(rec.Folder), rec.Generation, rec.Steps, rec.NewMail, errText, rec.At)
	if err != nil {
		log.Printf("journal: failed to record cycle for %s/%s: %v", rec.User, rec.Folder, err)
	}
}

// RecentCycles returns the newest cycle rows for a user, most recent first.
func (j *Journal) RecentCycles(ctx context.Context, user string, limit int) ([]monitor.CycleRecord, error) {
	if j == nil || j.pool == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.pool.Query(ctx, `
		SELECT username, folder, generation, steps, new_mail, COALESCE(error, ''), recorded_at
		FROM sync_cycles
		WHERE username = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, user, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var recs []monitor.CycleRecord
	for rows.Next() {
		var rec monitor.CycleRecord
		var folder string
		if err := rows.Scan(&rec.User, &folder, &rec.Generation, &rec.Steps, &rec.NewMail, &rec.Err, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		rec.Folder = mailbox.Folder(folder)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal rows: %w", err)
	}
	return recs, nil
}

// Close releases the pool. Safe on the nil journal.
func (j *Journal) Close() {
	if j != nil && j.pool != nil {
		j.pool.Close()
	}
}
