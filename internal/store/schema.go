package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Table and index definitions, applied idempotently on startup.
// Timestamps are unix seconds stored as BIGINT.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS behaviors (
		user_id             TEXT NOT NULL,
		behavior_id         TEXT NOT NULL,
		target              TEXT NOT NULL DEFAULT '',
		intent              TEXT NOT NULL DEFAULT '',
		context             TEXT NOT NULL DEFAULT '',
		polarity            TEXT NOT NULL DEFAULT 'NEUTRAL',
		credibility         DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		reinforcement_count INTEGER NOT NULL DEFAULT 1,
		state               TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at          BIGINT NOT NULL,
		last_seen_at        BIGINT NOT NULL,
		snapshot_updated_at BIGINT NOT NULL,
		PRIMARY KEY (user_id, behavior_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_behaviors_user_created
		ON behaviors (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_behaviors_user_state
		ON behaviors (user_id, state)`,

	`CREATE TABLE IF NOT EXISTS conflicts (
		user_id           TEXT NOT NULL,
		conflict_id       TEXT NOT NULL,
		behavior_id_1     TEXT NOT NULL DEFAULT '',
		behavior_id_2     TEXT NOT NULL DEFAULT '',
		conflict_type     TEXT NOT NULL DEFAULT '',
		resolution_status TEXT NOT NULL DEFAULT '',
		old_polarity      TEXT,
		new_polarity      TEXT,
		old_target        TEXT,
		new_target        TEXT,
		created_at        BIGINT NOT NULL,
		PRIMARY KEY (user_id, conflict_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conflicts_user_created
		ON conflicts (user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS drift_events (
		drift_event_id         TEXT PRIMARY KEY,
		user_id                TEXT NOT NULL,
		drift_type             TEXT NOT NULL,
		drift_score            DOUBLE PRECISION NOT NULL,
		severity               TEXT NOT NULL,
		affected_targets       TEXT[] NOT NULL DEFAULT '{}',
		evidence               JSONB NOT NULL DEFAULT '{}',
		confidence             DOUBLE PRECISION NOT NULL,
		reference_window_start BIGINT NOT NULL,
		reference_window_end   BIGINT NOT NULL,
		current_window_start   BIGINT NOT NULL,
		current_window_end     BIGINT NOT NULL,
		detected_at            BIGINT NOT NULL,
		acknowledged_at        BIGINT,
		behavior_ref_ids       TEXT[] NOT NULL DEFAULT '{}',
		conflict_ref_ids       TEXT[] NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_drift_events_user_detected
		ON drift_events (user_id, detected_at)`,

	`CREATE TABLE IF NOT EXISTS scan_jobs (
		job_id        TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		trigger_event TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'PENDING',
		priority      TEXT NOT NULL DEFAULT 'NORMAL',
		scheduled_at  BIGINT NOT NULL,
		started_at    BIGINT,
		completed_at  BIGINT,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_jobs_status_scheduled
		ON scan_jobs (status, scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_jobs_user_status
		ON scan_jobs (user_id, status)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	slog.Info("[Store] Schema ensured")
	return nil
}
