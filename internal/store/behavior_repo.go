package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/driftscope/backend/internal/model"
)

const behaviorColumns = `user_id, behavior_id, target, intent, context,
	polarity, credibility, reinforcement_count, state,
	created_at, last_seen_at, snapshot_updated_at`

// BehaviorRepo reads and writes the behaviors projection.
type BehaviorRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewBehaviorRepo(db *sql.DB) *BehaviorRepo {
	return &BehaviorRepo{db: db, log: slog.Default()}
}

// Upsert inserts or replaces a behavior keyed by (user_id, behavior_id).
// Reinforcement never moves backwards on conflict.
func (r *BehaviorRepo) Upsert(ctx context.Context, b *model.Behavior) error {
	query := `
		INSERT INTO behaviors (` + behaviorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, behavior_id) DO UPDATE SET
			target = EXCLUDED.target,
			intent = EXCLUDED.intent,
			context = EXCLUDED.context,
			polarity = EXCLUDED.polarity,
			credibility = EXCLUDED.credibility,
			reinforcement_count = GREATEST(behaviors.reinforcement_count, EXCLUDED.reinforcement_count),
			state = EXCLUDED.state,
			last_seen_at = EXCLUDED.last_seen_at,
			snapshot_updated_at = EXCLUDED.snapshot_updated_at`

	_, err := r.db.ExecContext(ctx, query,
		b.UserID, b.BehaviorID, b.Target, b.Intent, b.Context,
		b.Polarity, b.Credibility, b.ReinforcementCount, b.State,
		b.CreatedAt, b.LastSeenAt, b.SnapshotUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert behavior %s/%s: %w", b.UserID, b.BehaviorID, err)
	}
	return nil
}

// Get fetches one behavior, returning (nil, nil) when absent.
func (r *BehaviorRepo) Get(ctx context.Context, userID, behaviorID string) (*model.Behavior, error) {
	query := `SELECT ` + behaviorColumns + `
		FROM behaviors WHERE user_id = $1 AND behavior_id = $2`

	row := r.db.QueryRowContext(ctx, query, userID, behaviorID)
	b, err := scanBehavior(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get behavior %s/%s: %w", userID, behaviorID, err)
	}
	return b, nil
}

// UpdateReinforcement applies a new count, credibility and last-seen time.
func (r *BehaviorRepo) UpdateReinforcement(ctx context.Context, userID, behaviorID string, count int, credibility float64, lastSeenAt, updatedAt int64) error {
	query := `
		UPDATE behaviors
		SET reinforcement_count = $3, credibility = $4, last_seen_at = $5, snapshot_updated_at = $6
		WHERE user_id = $1 AND behavior_id = $2`

	_, err := r.db.ExecContext(ctx, query, userID, behaviorID, count, credibility, lastSeenAt, updatedAt)
	if err != nil {
		return fmt.Errorf("update reinforcement %s/%s: %w", userID, behaviorID, err)
	}
	return nil
}

// MarkSuperseded flips a behavior's state to SUPERSEDED.
func (r *BehaviorRepo) MarkSuperseded(ctx context.Context, userID, behaviorID string, updatedAt int64) error {
	query := `
		UPDATE behaviors
		SET state = $3, snapshot_updated_at = $4
		WHERE user_id = $1 AND behavior_id = $2`

	_, err := r.db.ExecContext(ctx, query, userID, behaviorID, model.StateSuperseded, updatedAt)
	if err != nil {
		return fmt.Errorf("mark superseded %s/%s: %w", userID, behaviorID, err)
	}
	return nil
}

// ListInWindow returns behaviors created within [start, end]. Superseded
// rows are excluded unless includeSuperseded is set.
func (r *BehaviorRepo) ListInWindow(ctx context.Context, userID string, start, end int64, includeSuperseded bool) ([]*model.Behavior, error) {
	query := `SELECT ` + behaviorColumns + `
		FROM behaviors
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3`
	if !includeSuperseded {
		query += ` AND state = 'ACTIVE'`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list behaviors in window for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanBehaviors(rows)
}

// ListActive returns every ACTIVE behavior for the user.
func (r *BehaviorRepo) ListActive(ctx context.Context, userID string) ([]*model.Behavior, error) {
	query := `SELECT ` + behaviorColumns + `
		FROM behaviors
		WHERE user_id = $1 AND state = 'ACTIVE'
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list active behaviors for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanBehaviors(rows)
}

// ListByTarget returns ACTIVE behaviors for one target, newest first.
func (r *BehaviorRepo) ListByTarget(ctx context.Context, userID, target string) ([]*model.Behavior, error) {
	query := `SELECT ` + behaviorColumns + `
		FROM behaviors
		WHERE user_id = $1 AND target = $2 AND state = 'ACTIVE'
		ORDER BY last_seen_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, target)
	if err != nil {
		return nil, fmt.Errorf("list behaviors by target for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanBehaviors(rows)
}

// CountActive counts the user's ACTIVE behaviors.
func (r *BehaviorRepo) CountActive(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM behaviors WHERE user_id = $1 AND state = 'ACTIVE'`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active behaviors for %s: %w", userID, err)
	}
	return count, nil
}

// EarliestCreatedAt returns the oldest created_at for the user, or
// (0, nil) when the user has no behaviors.
func (r *BehaviorRepo) EarliestCreatedAt(ctx context.Context, userID string) (int64, error) {
	var earliest sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM behaviors WHERE user_id = $1`,
		userID).Scan(&earliest)
	if err != nil {
		return 0, fmt.Errorf("earliest behavior for %s: %w", userID, err)
	}
	if !earliest.Valid {
		return 0, nil
	}
	return earliest.Int64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBehavior(row rowScanner) (*model.Behavior, error) {
	var b model.Behavior
	err := row.Scan(
		&b.UserID, &b.BehaviorID, &b.Target, &b.Intent, &b.Context,
		&b.Polarity, &b.Credibility, &b.ReinforcementCount, &b.State,
		&b.CreatedAt, &b.LastSeenAt, &b.SnapshotUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBehaviors(rows *sql.Rows) ([]*model.Behavior, error) {
	var out []*model.Behavior
	for rows.Next() {
		b, err := scanBehavior(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
