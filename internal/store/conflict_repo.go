package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/driftscope/backend/internal/model"
)

const conflictColumns = `user_id, conflict_id, behavior_id_1, behavior_id_2,
	conflict_type, resolution_status, old_polarity, new_polarity,
	old_target, new_target, created_at`

// ConflictRepo reads and writes the conflicts projection.
type ConflictRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewConflictRepo(db *sql.DB) *ConflictRepo {
	return &ConflictRepo{db: db, log: slog.Default()}
}

// Insert stores a resolved conflict, ignoring duplicate conflict_ids so
// redelivered events stay idempotent.
func (r *ConflictRepo) Insert(ctx context.Context, c *model.Conflict) error {
	query := `
		INSERT INTO conflicts (` + conflictColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, conflict_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		c.UserID, c.ConflictID, c.BehaviorID1, c.BehaviorID2,
		c.ConflictType, c.ResolutionStatus,
		nullIfEmpty(c.OldPolarity), nullIfEmpty(c.NewPolarity),
		nullIfEmpty(c.OldTarget), nullIfEmpty(c.NewTarget),
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conflict %s/%s: %w", c.UserID, c.ConflictID, err)
	}
	return nil
}

// ListInWindow returns conflicts created within [start, end].
func (r *ConflictRepo) ListInWindow(ctx context.Context, userID string, start, end int64) ([]*model.Conflict, error) {
	query := `SELECT ` + conflictColumns + `
		FROM conflicts
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list conflicts in window for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanConflicts(rows)
}

// ListPolarityReversals returns window conflicts where polarity flipped.
func (r *ConflictRepo) ListPolarityReversals(ctx context.Context, userID string, start, end int64) ([]*model.Conflict, error) {
	query := `SELECT ` + conflictColumns + `
		FROM conflicts
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
		  AND old_polarity IS NOT NULL AND new_polarity IS NOT NULL
		  AND old_polarity <> new_polarity
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list polarity reversals for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanConflicts(rows)
}

// ListTargetMigrations returns window conflicts where the target moved.
func (r *ConflictRepo) ListTargetMigrations(ctx context.Context, userID string, start, end int64) ([]*model.Conflict, error) {
	query := `SELECT ` + conflictColumns + `
		FROM conflicts
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
		  AND old_target IS NOT NULL AND new_target IS NOT NULL
		  AND old_target <> new_target
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list target migrations for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanConflicts(rows)
}

func scanConflicts(rows *sql.Rows) ([]*model.Conflict, error) {
	var out []*model.Conflict
	for rows.Next() {
		var c model.Conflict
		var oldPol, newPol, oldTgt, newTgt sql.NullString
		err := rows.Scan(
			&c.UserID, &c.ConflictID, &c.BehaviorID1, &c.BehaviorID2,
			&c.ConflictType, &c.ResolutionStatus,
			&oldPol, &newPol, &oldTgt, &newTgt,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		c.OldPolarity = oldPol.String
		c.NewPolarity = newPol.String
		c.OldTarget = oldTgt.String
		c.NewTarget = newTgt.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
