package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/driftscope/backend/internal/model"
)

const driftEventColumns = `drift_event_id, user_id, drift_type, drift_score, severity,
	affected_targets, evidence, confidence,
	reference_window_start, reference_window_end,
	current_window_start, current_window_end,
	detected_at, acknowledged_at,
	behavior_ref_ids, conflict_ref_ids`

// EventFilter narrows ListByUser. Zero values mean "no filter".
type EventFilter struct {
	DriftType model.DriftType
	Severity  model.Severity
	StartDate int64
	EndDate   int64
	Limit     int
	Offset    int
}

// DriftEventRepo persists and queries detected drift events.
type DriftEventRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewDriftEventRepo(db *sql.DB) *DriftEventRepo {
	return &DriftEventRepo{db: db, log: slog.Default()}
}

// Insert stores a drift event and returns its id.
func (r *DriftEventRepo) Insert(ctx context.Context, e *model.DriftEvent) (string, error) {
	if e.DriftEventID == "" {
		e.DriftEventID = model.NewEventID()
	}
	evidence, err := json.Marshal(e.Evidence)
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}

	query := `
		INSERT INTO drift_events (` + driftEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = r.db.ExecContext(ctx, query,
		e.DriftEventID, e.UserID, string(e.DriftType), e.DriftScore, string(e.Severity),
		pq.Array(e.AffectedTargets), evidence, e.Confidence,
		e.ReferenceWindowStart, e.ReferenceWindowEnd,
		e.CurrentWindowStart, e.CurrentWindowEnd,
		e.DetectedAt, e.AcknowledgedAt,
		pq.Array(e.BehaviorRefIDs), pq.Array(e.ConflictRefIDs),
	)
	if err != nil {
		return "", fmt.Errorf("insert drift event %s: %w", e.DriftEventID, err)
	}

	r.log.Info("[DriftEventRepo] Inserted drift event",
		"drift_event_id", e.DriftEventID,
		"user_id", e.UserID,
		"drift_type", e.DriftType)
	return e.DriftEventID, nil
}

// GetByID fetches one event, returning (nil, nil) when absent.
func (r *DriftEventRepo) GetByID(ctx context.Context, eventID string) (*model.DriftEvent, error) {
	query := `SELECT ` + driftEventColumns + `
		FROM drift_events WHERE drift_event_id = $1`

	e, err := scanDriftEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get drift event %s: %w", eventID, err)
	}
	return e, nil
}

// ListByUser returns a user's events newest-first, with optional filters.
func (r *DriftEventRepo) ListByUser(ctx context.Context, userID string, f EventFilter) ([]*model.DriftEvent, error) {
	query := `SELECT ` + driftEventColumns + `
		FROM drift_events WHERE user_id = $1`
	args := []any{userID}

	if f.DriftType != "" {
		args = append(args, string(f.DriftType))
		query += fmt.Sprintf(" AND drift_type = $%d", len(args))
	}
	if f.Severity != "" {
		args = append(args, string(f.Severity))
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if f.StartDate > 0 {
		args = append(args, f.StartDate)
		query += fmt.Sprintf(" AND detected_at >= $%d", len(args))
	}
	if f.EndDate > 0 {
		args = append(args, f.EndDate)
		query += fmt.Sprintf(" AND detected_at <= $%d", len(args))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY detected_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drift events for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []*model.DriftEvent
	for rows.Next() {
		e, err := scanDriftEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestDetectionAt returns the most recent detected_at for the user,
// or (0, nil) when no events exist.
func (r *DriftEventRepo) LatestDetectionAt(ctx context.Context, userID string) (int64, error) {
	var latest sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(detected_at) FROM drift_events WHERE user_id = $1`,
		userID).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest detection for %s: %w", userID, err)
	}
	if !latest.Valid {
		return 0, nil
	}
	return latest.Int64, nil
}

// Acknowledge stamps acknowledged_at on an event. Returns false when the
// event does not exist.
func (r *DriftEventRepo) Acknowledge(ctx context.Context, eventID string, timestamp int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE drift_events SET acknowledged_at = $1 WHERE drift_event_id = $2`,
		timestamp, eventID)
	if err != nil {
		return false, fmt.Errorf("acknowledge drift event %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanDriftEvent(row rowScanner) (*model.DriftEvent, error) {
	var e model.DriftEvent
	var driftType, severity string
	var evidence []byte
	var targets, behaviorRefs, conflictRefs pq.StringArray

	err := row.Scan(
		&e.DriftEventID, &e.UserID, &driftType, &e.DriftScore, &severity,
		&targets, &evidence, &e.Confidence,
		&e.ReferenceWindowStart, &e.ReferenceWindowEnd,
		&e.CurrentWindowStart, &e.CurrentWindowEnd,
		&e.DetectedAt, &e.AcknowledgedAt,
		&behaviorRefs, &conflictRefs,
	)
	if err != nil {
		return nil, err
	}

	e.DriftType = model.DriftType(driftType)
	e.Severity = model.Severity(severity)
	e.AffectedTargets = []string(targets)
	e.BehaviorRefIDs = []string(behaviorRefs)
	e.ConflictRefIDs = []string(conflictRefs)
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &e.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence for %s: %w", e.DriftEventID, err)
		}
	}
	return &e, nil
}
