package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/driftscope/backend/internal/model"
)

const scanJobColumns = `job_id, user_id, trigger_event, status, priority,
	scheduled_at, started_at, completed_at, error_message`

// ErrorMessageLimit caps stored failure text.
const ErrorMessageLimit = 500

// ScanJobRepo manages the scan job queue. Claiming is the only
// row-contended operation and goes through ClaimNextPending or ClaimJob.
type ScanJobRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewScanJobRepo(db *sql.DB) *ScanJobRepo {
	return &ScanJobRepo{db: db, log: slog.Default()}
}

// Enqueue inserts a PENDING job and returns its id.
func (r *ScanJobRepo) Enqueue(ctx context.Context, userID, triggerEvent, priority string, scheduledAt int64) (string, error) {
	jobID := model.NewJobID()
	query := `
		INSERT INTO scan_jobs (job_id, user_id, trigger_event, status, priority, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		jobID, userID, triggerEvent, model.JobPending, priority, scheduledAt)
	if err != nil {
		return "", fmt.Errorf("enqueue scan job for %s: %w", userID, err)
	}

	r.log.Info("[ScanJobRepo] Enqueued scan job",
		"job_id", jobID,
		"user_id", userID,
		"trigger", triggerEvent,
		"priority", priority)
	return jobID, nil
}

// ClaimNextPending atomically flips up to limit PENDING jobs to RUNNING
// and returns them, HIGH priority first, FIFO within a priority. Rows are
// locked with SKIP LOCKED so concurrent pools never claim the same job.
func (r *ScanJobRepo) ClaimNextPending(ctx context.Context, limit int, startedAt int64) ([]*model.ScanJob, error) {
	query := `
		UPDATE scan_jobs
		SET status = $1, started_at = $2
		WHERE job_id IN (
			SELECT job_id FROM scan_jobs
			WHERE status = $3
			ORDER BY
				CASE priority
					WHEN 'HIGH' THEN 1
					WHEN 'NORMAL' THEN 2
					WHEN 'LOW' THEN 3
					ELSE 4
				END,
				scheduled_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + scanJobColumns

	rows, err := r.db.QueryContext(ctx, query,
		model.JobRunning, startedAt, model.JobPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending scan jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ClaimJob flips one specific job from PENDING to RUNNING. Returns false
// when the job was not PENDING (already claimed or terminal).
func (r *ScanJobRepo) ClaimJob(ctx context.Context, jobID string, startedAt int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs
		SET status = $1, started_at = $2
		WHERE job_id = $3 AND status = $4`,
		model.JobRunning, startedAt, jobID, model.JobPending)
	if err != nil {
		return false, fmt.Errorf("claim scan job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Complete moves a RUNNING job to a terminal status, stamping
// completed_at and storing a truncated error message for failures. The
// status guard means a job that already reached DONE, FAILED or SKIPPED
// can never be flipped to another terminal state.
func (r *ScanJobRepo) Complete(ctx context.Context, jobID, status, errorMessage string, completedAt int64) error {
	if len(errorMessage) > ErrorMessageLimit {
		errorMessage = errorMessage[:ErrorMessageLimit]
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE scan_jobs
		SET status = $1, completed_at = $2, error_message = $3
		WHERE job_id = $4 AND status = $5`,
		status, completedAt, nullIfEmpty(errorMessage), jobID, model.JobRunning)
	if err != nil {
		return fmt.Errorf("complete scan job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		r.log.Warn("[ScanJobRepo] Completion refused, job not RUNNING",
			"job_id", jobID, "status", status)
	}
	return nil
}

// GetByID fetches one job, returning (nil, nil) when absent.
func (r *ScanJobRepo) GetByID(ctx context.Context, jobID string) (*model.ScanJob, error) {
	query := `SELECT ` + scanJobColumns + ` FROM scan_jobs WHERE job_id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan job %s: %w", jobID, err)
	}
	return j, nil
}

// HasNonTerminal reports whether the user has a PENDING or RUNNING job.
func (r *ScanJobRepo) HasNonTerminal(ctx context.Context, userID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scan_jobs
		WHERE user_id = $1 AND status IN ($2, $3)`,
		userID, model.JobPending, model.JobRunning).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check non-terminal jobs for %s: %w", userID, err)
	}
	return count > 0, nil
}

// LastCompletedAt returns the newest completed_at among DONE jobs for the
// user, or (0, nil) when none exist.
func (r *ScanJobRepo) LastCompletedAt(ctx context.Context, userID string) (int64, error) {
	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(completed_at) FROM scan_jobs
		WHERE user_id = $1 AND status = $2`,
		userID, model.JobDone).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last completed scan for %s: %w", userID, err)
	}
	if !last.Valid {
		return 0, nil
	}
	return last.Int64, nil
}

// ListByUser returns the user's job history, newest first.
func (r *ScanJobRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.ScanJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + scanJobColumns + `
		FROM scan_jobs
		WHERE user_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list scan jobs for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountByStatus returns job counts grouped by status.
func (r *ScanJobRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM scan_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count scan jobs by status: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

// ScannableUsers classifies users by most recent activity: "active" users
// have an ACTIVE behavior seen at or after activeSince; "moderate" users
// fall between moderateSince and activeSince. Dormant users are omitted.
func (r *ScanJobRepo) ScannableUsers(ctx context.Context, activeSince, moderateSince int64) (active, moderate []string, err error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM behaviors
		WHERE last_seen_at >= $1 AND state = 'ACTIVE'`,
		activeSince)
	if err != nil {
		return nil, nil, fmt.Errorf("list active-tier users: %w", err)
	}
	active, err = collectUserIDs(rows)
	if err != nil {
		return nil, nil, err
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM behaviors
		WHERE last_seen_at >= $1 AND last_seen_at < $2 AND state = 'ACTIVE'`,
		moderateSince, activeSince)
	if err != nil {
		return nil, nil, fmt.Errorf("list moderate-tier users: %w", err)
	}
	moderate, err = collectUserIDs(rows)
	if err != nil {
		return nil, nil, err
	}
	return active, moderate, nil
}

func collectUserIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*model.ScanJob, error) {
	var j model.ScanJob
	var errMsg sql.NullString
	err := row.Scan(
		&j.JobID, &j.UserID, &j.TriggerEvent, &j.Status, &j.Priority,
		&j.ScheduledAt, &j.StartedAt, &j.CompletedAt, &errMsg,
	)
	if err != nil {
		return nil, err
	}
	j.ErrorMessage = errMsg.String
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*model.ScanJob, error) {
	var out []*model.ScanJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
