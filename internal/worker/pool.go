// Package worker executes queued drift scans: claiming jobs, driving
// the detection orchestrator, and enforcing retry and time-limit
// policy.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftscope/backend/internal/clock"
	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/detect"
	"github.com/driftscope/backend/internal/metrics"
	"github.com/driftscope/backend/internal/model"
)

const retryBackoffMax = 600 * time.Second

// ErrJobNotFound is returned when RunDriftScan is handed an unknown id.
var ErrJobNotFound = errors.New("scan job not found")

// JobStore is the scan-job surface the pool needs.
type JobStore interface {
	GetByID(ctx context.Context, jobID string) (*model.ScanJob, error)
	ClaimNextPending(ctx context.Context, limit int, startedAt int64) ([]*model.ScanJob, error)
	ClaimJob(ctx context.Context, jobID string, startedAt int64) (bool, error)
	Complete(ctx context.Context, jobID, status, errorMessage string, completedAt int64) error
	Enqueue(ctx context.Context, userID, triggerEvent, priority string, scheduledAt int64) (string, error)
	HasNonTerminal(ctx context.Context, userID string) (bool, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Detector runs the full detection pipeline for a user.
type Detector interface {
	DetectDrift(ctx context.Context, userID string, force bool) ([]*model.DriftEvent, error)
}

// ScanResult summarizes one job execution.
type ScanResult struct {
	JobID          string
	UserID         string
	Status         string
	Skipped        bool
	EventsDetected int
}

// Pool claims scan jobs and runs them through the detector, with
// bounded retries and soft/hard time limits per job.
type Pool struct {
	jobs     JobStore
	detector Detector
	cfg      *config.Config
	clock    clock.Clock
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewPool(jobs JobStore, detector Detector, cfg *config.Config, clk clock.Clock) *Pool {
	return &Pool{jobs: jobs, detector: detector, cfg: cfg, clock: clk, log: slog.Default()}
}

// SetMetrics attaches optional Prometheus instruments.
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

func (p *Pool) recordScan(status string, started time.Time) {
	if p.metrics != nil {
		p.metrics.RecordScan(status, time.Since(started).Seconds())
	}
}

// Run polls for pending jobs until ctx is cancelled, dispatching each
// batch across the configured number of workers.
func (p *Pool) Run(ctx context.Context) error {
	interval := time.Duration(p.cfg.WorkerPollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info("[Worker] Pool started",
		"workers", p.cfg.WorkerCount,
		"poll_interval", interval)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("[Worker] Pool shutting down")
			return nil
		case <-ticker.C:
			if _, err := p.ProcessPendingJobs(ctx, p.cfg.WorkerCount); err != nil {
				p.log.Error("[Worker] Batch processing failed", "error", err)
			}
		}
	}
}

// ProcessPendingJobs claims up to limit pending jobs and runs them
// concurrently. Jobs arrive already RUNNING from the claim, so each is
// executed directly rather than re-claimed.
func (p *Pool) ProcessPendingJobs(ctx context.Context, limit int) (int, error) {
	claimed, err := p.jobs.ClaimNextPending(ctx, limit, p.clock.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("claim pending jobs: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}
	p.log.Info("[Worker] Claimed pending jobs", "count", len(claimed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.WorkerCount)
	for _, job := range claimed {
		job := job
		g.Go(func() error {
			p.executeWithRetry(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), nil
}

// RunDriftScan executes one job by id: claim PENDING, detect, complete.
// Returns a skipped result when the job is not PENDING.
func (p *Pool) RunDriftScan(ctx context.Context, jobID string) (*ScanResult, error) {
	job, err := p.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	claimed, err := p.jobs.ClaimJob(ctx, jobID, p.clock.Now().Unix())
	if err != nil {
		return nil, err
	}
	if !claimed {
		p.log.Warn("[Worker] Job not claimable, skipping",
			"job_id", jobID, "status", job.Status)
		return &ScanResult{JobID: jobID, UserID: job.UserID, Status: job.Status, Skipped: true}, nil
	}

	return p.execute(ctx, job, true)
}

// ScanUser enqueues and immediately runs a scan for one user, honoring
// the non-terminal-job gate.
func (p *Pool) ScanUser(ctx context.Context, userID, priority string) (*ScanResult, error) {
	busy, err := p.jobs.HasNonTerminal(ctx, userID)
	if err != nil {
		return nil, err
	}
	if busy {
		p.log.Info("[Worker] User already has a queued or running scan", "user_id", userID)
		return &ScanResult{UserID: userID, Skipped: true}, nil
	}

	jobID, err := p.jobs.Enqueue(ctx, userID, "manual_trigger", priority, p.clock.Now().Unix())
	if err != nil {
		return nil, err
	}
	return p.RunDriftScan(ctx, jobID)
}

// ScanStatistics reports queued job counts grouped by status.
func (p *Pool) ScanStatistics(ctx context.Context) (map[string]int, error) {
	return p.jobs.CountByStatus(ctx)
}

// executeWithRetry runs an already-claimed job, re-running on failure
// with jittered exponential backoff. The job stays RUNNING between
// attempts: FAILED is written only once retries are exhausted, so a job
// reaches exactly one terminal status and the one-scan-per-user gate
// holds throughout.
func (p *Pool) executeWithRetry(ctx context.Context, job *model.ScanJob) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.JobMaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			p.log.Warn("[Worker] Retrying scan job",
				"job_id", job.JobID, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		result, err := p.execute(ctx, job, attempt == p.cfg.JobMaxRetries)
		if err == nil {
			if !result.Skipped {
				p.log.Info("[Worker] Scan job finished",
					"job_id", job.JobID, "events", result.EventsDetected)
			}
			return
		}
		lastErr = err
	}
	p.log.Error("[Worker] Scan job exhausted retries",
		"job_id", job.JobID, "error", lastErr)
}

// execute runs the detection pipeline for a claimed job under the soft
// time limit. The terminal status is written on success, on gate
// rejection, and on failure of the final attempt; a non-final failure
// returns the error and leaves the job RUNNING for the retry.
func (p *Pool) execute(ctx context.Context, job *model.ScanJob, final bool) (*ScanResult, error) {
	started := time.Now()
	soft := time.Duration(p.cfg.JobSoftTimeLimitSeconds) * time.Second
	hard := time.Duration(p.cfg.JobHardTimeLimitSeconds) * time.Second

	hardCtx, cancelHard := context.WithTimeout(ctx, hard)
	defer cancelHard()
	softCtx, cancelSoft := context.WithTimeout(hardCtx, soft)
	defer cancelSoft()

	events, err := p.detector.DetectDrift(softCtx, job.UserID, false)
	if err != nil {
		// Gate failures are a clean no-drift outcome, not a job failure.
		if errors.Is(err, detect.ErrInsufficientData) || errors.Is(err, detect.ErrCooldownActive) {
			p.log.Info("[Worker] Detection gated, completing without events",
				"job_id", job.JobID, "reason", err)
			if cerr := p.jobs.Complete(hardCtx, job.JobID, model.JobDone, "", p.clock.Now().Unix()); cerr != nil {
				return nil, cerr
			}
			p.recordScan("done", started)
			return &ScanResult{JobID: job.JobID, UserID: job.UserID, Status: model.JobDone}, nil
		}

		p.log.Error("[Worker] Drift detection failed",
			"job_id", job.JobID, "user_id", job.UserID, "error", err)
		if !final {
			return nil, err
		}

		message := err.Error()
		if errors.Is(softCtx.Err(), context.DeadlineExceeded) {
			message = fmt.Sprintf("scan exceeded soft time limit (%s)", soft)
		}
		if cerr := p.jobs.Complete(hardCtx, job.JobID, model.JobFailed, message, p.clock.Now().Unix()); cerr != nil {
			p.log.Error("[Worker] Failed to record job failure",
				"job_id", job.JobID, "error", cerr)
		}
		p.recordScan("failed", started)
		return nil, err
	}

	if err := p.jobs.Complete(hardCtx, job.JobID, model.JobDone, "", p.clock.Now().Unix()); err != nil {
		return nil, err
	}
	p.recordScan("done", started)
	return &ScanResult{
		JobID:          job.JobID,
		UserID:         job.UserID,
		Status:         model.JobDone,
		EventsDetected: len(events),
	}, nil
}

func retryDelay(attempt int) time.Duration {
	delay := time.Second << (attempt - 1)
	if delay > retryBackoffMax {
		delay = retryBackoffMax
	}
	// Full jitter keeps simultaneous retries from thundering.
	return time.Duration(rand.Int63n(int64(delay))) + time.Second
}
