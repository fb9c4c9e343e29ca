// Package scheduler runs the periodic triggers: tiered scan sweeps and
// the dead-letter reaper.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/driftscope/backend/internal/clock"
	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/metrics"
	"github.com/driftscope/backend/internal/model"
)

// Tier trigger names recorded on enqueued jobs.
const (
	TriggerScheduledActive   = "scheduled_active"
	TriggerScheduledModerate = "scheduled_moderate"
)

// JobQueue is the scan-job surface the scheduler sweeps with.
type JobQueue interface {
	Enqueue(ctx context.Context, userID, triggerEvent, priority string, scheduledAt int64) (string, error)
	HasNonTerminal(ctx context.Context, userID string) (bool, error)
	LastCompletedAt(ctx context.Context, userID string) (int64, error)
	ScannableUsers(ctx context.Context, activeSince, moderateSince int64) (active, moderate []string, err error)
}

// Reaper is the dead-letter sweep.
type Reaper interface {
	Reap(ctx context.Context) int
}

// Scheduler drives three tickers on one shared clock. Each trigger is
// guarded against overlapping with itself.
type Scheduler struct {
	jobs    JobQueue
	reaper  Reaper
	cfg     *config.Config
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	activeBusy   atomic.Bool
	moderateBusy atomic.Bool
	reaperBusy   atomic.Bool
}

func New(jobs JobQueue, reaper Reaper, cfg *config.Config, clk clock.Clock) *Scheduler {
	return &Scheduler{jobs: jobs, reaper: reaper, cfg: cfg, clock: clk, log: slog.Default()}
}

// SetMetrics attaches optional Prometheus instruments.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	activeTicker := time.NewTicker(time.Duration(s.cfg.ActiveScanIntervalHours) * time.Hour)
	moderateTicker := time.NewTicker(time.Duration(s.cfg.ModerateScanIntervalHours) * time.Hour)
	reaperTicker := time.NewTicker(time.Duration(s.cfg.DeadLetterCheckIntervalMinutes) * time.Minute)
	defer activeTicker.Stop()
	defer moderateTicker.Stop()
	defer reaperTicker.Stop()

	s.log.Info("[Scheduler] Started",
		"active_interval_hours", s.cfg.ActiveScanIntervalHours,
		"moderate_interval_hours", s.cfg.ModerateScanIntervalHours,
		"dead_letter_interval_minutes", s.cfg.DeadLetterCheckIntervalMinutes)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("[Scheduler] Shutting down")
			return
		case <-activeTicker.C:
			s.runGuarded(&s.activeBusy, "scan_active_users", func() {
				s.sweepTier(ctx, TriggerScheduledActive)
			})
		case <-moderateTicker.C:
			s.runGuarded(&s.moderateBusy, "scan_moderate_users", func() {
				s.sweepTier(ctx, TriggerScheduledModerate)
			})
		case <-reaperTicker.C:
			s.runGuarded(&s.reaperBusy, "reap_dead_letters", func() {
				s.reaper.Reap(ctx)
			})
		}
	}
}

// runGuarded skips a trigger firing while the previous run is still
// going (max one instance per trigger).
func (s *Scheduler) runGuarded(busy *atomic.Bool, name string, fn func()) {
	if !busy.CompareAndSwap(false, true) {
		s.log.Warn("[Scheduler] Previous run still in progress, skipping", "trigger", name)
		return
	}
	defer busy.Store(false)
	fn()
}

// SweepActiveTier and SweepModerateTier are exposed for manual runs.
func (s *Scheduler) SweepActiveTier(ctx context.Context) int {
	return s.sweepTier(ctx, TriggerScheduledActive)
}

func (s *Scheduler) SweepModerateTier(ctx context.Context) int {
	return s.sweepTier(ctx, TriggerScheduledModerate)
}

func (s *Scheduler) sweepTier(ctx context.Context, trigger string) int {
	now := s.clock.Now()
	activeSince := now.Add(-time.Duration(s.cfg.ActiveUserDaysThreshold) * 24 * time.Hour).Unix()
	moderateSince := now.Add(-time.Duration(s.cfg.ModerateUserDaysThreshold) * 24 * time.Hour).Unix()

	active, moderate, err := s.jobs.ScannableUsers(ctx, activeSince, moderateSince)
	if err != nil {
		s.log.Error("[Scheduler] Failed to classify scannable users", "error", err)
		return 0
	}

	users := active
	if trigger == TriggerScheduledModerate {
		users = moderate
	}
	if len(users) == 0 {
		s.log.Debug("[Scheduler] No users in tier", "trigger", trigger)
		return 0
	}

	enqueued := 0
	for _, userID := range users {
		busy, err := s.jobs.HasNonTerminal(ctx, userID)
		if err != nil {
			s.log.Error("[Scheduler] Gate check failed", "user_id", userID, "error", err)
			continue
		}
		if busy {
			continue
		}

		last, err := s.jobs.LastCompletedAt(ctx, userID)
		if err != nil {
			s.log.Error("[Scheduler] Cooldown check failed", "user_id", userID, "error", err)
			continue
		}
		if last > 0 && now.Unix()-last < s.cfg.ScanCooldownSeconds {
			continue
		}

		if _, err := s.jobs.Enqueue(ctx, userID, trigger, model.PriorityNormal, now.Unix()); err != nil {
			s.log.Error("[Scheduler] Failed to enqueue scheduled scan",
				"user_id", userID, "error", err)
			continue
		}
		enqueued++
		if s.metrics != nil {
			s.metrics.RecordJobEnqueued(trigger)
		}
	}

	s.log.Info("[Scheduler] Tier sweep complete",
		"trigger", trigger, "candidates", len(users), "enqueued", enqueued)
	return enqueued
}
