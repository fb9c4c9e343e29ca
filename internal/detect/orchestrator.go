package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/driftscope/backend/internal/clock"
	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/model"
	"github.com/driftscope/backend/internal/snapshot"
)

// Gate failures. Callers map these to their own surface (HTTP 400/429,
// worker "no events").
var (
	ErrInsufficientData = errors.New("insufficient data for drift detection")
	ErrCooldownActive   = errors.New("scan cooldown in effect")
)

// DetectionLog is the slice of the drift-event repository the cooldown
// gate reads.
type DetectionLog interface {
	LatestDetectionAt(ctx context.Context, userID string) (int64, error)
}

// EventSink persists detected events and publishes them downstream.
type EventSink interface {
	Write(ctx context.Context, events []*model.DriftEvent, ref, cur *model.Snapshot) ([]string, error)
}

// Orchestrator runs the full detection pipeline for one user: gates,
// snapshots, detectors, aggregation, persistence.
type Orchestrator struct {
	builder    *snapshot.Builder
	detectors  []Detector
	aggregator *Aggregator
	events     DetectionLog
	sink       EventSink
	cfg        *config.Config
	clock      clock.Clock
	log        *slog.Logger
}

func NewOrchestrator(builder *snapshot.Builder, events DetectionLog, sink EventSink, cfg *config.Config, clk clock.Clock) *Orchestrator {
	return &Orchestrator{
		builder: builder,
		detectors: []Detector{
			NewEmergenceDetector(cfg),
			NewAbandonmentDetector(cfg),
			NewReversalDetector(),
			NewIntensityDetector(cfg),
			NewContextShiftDetector(),
		},
		aggregator: NewAggregator(cfg.DriftScoreThreshold),
		events:     events,
		sink:       sink,
		cfg:        cfg,
		clock:      clk,
		log:        slog.Default(),
	}
}

// DetectDrift runs a full scan. Gate failures return the sentinel errors
// above with no events; force skips only the cooldown gate.
func (o *Orchestrator) DetectDrift(ctx context.Context, userID string, force bool) ([]*model.DriftEvent, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}
	o.log.Info("[DriftDetector] Starting drift detection", "user_id", userID, "force", force)

	ok, err := o.builder.HasSufficientData(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sufficient-data check: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientData
	}

	if !force {
		last, err := o.events.LatestDetectionAt(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("cooldown check: %w", err)
		}
		if last > 0 {
			elapsed := o.clock.Now().Unix() - last
			if elapsed < o.cfg.ScanCooldownSeconds {
				o.log.Info("[DriftDetector] Cooldown in effect",
					"user_id", userID,
					"remaining_seconds", o.cfg.ScanCooldownSeconds-elapsed)
				return nil, ErrCooldownActive
			}
		}
	}

	ref, cur, err := o.builder.BuildReferenceAndCurrent(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("build snapshots: %w", err)
	}
	o.log.Info("[DriftDetector] Snapshots built",
		"user_id", userID,
		"reference_behaviors", len(ref.Behaviors),
		"current_behaviors", len(cur.Behaviors))

	now := o.clock.Now().Unix()
	var allSignals []*model.Signal
	for _, detector := range o.detectors {
		signals, err := detector.Detect(ref, cur, now)
		if err != nil {
			o.log.Error("[DriftDetector] Detector failed",
				"detector", detector.Name(), "error", err)
			continue
		}
		allSignals = append(allSignals, signals...)
	}
	if len(allSignals) == 0 {
		o.log.Info("[DriftDetector] No drift signals detected", "user_id", userID)
		return nil, nil
	}

	actionable := o.aggregator.Aggregate(allSignals)
	if len(actionable) == 0 {
		o.log.Info("[DriftDetector] No actionable signals after aggregation", "user_id", userID)
		return nil, nil
	}

	events := make([]*model.DriftEvent, 0, len(actionable))
	for _, sig := range actionable {
		events = append(events, model.EventFromSignal(sig, userID,
			ref.WindowStart, ref.WindowEnd,
			cur.WindowStart, cur.WindowEnd,
			now))
	}

	if _, err := o.sink.Write(ctx, events, ref, cur); err != nil {
		return nil, fmt.Errorf("write drift events: %w", err)
	}

	o.log.Info("[DriftDetector] Drift detection complete",
		"user_id", userID, "events", len(events))
	return events, nil
}
