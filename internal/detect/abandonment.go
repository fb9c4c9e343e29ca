package detect

import (
	"log/slog"
	"sort"

	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/model"
)

// AbandonmentDetector signals when a previously reinforced target has
// gone silent beyond the configured threshold.
type AbandonmentDetector struct {
	silenceDays      int
	minReinforcement int
	log              *slog.Logger
}

func NewAbandonmentDetector(cfg *config.Config) *AbandonmentDetector {
	return &AbandonmentDetector{
		silenceDays:      cfg.AbandonmentSilenceDays,
		minReinforcement: cfg.MinReinforcementForAbandonment,
		log:              slog.Default(),
	}
}

func (d *AbandonmentDetector) Name() string { return "TopicAbandonment" }

type referenceActivity struct {
	reinforcement int
	maxLastSeenAt int64
}

func (d *AbandonmentDetector) Detect(ref, cur *model.Snapshot, now int64) ([]*model.Signal, error) {
	if err := validateSnapshots(ref, cur); err != nil {
		return nil, err
	}

	// Aggregate reference activity per target. The reference relevant set
	// includes superseded behaviors, so historical reinforcement counts.
	activity := make(map[string]*referenceActivity)
	for _, b := range ref.RelevantBehaviors() {
		a, ok := activity[b.Target]
		if !ok {
			a = &referenceActivity{}
			activity[b.Target] = a
		}
		a.reinforcement += b.ReinforcementCount
		if b.LastSeenAt > a.maxLastSeenAt {
			a.maxLastSeenAt = b.LastSeenAt
		}
	}

	targets := make([]string, 0, len(activity))
	for t, a := range activity {
		if a.reinforcement >= d.minReinforcement {
			targets = append(targets, t)
		}
	}
	sort.Strings(targets)

	silenceThreshold := now - int64(d.silenceDays)*86400

	var signals []*model.Signal
	for _, target := range targets {
		a := activity[target]
		if cur.HasTarget(target) {
			continue
		}
		if a.maxLastSeenAt >= silenceThreshold {
			continue
		}

		daysSilent := float64(now-a.maxLastSeenAt) / 86400
		histW := float64(a.reinforcement) / 5.0
		if histW > 1 {
			histW = 1
		}
		silW := daysSilent / float64(d.silenceDays)
		if silW > 1 {
			silW = 1
		}

		sig := &model.Signal{
			DriftType:       model.TopicAbandonment,
			DriftScore:      histW * silW,
			AffectedTargets: []string{target},
			Confidence:      histW,
			Evidence: model.Evidence{
				"abandoned_target":                 target,
				"last_seen_at":                     a.maxLastSeenAt,
				"days_silent":                      int(daysSilent),
				"historical_reinforcement_count":   a.reinforcement,
				"silence_threshold_days":           d.silenceDays,
				"historical_weight":                round3(histW),
				"silence_weight":                   round3(silW),
			},
		}
		signals = append(signals, sig)
		d.log.Info("[TopicAbandonment] Detected topic abandonment",
			"user_id", cur.UserID,
			"target", target,
			"days_silent", int(daysSilent),
			"drift_score", sig.DriftScore)
	}
	return signals, nil
}
