package detect

import (
	"log/slog"
	"sort"

	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/model"
)

// EmergenceDetector signals when a target appears in the current window
// with material activity but was absent from the reference window.
type EmergenceDetector struct {
	minReinforcement  int
	recencyWeightDays int
	log               *slog.Logger
}

func NewEmergenceDetector(cfg *config.Config) *EmergenceDetector {
	return &EmergenceDetector{
		minReinforcement:  cfg.EmergenceMinReinforcement,
		recencyWeightDays: cfg.RecencyWeightDays,
		log:               slog.Default(),
	}
}

func (d *EmergenceDetector) Name() string { return "TopicEmergence" }

func (d *EmergenceDetector) Detect(ref, cur *model.Snapshot, now int64) ([]*model.Signal, error) {
	if err := validateSnapshots(ref, cur); err != nil {
		return nil, err
	}

	refTargets := ref.Targets()
	var newTargets []string
	for t := range cur.Targets() {
		if _, known := refTargets[t]; !known {
			newTargets = append(newTargets, t)
		}
	}
	sort.Strings(newTargets)

	var signals []*model.Signal
	for _, target := range newTargets {
		reinforcement := cur.ReinforcementCount(target)
		if reinforcement < d.minReinforcement {
			d.log.Debug("[TopicEmergence] Target below reinforcement floor",
				"target", target, "reinforcement", reinforcement)
			continue
		}
		sig := d.emergenceSignal(target, cur, now)
		signals = append(signals, sig)
		d.log.Info("[TopicEmergence] Detected topic emergence",
			"user_id", cur.UserID,
			"target", target,
			"drift_score", sig.DriftScore,
			"reinforcement", reinforcement)
	}
	return signals, nil
}

func (d *EmergenceDetector) emergenceSignal(target string, cur *model.Snapshot, now int64) *model.Signal {
	behaviors := cur.RelevantBehaviorsForTarget(target)
	reinforcement := 0
	for _, b := range behaviors {
		reinforcement += b.ReinforcementCount
	}

	// Relative importance: share of all active reinforcement this window.
	total := 0
	for _, b := range cur.ActiveBehaviors() {
		total += b.ReinforcementCount
	}
	importance := 0.0
	if total > 0 {
		importance = float64(reinforcement) / float64(total)
	}

	// Recency decays linearly over recencyWeightDays, floored at 0.1.
	sumDays := 0.0
	for _, b := range behaviors {
		sumDays += float64(now-b.LastSeenAt) / 86400
	}
	avgDaysAgo := sumDays / float64(len(behaviors))
	recency := 1.0 - avgDaysAgo/float64(d.recencyWeightDays)
	if recency < 0.1 {
		recency = 0.1
	}

	confidence := float64(reinforcement) / 5.0
	if confidence > 1 {
		confidence = 1
	}

	sumCred := 0.0
	for _, b := range behaviors {
		sumCred += b.Credibility
	}

	contexts := make([]string, 0, len(behaviors))
	for c := range cur.ContextsForTarget(target) {
		contexts = append(contexts, c)
	}
	sort.Strings(contexts)

	return &model.Signal{
		DriftType:       model.TopicEmergence,
		DriftScore:      importance * recency,
		AffectedTargets: []string{target},
		Confidence:      confidence,
		Evidence: model.Evidence{
			"emerging_target":        target,
			"reinforcement_count":    reinforcement,
			"behavior_count":         len(behaviors),
			"avg_credibility":        round3(sumCred / float64(len(behaviors))),
			"avg_days_since_mention": round1(avgDaysAgo),
			"recency_weight":         round3(recency),
			"relative_importance":    round3(importance),
			"contexts":               contexts,
		},
	}
}
