package detect

import (
	"log/slog"
	"sort"

	"github.com/driftscope/backend/internal/model"
)

// Aggregator deduplicates detector output per target, applies the score
// threshold and orders the survivors.
type Aggregator struct {
	scoreThreshold float64
	log            *slog.Logger
}

func NewAggregator(scoreThreshold float64) *Aggregator {
	return &Aggregator{scoreThreshold: scoreThreshold, log: slog.Default()}
}

// Aggregate groups signals by each affected target, keeps the strongest
// signal per target (score ties broken by drift type order), drops
// duplicates and sub-threshold signals, and sorts by score descending.
// Invalid signals are skipped, never fatal.
func (a *Aggregator) Aggregate(signals []*model.Signal) []*model.Signal {
	if len(signals) == 0 {
		return nil
	}

	groups := make(map[string][]*model.Signal)
	for _, sig := range signals {
		if sig == nil {
			continue
		}
		if err := sig.Validate(); err != nil {
			a.log.Warn("[Aggregator] Skipping invalid signal", "error", err)
			continue
		}
		if len(sig.AffectedTargets) == 0 {
			a.log.Warn("[Aggregator] Signal has no affected targets, skipping",
				"drift_type", sig.DriftType)
			continue
		}
		for _, target := range sig.AffectedTargets {
			groups[target] = append(groups[target], sig)
		}
	}

	targets := make([]string, 0, len(groups))
	for t := range groups {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	seen := make(map[*model.Signal]struct{})
	var deduplicated []*model.Signal
	for _, target := range targets {
		best := bestSignal(groups[target])
		if _, dup := seen[best]; dup {
			continue
		}
		seen[best] = struct{}{}
		deduplicated = append(deduplicated, best)
	}

	var actionable []*model.Signal
	for _, sig := range deduplicated {
		if sig.DriftScore >= a.scoreThreshold && sig.Actionable() {
			actionable = append(actionable, sig)
		}
	}

	sort.SliceStable(actionable, func(i, j int) bool {
		if actionable[i].DriftScore != actionable[j].DriftScore {
			return actionable[i].DriftScore > actionable[j].DriftScore
		}
		return actionable[i].DriftType.Rank() < actionable[j].DriftType.Rank()
	})

	a.log.Info("[Aggregator] Aggregation complete",
		"raw", len(signals),
		"deduplicated", len(deduplicated),
		"actionable", len(actionable))
	return actionable
}

func bestSignal(group []*model.Signal) *model.Signal {
	best := group[0]
	for _, sig := range group[1:] {
		if sig.DriftScore > best.DriftScore ||
			(sig.DriftScore == best.DriftScore && sig.DriftType.Rank() < best.DriftType.Rank()) {
			best = sig
		}
	}
	return best
}
