package detect

import (
	"log/slog"
	"sort"

	"github.com/driftscope/backend/internal/config"
	"github.com/driftscope/backend/internal/model"
)

// IntensityDetector signals credibility shifts on targets present in
// both windows.
type IntensityDetector struct {
	deltaThreshold float64
	log            *slog.Logger
}

func NewIntensityDetector(cfg *config.Config) *IntensityDetector {
	return &IntensityDetector{
		deltaThreshold: cfg.IntensityDeltaThreshold,
		log:            slog.Default(),
	}
}

func (d *IntensityDetector) Name() string { return "IntensityShift" }

func (d *IntensityDetector) Detect(ref, cur *model.Snapshot, now int64) ([]*model.Signal, error) {
	if err := validateSnapshots(ref, cur); err != nil {
		return nil, err
	}

	curTargets := cur.Targets()
	var common []string
	for t := range ref.Targets() {
		if _, ok := curTargets[t]; ok {
			common = append(common, t)
		}
	}
	sort.Strings(common)

	var signals []*model.Signal
	for _, target := range common {
		refCred := ref.AvgCredibility(target)
		curCred := cur.AvgCredibility(target)
		delta := curCred - refCred
		if delta < 0 {
			delta = -delta
		}
		if delta < d.deltaThreshold {
			continue
		}

		direction := "DECREASE"
		if curCred > refCred {
			direction = "INCREASE"
		}

		relativePct := 0.0
		if refCred > 0 {
			relativePct = (curCred - refCred) / refCred * 100
		}

		sig := &model.Signal{
			DriftType:       model.IntensityShift,
			DriftScore:      delta,
			AffectedTargets: []string{target},
			Confidence:      minFloat(refCred, curCred),
			Evidence: model.Evidence{
				"target":                target,
				"direction":             direction,
				"reference_credibility": round3(refCred),
				"current_credibility":   round3(curCred),
				"credibility_delta":     round3(delta),
				"relative_change_pct":   round1(relativePct),
			},
		}
		signals = append(signals, sig)
		d.log.Info("[IntensityShift] Detected intensity shift",
			"user_id", cur.UserID,
			"target", target,
			"direction", direction,
			"delta", delta)
	}
	return signals, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
