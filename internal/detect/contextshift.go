package detect

import (
	"log/slog"
	"sort"

	"github.com/driftscope/backend/internal/model"
)

// The literal context token that marks broad, non-specific usage.
const generalContext = "general"

// ContextShiftDetector signals when a target's contexts cross the
// general boundary: expansion (specific to general) or contraction
// (general to specific). Pure additions are not drift.
type ContextShiftDetector struct {
	log *slog.Logger
}

func NewContextShiftDetector() *ContextShiftDetector {
	return &ContextShiftDetector{log: slog.Default()}
}

func (d *ContextShiftDetector) Name() string { return "ContextShift" }

func (d *ContextShiftDetector) Detect(ref, cur *model.Snapshot, now int64) ([]*model.Signal, error) {
	if err := validateSnapshots(ref, cur); err != nil {
		return nil, err
	}

	refContexts := contextMap(ref)
	curContexts := contextMap(cur)
	if len(refContexts) == 0 || len(curContexts) == 0 {
		return nil, nil
	}

	var common []string
	for t := range refContexts {
		if _, ok := curContexts[t]; ok {
			common = append(common, t)
		}
	}
	sort.Strings(common)

	var signals []*model.Signal
	for _, target := range common {
		refSet := refContexts[target]
		curSet := curContexts[target]
		_, refGeneral := refSet[generalContext]
		_, curGeneral := curSet[generalContext]

		var driftType model.DriftType
		var shiftType string
		switch {
		case !refGeneral && curGeneral:
			driftType, shiftType = model.ContextExpansion, "EXPANSION"
		case refGeneral && !curGeneral:
			driftType, shiftType = model.ContextContraction, "CONTRACTION"
		default:
			continue
		}

		sig := contextSignal(target, refSet, curSet, driftType, shiftType)
		signals = append(signals, sig)
		d.log.Info("[ContextShift] Detected context shift",
			"user_id", cur.UserID,
			"target", target,
			"shift_type", shiftType,
			"drift_score", sig.DriftScore)
	}
	return signals, nil
}

func contextMap(s *model.Snapshot) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, b := range s.ActiveBehaviors() {
		set, ok := out[b.Target]
		if !ok {
			set = make(map[string]struct{})
			out[b.Target] = set
		}
		set[b.Context] = struct{}{}
	}
	return out
}

func contextSignal(target string, refSet, curSet map[string]struct{}, driftType model.DriftType, shiftType string) *model.Signal {
	refDiversity := len(refSet)
	curDiversity := len(curSet)

	diversityChange := curDiversity - refDiversity
	if diversityChange < 0 {
		diversityChange = -diversityChange
	}
	score := float64(diversityChange) / 5.0
	if score > 1 {
		score = 1
	}
	// Crossing the general boundary is semantically stronger.
	score *= 1.5
	if score > 1 {
		score = 1
	}

	confidence := (float64(refDiversity) + float64(curDiversity)) / 2 / 3.0
	if confidence > 1 {
		confidence = 1
	}

	return &model.Signal{
		DriftType:       driftType,
		DriftScore:      score,
		AffectedTargets: []string{target},
		Confidence:      confidence,
		Evidence: model.Evidence{
			"target":                  target,
			"shift_type":              shiftType,
			"reference_contexts":      sortedKeys(refSet),
			"current_contexts":        sortedKeys(curSet),
			"reference_context_count": refDiversity,
			"current_context_count":   curDiversity,
			"contexts_added":          sortedDiff(curSet, refSet),
			"contexts_removed":        sortedDiff(refSet, curSet),
		},
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedDiff(a, b map[string]struct{}) []string {
	out := []string{}
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
