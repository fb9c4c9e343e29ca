package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DriftType identifies the kind of behavioral drift a detector found.
type DriftType string

const (
	TopicEmergence     DriftType = "TOPIC_EMERGENCE"
	TopicAbandonment   DriftType = "TOPIC_ABANDONMENT"
	PreferenceReversal DriftType = "PREFERENCE_REVERSAL"
	IntensityShift     DriftType = "INTENSITY_SHIFT"
	ContextExpansion   DriftType = "CONTEXT_EXPANSION"
	ContextContraction DriftType = "CONTEXT_CONTRACTION"
)

// Rank gives a stable ordering over drift types, used to break score ties
// deterministically during aggregation.
func (t DriftType) Rank() int {
	switch t {
	case TopicEmergence:
		return 0
	case TopicAbandonment:
		return 1
	case PreferenceReversal:
		return 2
	case IntensityShift:
		return 3
	case ContextExpansion:
		return 4
	case ContextContraction:
		return 5
	}
	return 6
}

// Valid reports whether t is one of the six known drift types.
func (t DriftType) Valid() bool {
	return t.Rank() < 6
}

// Severity buckets a drift score.
type Severity string

const (
	SeverityNone     Severity = "NO_DRIFT"
	SeverityWeak     Severity = "WEAK_DRIFT"
	SeverityModerate Severity = "MODERATE_DRIFT"
	SeverityStrong   Severity = "STRONG_DRIFT"
)

// Rank orders severities none < weak < moderate < strong.
func (s Severity) Rank() int {
	switch s {
	case SeverityWeak:
		return 1
	case SeverityModerate:
		return 2
	case SeverityStrong:
		return 3
	}
	return 0
}

// SeverityForScore maps a drift score onto a severity bucket.
// Boundaries: <0.3 none, [0.3,0.6) weak, [0.6,0.8) moderate, >=0.8 strong.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 0.8:
		return SeverityStrong
	case score >= 0.6:
		return SeverityModerate
	case score >= 0.3:
		return SeverityWeak
	default:
		return SeverityNone
	}
}

// Evidence is the open-ended payload attached to signals and events.
// Values are primitives or arrays of primitives; written by detectors,
// read only by downstream consumers and tests.
type Evidence map[string]any

// Signal is a single detector finding. Signals are never persisted;
// they become DriftEvents only after aggregation.
type Signal struct {
	DriftType       DriftType
	DriftScore      float64
	AffectedTargets []string
	Evidence        Evidence
	Confidence      float64
}

// Severity returns the bucket for the signal's score.
func (s *Signal) Severity() Severity {
	return SeverityForScore(s.DriftScore)
}

// Actionable reports whether the signal is weak or stronger.
func (s *Signal) Actionable() bool {
	return s.Severity().Rank() >= SeverityWeak.Rank()
}

// Validate checks score and confidence bounds and the drift type.
func (s *Signal) Validate() error {
	if !s.DriftType.Valid() {
		return fmt.Errorf("invalid drift type %q", s.DriftType)
	}
	if s.DriftScore < 0 || s.DriftScore > 1 {
		return fmt.Errorf("drift_score out of range: %v", s.DriftScore)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence out of range: %v", s.Confidence)
	}
	return nil
}

// DriftEvent is a thresholded, aggregated signal with window metadata,
// persisted to the store and published downstream.
type DriftEvent struct {
	DriftEventID         string   `json:"drift_event_id"`
	UserID               string   `json:"user_id"`
	DriftType            DriftType `json:"drift_type"`
	DriftScore           float64  `json:"drift_score"`
	Confidence           float64  `json:"confidence"`
	Severity             Severity `json:"severity"`
	AffectedTargets      []string `json:"affected_targets"`
	Evidence             Evidence `json:"evidence"`
	ReferenceWindowStart int64    `json:"reference_window_start"`
	ReferenceWindowEnd   int64    `json:"reference_window_end"`
	CurrentWindowStart   int64    `json:"current_window_start"`
	CurrentWindowEnd     int64    `json:"current_window_end"`
	DetectedAt           int64    `json:"detected_at"`
	AcknowledgedAt       *int64   `json:"acknowledged_at,omitempty"`
	BehaviorRefIDs       []string `json:"behavior_ref_ids"`
	ConflictRefIDs       []string `json:"conflict_ref_ids"`
}

// NewEventID returns a fresh drift event identifier.
func NewEventID() string {
	return "drift_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// EventFromSignal materializes a DriftEvent from an aggregated signal.
func EventFromSignal(sig *Signal, userID string, refStart, refEnd, curStart, curEnd, detectedAt int64) *DriftEvent {
	targets := make([]string, len(sig.AffectedTargets))
	copy(targets, sig.AffectedTargets)
	ev := make(Evidence, len(sig.Evidence))
	for k, v := range sig.Evidence {
		ev[k] = v
	}
	return &DriftEvent{
		DriftEventID:         NewEventID(),
		UserID:               userID,
		DriftType:            sig.DriftType,
		DriftScore:           sig.DriftScore,
		Confidence:           sig.Confidence,
		Severity:             sig.Severity(),
		AffectedTargets:      targets,
		Evidence:             ev,
		ReferenceWindowStart: refStart,
		ReferenceWindowEnd:   refEnd,
		CurrentWindowStart:   curStart,
		CurrentWindowEnd:     curEnd,
		DetectedAt:           detectedAt,
		BehaviorRefIDs:       []string{},
		ConflictRefIDs:       []string{},
	}
}

// Acknowledged reports whether the event has been acknowledged.
func (e *DriftEvent) Acknowledged() bool {
	return e.AcknowledgedAt != nil
}
