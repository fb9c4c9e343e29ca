// Package model holds the domain types shared by the drift pipeline:
// behaviors and conflicts (the local projection of upstream events),
// snapshots (windowed views with derived distributions), and the
// signal/event pair produced by detection.
package model

// Behavior states.
const (
	StateActive     = "ACTIVE"
	StateSuperseded = "SUPERSEDED"
)

// Polarities.
const (
	PolarityPositive = "POSITIVE"
	PolarityNegative = "NEGATIVE"
	PolarityNeutral  = "NEUTRAL"
)

// Intents emitted by the upstream behavior-extraction service.
const (
	IntentPreference    = "preference"
	IntentConstraint    = "constraint"
	IntentHabit         = "habit"
	IntentSkill         = "skill"
	IntentCommunication = "communication"
	IntentBelief        = "belief"
	IntentGoal          = "goal"
)

// Behavior is the local projection of one canonical behavior record,
// keyed by (user_id, behavior_id).
type Behavior struct {
	UserID             string  `json:"user_id"`
	BehaviorID         string  `json:"behavior_id"`
	Target             string  `json:"target"`
	Intent             string  `json:"intent"`
	Context            string  `json:"context"`
	Polarity           string  `json:"polarity"`
	Credibility        float64 `json:"credibility"`
	ReinforcementCount int     `json:"reinforcement_count"`
	State              string  `json:"state"`
	CreatedAt          int64   `json:"created_at"`
	LastSeenAt         int64   `json:"last_seen_at"`
	SnapshotUpdatedAt  int64   `json:"snapshot_updated_at"`
}

// IsActive reports whether the behavior has not been superseded.
func (b *Behavior) IsActive() bool {
	return b.State == StateActive
}

// Conflict records a resolved contradiction between two behaviors.
// Optional old/new polarity and target fields use "" for absent.
type Conflict struct {
	UserID           string `json:"user_id"`
	ConflictID       string `json:"conflict_id"`
	BehaviorID1      string `json:"behavior_id_1"`
	BehaviorID2      string `json:"behavior_id_2"`
	ConflictType     string `json:"conflict_type"`
	ResolutionStatus string `json:"resolution_status"`
	OldPolarity      string `json:"old_polarity,omitempty"`
	NewPolarity      string `json:"new_polarity,omitempty"`
	OldTarget        string `json:"old_target,omitempty"`
	NewTarget        string `json:"new_target,omitempty"`
	CreatedAt        int64  `json:"created_at"`
}

// IsPolarityReversal reports whether the conflict flips polarity:
// both polarities recorded and different.
func (c *Conflict) IsPolarityReversal() bool {
	return c.OldPolarity != "" && c.NewPolarity != "" && c.OldPolarity != c.NewPolarity
}

// IsTargetMigration reports whether the conflict moves to a new target.
func (c *Conflict) IsTargetMigration() bool {
	return c.OldTarget != "" && c.NewTarget != "" && c.OldTarget != c.NewTarget
}
