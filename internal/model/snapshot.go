package model

// Snapshot is an immutable view of a user's behaviors and conflicts
// within one time window, plus distributions derived at construction.
//
// Reference (historical) windows are built with includeSuperseded=true so
// that reinforcement earned before a supersession still counts; current
// windows only see ACTIVE behaviors.
type Snapshot struct {
	UserID            string
	WindowStart       int64
	WindowEnd         int64
	IncludeSuperseded bool

	Behaviors []*Behavior
	Conflicts []*Conflict

	topicDistribution  map[string]float64
	intentDistribution map[string]float64
	polarityByTarget   map[string]string
	byID               map[string]*Behavior
}

// NewSnapshot builds a snapshot and eagerly computes its derived
// distributions and the behavior_id index.
func NewSnapshot(userID string, windowStart, windowEnd int64, behaviors []*Behavior, conflicts []*Conflict, includeSuperseded bool) *Snapshot {
	s := &Snapshot{
		UserID:             userID,
		WindowStart:        windowStart,
		WindowEnd:          windowEnd,
		IncludeSuperseded:  includeSuperseded,
		Behaviors:          behaviors,
		Conflicts:          conflicts,
		topicDistribution:  make(map[string]float64),
		intentDistribution: make(map[string]float64),
		polarityByTarget:   make(map[string]string),
		byID:               make(map[string]*Behavior, len(behaviors)),
	}
	s.compute()
	return s
}

func (s *Snapshot) compute() {
	for _, b := range s.Behaviors {
		s.byID[b.BehaviorID] = b
	}

	relevant := s.relevant()
	if len(relevant) == 0 {
		return
	}

	// Topic distribution: share of total reinforcement per target.
	total := 0
	perTarget := make(map[string]int)
	for _, b := range relevant {
		total += b.ReinforcementCount
		perTarget[b.Target] += b.ReinforcementCount
	}
	if total > 0 {
		for target, count := range perTarget {
			s.topicDistribution[target] = float64(count) / float64(total)
		}
	}

	// Intent distribution: share of behaviors per intent.
	intentCounts := make(map[string]int)
	for _, b := range relevant {
		intentCounts[b.Intent]++
	}
	for intent, count := range intentCounts {
		s.intentDistribution[intent] = float64(count) / float64(len(relevant))
	}

	// Polarity by target: most recent behavior wins, ties broken by
	// behavior_id so the result is stable across runs.
	latest := make(map[string]*Behavior)
	for _, b := range relevant {
		cur, ok := latest[b.Target]
		if !ok || b.LastSeenAt > cur.LastSeenAt ||
			(b.LastSeenAt == cur.LastSeenAt && b.BehaviorID < cur.BehaviorID) {
			latest[b.Target] = b
		}
	}
	for target, b := range latest {
		s.polarityByTarget[target] = b.Polarity
	}
}

// relevant returns the behaviors that contribute to derived structures:
// all of them for reference windows, ACTIVE only for current windows.
func (s *Snapshot) relevant() []*Behavior {
	if s.IncludeSuperseded {
		return s.Behaviors
	}
	out := make([]*Behavior, 0, len(s.Behaviors))
	for _, b := range s.Behaviors {
		if b.IsActive() {
			out = append(out, b)
		}
	}
	return out
}

// TopicDistribution maps target to its share of total reinforcement.
func (s *Snapshot) TopicDistribution() map[string]float64 { return s.topicDistribution }

// IntentDistribution maps intent to its share of behaviors.
func (s *Snapshot) IntentDistribution() map[string]float64 { return s.intentDistribution }

// PolarityByTarget maps target to the polarity of its most recent behavior.
func (s *Snapshot) PolarityByTarget() map[string]string { return s.polarityByTarget }

// Targets returns the set of distinct targets among relevant behaviors.
func (s *Snapshot) Targets() map[string]struct{} {
	out := make(map[string]struct{})
	for _, b := range s.relevant() {
		out[b.Target] = struct{}{}
	}
	return out
}

// HasTarget reports whether any relevant behavior references target.
func (s *Snapshot) HasTarget(target string) bool {
	for _, b := range s.relevant() {
		if b.Target == target {
			return true
		}
	}
	return false
}

// BehaviorsForTarget returns every behavior (any state) for target.
func (s *Snapshot) BehaviorsForTarget(target string) []*Behavior {
	var out []*Behavior
	for _, b := range s.Behaviors {
		if b.Target == target {
			out = append(out, b)
		}
	}
	return out
}

// ActiveBehaviors returns behaviors still in the ACTIVE state.
func (s *Snapshot) ActiveBehaviors() []*Behavior {
	var out []*Behavior
	for _, b := range s.Behaviors {
		if b.IsActive() {
			out = append(out, b)
		}
	}
	return out
}

// RelevantBehaviorsForTarget filters the relevant set by target.
func (s *Snapshot) RelevantBehaviorsForTarget(target string) []*Behavior {
	var out []*Behavior
	for _, b := range s.relevant() {
		if b.Target == target {
			out = append(out, b)
		}
	}
	return out
}

// RelevantBehaviors exposes the contribution set (all behaviors for
// reference windows, ACTIVE only for current).
func (s *Snapshot) RelevantBehaviors() []*Behavior { return s.relevant() }

// ReinforcementCount sums reinforcement over relevant behaviors for target.
func (s *Snapshot) ReinforcementCount(target string) int {
	total := 0
	for _, b := range s.relevant() {
		if b.Target == target {
			total += b.ReinforcementCount
		}
	}
	return total
}

// ContextsForTarget returns the set of contexts among relevant behaviors
// for target.
func (s *Snapshot) ContextsForTarget(target string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, b := range s.relevant() {
		if b.Target == target {
			out[b.Context] = struct{}{}
		}
	}
	return out
}

// AvgCredibility averages credibility over relevant behaviors for target,
// 0 when the target is absent.
func (s *Snapshot) AvgCredibility(target string) float64 {
	sum, n := 0.0, 0
	for _, b := range s.relevant() {
		if b.Target == target {
			sum += b.Credibility
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// BehaviorByID looks up a behavior by id in this snapshot's index.
func (s *Snapshot) BehaviorByID(id string) *Behavior {
	return s.byID[id]
}

// PolarityReversals returns the conflicts that flip polarity.
func (s *Snapshot) PolarityReversals() []*Conflict {
	var out []*Conflict
	for _, c := range s.Conflicts {
		if c.IsPolarityReversal() {
			out = append(out, c)
		}
	}
	return out
}

// TargetMigrations returns the conflicts that move to a new target.
func (s *Snapshot) TargetMigrations() []*Conflict {
	var out []*Conflict
	for _, c := range s.Conflicts {
		if c.IsTargetMigration() {
			out = append(out, c)
		}
	}
	return out
}

// ActiveBehaviorCount counts behaviors in the ACTIVE state.
func (s *Snapshot) ActiveBehaviorCount() int {
	n := 0
	for _, b := range s.Behaviors {
		if b.IsActive() {
			n++
		}
	}
	return n
}
