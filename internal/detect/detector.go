// Package detect holds the five drift detectors, the signal aggregator
// and the orchestrator that runs a full scan for one user.
package detect

import (
	"fmt"

	"github.com/driftscope/backend/internal/model"
)

// Detector compares a reference snapshot against a current one and
// emits raw signals. Detectors are pure over their inputs and the
// supplied timestamp; they never touch the store.
type Detector interface {
	Name() string
	Detect(ref, cur *model.Snapshot, now int64) ([]*model.Signal, error)
}

func validateSnapshots(ref, cur *model.Snapshot) error {
	if ref == nil || cur == nil {
		return fmt.Errorf("both snapshots are required")
	}
	if ref.UserID != cur.UserID {
		return fmt.Errorf("snapshot user mismatch: %q vs %q", ref.UserID, cur.UserID)
	}
	return nil
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5*sign(v))) / 1000
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5*sign(v))) / 10
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
