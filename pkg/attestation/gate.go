package attestation

import (
	"errors"
	"fmt"
	"time"

	"github.com/gobeyondidentity/docgate/pkg/session"
	"github.com/gobeyondidentity/docgate/pkg/store"
)

// DefaultFreshnessWindow is the default maximum age of the completed run
// backing document access.
const DefaultFreshnessWindow = 24 * time.Hour

// GateDecision represents the result of a document access check.
type GateDecision struct {
	Allowed bool
	Reason  string
	Run     *store.Run
}

// RunSource looks up recorded runs. *store.Store implements it.
type RunSource interface {
	LatestRun(username string) (*store.Run, error)
}

// Gate enforces a completed attestation before document access.
// Implements fail-secure: a missing, failed or stale run blocks access.
type Gate struct {
	runs            RunSource
	FreshnessWindow time.Duration // 0 disables the age check
}

// NewGate creates a gate with default settings.
func NewGate(runs RunSource) *Gate {
	return &Gate{
		runs:            runs,
		FreshnessWindow: DefaultFreshnessWindow,
	}
}

// CanAccess checks whether sess may reach the document area.
//
// Gate logic (fail-secure):
//   - No device id in the session: blocked with "device not attested"
//   - No recorded run: blocked with "attestation unavailable"
//   - Latest run not completed: blocked with "status: {status}"
//   - Latest run issued a different device id: blocked with "device id mismatch"
//   - Age > FreshnessWindow: blocked with "stale: {age}"
//   - Otherwise: allowed
func (g *Gate) CanAccess(sess *session.Session) (*GateDecision, error) {
	if !sess.Provisioned() {
		return &GateDecision{Reason: "device not attested"}, nil
	}

	run, err := g.runs.LatestRun(sess.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &GateDecision{Reason: "attestation unavailable"}, nil
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	if run.Status != store.RunStatusCompleted {
		return &GateDecision{Reason: fmt.Sprintf("status: %s", run.Status), Run: run}, nil
	}
	if run.DeviceID != sess.DeviceID {
		return &GateDecision{Reason: "device id mismatch", Run: run}, nil
	}

	if g.FreshnessWindow > 0 && run.FinishedAt != nil {
		if age := time.Since(*run.FinishedAt); age > g.FreshnessWindow {
			return &GateDecision{Reason: fmt.Sprintf("stale: %s", age.Round(time.Second)), Run: run}, nil
		}
	}

	return &GateDecision{Allowed: true, Run: run}, nil
}
