package restart

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/entity"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/repo"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/log"
)

// Decision decides whether a detected event warrants a restart. It never
// mutates history; recording a restart is the caller's job after the
// orchestrator reports success.
type Decision struct {
	history   repo.HistoryReader
	clock     clockwork.Clock
	threshold time.Duration
}

func NewDecision(history repo.HistoryReader, clock clockwork.Clock, threshold time.Duration) Decision {
	return Decision{
		history:   history,
		clock:     clock,
		threshold: threshold,
	}
}

// ShouldRestart applies the rules in order: no event time, stale event,
// already handled. Event timestamps come from the guest clock and are
// compared against the host clock as-is; drift between the two is a known
// limitation.
func (d Decision) ShouldRestart(ctx context.Context, vm entity.VM, latestEvent time.Time) (bool, error) {
	logger := log.Logger().WithValues("vm", vm.Name)

	if latestEvent.IsZero() {
		return false, nil
	}

	age := d.clock.Since(latestEvent)
	if age > d.threshold {
		logger.V(1).Info("Event too old, skipping restart", "age", age, "threshold", d.threshold)

		return false, nil
	}

	lastRestart, present, err := d.history.LastRestart(ctx, vm.Name)
	if err != nil {
		return false, fmt.Errorf("failed to read restart history: %w", err)
	}

	// A restart recorded at exactly the event instant counts as handled.
	if present && !lastRestart.Before(latestEvent) {
		logger.V(1).Info("Already restarted for this event occurrence", "lastRestart", lastRestart, "event", latestEvent)

		return false, nil
	}

	logger.Info("Event is recent, restart needed", "age", age, "threshold", d.threshold)

	return true, nil
}
