package probe

import (
	"context"
	"time"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/entity"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/log"
)

// Prober answers whether the target event occurred in a guest within the
// given window, and names the strategy that produced the answer. Probing
// never fails hard: an unreachable or unparsable guest degrades to a
// not-found answer so one bad VM cannot stall the fleet poll.
type Prober interface {
	Probe(ctx context.Context, vm entity.VM, windowStart, windowEnd time.Time) (entity.EventRecord, string)
}

// Strategy is one way of reading the guest event log. A false second return
// value means the strategy could not produce a definite answer and the next
// one should be tried.
type Strategy interface {
	Name() string
	Check(ctx context.Context, vm entity.VM, windowStart, windowEnd time.Time) (entity.EventRecord, bool)
}

// Chain tries strategies in order; the first definite answer wins.
type Chain struct {
	strategies []Strategy
}

func NewChain(strategies ...Strategy) Chain {
	return Chain{
		strategies: strategies,
	}
}

func (c Chain) Probe(ctx context.Context, vm entity.VM, windowStart, windowEnd time.Time) (entity.EventRecord, string) {
	logger := log.Logger()

	for _, strategy := range c.strategies {
		record, definite := strategy.Check(ctx, vm, windowStart, windowEnd)
		if !definite {
			logger.V(1).Info("Probe strategy gave no definite answer", "vm", vm.Name, "strategy", strategy.Name())

			continue
		}

		logger.V(2).Info("Probe answered", "vm", vm.Name, "strategy", strategy.Name(), "found", record.Found)

		return record, strategy.Name()
	}

	logger.Info("All probe strategies failed, assuming no event", "vm", vm.Name)

	return entity.EventRecord{}, FallbackName
}

// FallbackName identifies the terminal assume-no-event strategy.
const FallbackName = "fallback"

// Fallback is the terminal strategy: assume no event rather than block the
// poll on an unresponsive VM. False negatives are the accepted cost.
type Fallback struct{}

func (Fallback) Name() string {
	return FallbackName
}

func (Fallback) Check(_ context.Context, _ entity.VM, _, _ time.Time) (entity.EventRecord, bool) {
	return entity.EventRecord{}, true
}
