package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/entity"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/repo"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/log"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/probe"
)

// VMLister enumerates the powered-on fleet.
type VMLister interface {
	List(ctx context.Context) ([]entity.VM, error)
}

// Decider answers whether a probed event warrants a restart.
type Decider interface {
	ShouldRestart(ctx context.Context, vm entity.VM, latestEvent time.Time) (bool, error)
}

// Restarter drives the full retry-wrapped restart sequence.
type Restarter interface {
	Restart(ctx context.Context, vm entity.VM) (entity.RestartOutcome, error)
}

type Config struct {
	CheckInterval       time.Duration
	EventCheckWindow    time.Duration
	MaxConcurrentChecks int
}

// Poller runs the monitoring loop: enumerate powered-on VMs, probe each
// guest for the target event, restart when warranted, sleep, repeat. Per-VM
// failures and panics never cross into the loop; the cycle always moves on
// to the next VM.
type Poller struct {
	lister    VMLister
	prober    probe.Prober
	decision  Decider
	restarter Restarter
	history   repo.HistoryWriter
	clock     clockwork.Clock
	metrics   *Metrics
	conf      Config
}

func NewPoller(lister VMLister, prober probe.Prober, decision Decider, restarter Restarter, history repo.HistoryWriter, clock clockwork.Clock, metrics *Metrics, conf Config) Poller {
	return Poller{
		lister:    lister,
		prober:    prober,
		decision:  decision,
		restarter: restarter,
		history:   history,
		clock:     clock,
		metrics:   metrics,
		conf:      conf,
	}
}

// Run loops until the context is cancelled.
func (p Poller) Run(ctx context.Context) error {
	logger := log.Logger()

	cycle := 0

	for {
		cycle++

		p.runCycle(ctx, cycle)

		p.metrics.cycles.Inc()

		logger.V(1).Info("Cycle complete, sleeping", "cycle", cycle, "interval", p.conf.CheckInterval)

		select {
		case <-ctx.Done():
			logger.Info("Monitor stopping", "cycles", cycle)

			return ctx.Err()
		case <-p.clock.After(p.conf.CheckInterval):
		}
	}
}

func (p Poller) runCycle(ctx context.Context, cycle int) {
	logger := log.Logger().WithValues("cycle", cycle)

	logger.Info("Starting monitoring cycle")

	vms, err := p.lister.List(ctx)
	if err != nil {
		logger.Error(err, "Failed to list powered-on VMs")

		return
	}

	logger.Info("Scanned fleet", "poweredOn", len(vms))

	if len(vms) == 0 {
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.conf.MaxConcurrentChecks)

	for _, vm := range vms {
		vm := vm

		group.Go(func() error {
			p.checkVM(groupCtx, vm)

			// Per-VM failures are isolated, never propagated to siblings.
			return nil
		})
	}

	_ = group.Wait()
}

func (p Poller) checkVM(ctx context.Context, vm entity.VM) {
	logger := log.Logger().WithValues("vm", vm.Name)

	defer func() {
		r := recover()
		if r != nil {
			logger.Error(fmt.Errorf("unexpected error: %v", r), "Panic while checking VM")
		}
	}()

	start := p.clock.Now()

	defer func() {
		p.metrics.checkDuration.Observe(p.clock.Since(start).Seconds())
	}()

	p.metrics.vmsChecked.Inc()

	now := p.clock.Now()

	record, strategy := p.prober.Probe(ctx, vm, now.Add(-p.conf.EventCheckWindow), now)
	if strategy == probe.FallbackName {
		p.metrics.probeFallbacks.Inc()
	}

	if !record.Found {
		logger.V(1).Info("No event found")

		return
	}

	p.metrics.eventsDetected.Inc()

	logger.Info("Target event detected", "latest", record.Latest)

	should, err := p.decision.ShouldRestart(ctx, vm, record.Latest)
	if err != nil {
		logger.Error(err, "Failed to evaluate restart decision")

		return
	}

	if !should {
		logger.V(1).Info("Restart not needed, event old or already handled")

		return
	}

	outcome, err := p.restarter.Restart(ctx, vm)
	if err != nil {
		// Terminal per-VM failure for this cycle; history stays untouched so
		// the next cycle may try again.
		p.metrics.restarts.WithLabelValues("failure").Inc()

		logger.Error(err, "Failed to restart VM", "attempts", outcome.Attempts)

		return
	}

	p.metrics.restarts.WithLabelValues("success").Inc()

	err = p.history.MarkRestarted(ctx, vm.Name, p.clock.Now())
	if err != nil {
		logger.Error(err, "Failed to record restart in history")
	}
}
