package restart

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	"github.com/jonboulle/clockwork"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/config"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/entity"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/log"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/vmrun"
)

// phase names for logging the state machine position.
const (
	phaseStopping = "stopping"
	phaseWaiting  = "waiting-for-release"
	phaseStarting = "starting"
)

// liveness pings happen on alternate sub-intervals of roughly this length
// during the waiting phase.
const waitSubInterval = 5 * time.Second

// Hypervisor is the slice of the vmrun client the orchestrator drives.
type Hypervisor interface {
	Stop(ctx context.Context, vm entity.VM, mode vmrun.StopMode) (vmrun.Result, error)
	Start(ctx context.Context, vm entity.VM, nogui bool) (vmrun.Result, error)
	Ping(ctx context.Context) bool
}

// Orchestrator drives one supervised restart: stop, wait for the hypervisor
// to release its lock files, start. Stale lock files after a slow shutdown
// are the dominant failure mode, so lock contention is absorbed with bounded
// retries instead of failing on the first collision.
type Orchestrator struct {
	hv     Hypervisor
	clock  clockwork.Clock
	conf   config.Restart
	dryRun bool
}

func NewOrchestrator(hv Hypervisor, clock clockwork.Clock, conf config.Restart, dryRun bool) Orchestrator {
	return Orchestrator{
		hv:     hv,
		clock:  clock,
		conf:   conf,
		dryRun: dryRun,
	}
}

// Restart runs the full retry-wrapped restart sequence. The returned outcome
// carries the attempt count; the error is the last attempt's failure once all
// attempts are exhausted. Failed attempts are retried regardless of failure
// kind, since hypervisor error text cannot reliably distinguish permanent
// from transient faults.
func (o Orchestrator) Restart(ctx context.Context, vm entity.VM) (entity.RestartOutcome, error) {
	logger := log.Logger().WithValues("vm", vm.Name)

	if o.dryRun {
		logger.Info("Dry run: would stop, wait and start VM", "wait", o.conf.Delay+o.conf.LockCleanupDelay)

		return entity.RestartOutcome{VM: vm, Success: true}, nil
	}

	attempts := 0

	err := retry.Do(
		func() error {
			attempts++

			return o.attempt(ctx, vm, logger.WithValues("attempt", attempts, "maxAttempts", o.conf.MaxRetries))
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.conf.MaxRetries)),
		retry.Delay(o.conf.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Restart attempt failed, retrying", "attempt", n+1, "delay", o.conf.RetryDelay, "reason", err.Error())
		}),
	)

	ret := entity.RestartOutcome{
		VM:       vm,
		Attempts: attempts,
		Success:  err == nil,
	}

	if err != nil {
		return ret, fmt.Errorf("failed to restart after %d attempts: %w", attempts, err)
	}

	logger.Info("VM restarted", "attempts", attempts)

	return ret, nil
}

func (o Orchestrator) attempt(ctx context.Context, vm entity.VM, logger logr.Logger) error {
	err := o.stop(ctx, vm, logger)
	if err != nil {
		return err
	}

	err = o.waitForRelease(ctx, vm, logger)
	if err != nil {
		return err
	}

	return o.start(ctx, vm, logger)
}

func (o Orchestrator) stop(ctx context.Context, vm entity.VM, logger logr.Logger) error {
	logger = logger.WithValues("phase", phaseStopping)

	res, err := o.hv.Stop(ctx, vm, vmrun.StopSoft)
	if err != nil {
		return fmt.Errorf("failed to issue soft stop: %w", err)
	}

	switch res.Kind {
	case vmrun.KindOK:
		logger.V(1).Info("Soft stop succeeded")

		return nil
	case vmrun.KindNotPoweredOn:
		// Already stopped is as good as stopped.
		logger.V(1).Info("VM already stopped")

		return nil
	case vmrun.KindLocked:
		logger.Info("VM locked during soft stop, escalating to hard stop", "output", res.Output())
	default:
		logger.Info("Soft stop failed, escalating to hard stop", "kind", res.Kind.String(), "output", res.Output())
	}

	res, err = o.hv.Stop(ctx, vm, vmrun.StopHard)
	if err != nil {
		return fmt.Errorf("failed to issue hard stop: %w", err)
	}

	if res.Kind != vmrun.KindOK && res.Kind != vmrun.KindNotPoweredOn {
		return fmt.Errorf("hard stop failed (%s): %s", res.Kind, res.Output())
	}

	logger.V(1).Info("Hard stop succeeded")

	return nil
}

// waitForRelease sleeps long enough for the hypervisor to drop its lock
// files, in sub-intervals. Alternate sub-intervals after the first issue a
// liveness ping against the control channel; ping failures are logged only.
func (o Orchestrator) waitForRelease(ctx context.Context, vm entity.VM, logger logr.Logger) error {
	logger = logger.WithValues("phase", phaseWaiting)

	total := o.conf.Delay + o.conf.LockCleanupDelay

	intervals := int(total / waitSubInterval)
	if intervals < 1 {
		intervals = 1
	}

	step := total / time.Duration(intervals)

	logger.V(1).Info("Waiting for lock release", "total", total, "intervals", intervals)

	for i := 0; i < intervals; i++ {
		err := o.sleep(ctx, step)
		if err != nil {
			return err
		}

		if i > 0 && i%2 == 0 {
			if o.hv.Ping(ctx) {
				logger.V(2).Info("Hypervisor responding during wait", "interval", i+1)
			} else {
				logger.V(1).Info("Hypervisor not responding during wait", "interval", i+1)
			}
		}
	}

	return nil
}

func (o Orchestrator) start(ctx context.Context, vm entity.VM, logger logr.Logger) error {
	logger = logger.WithValues("phase", phaseStarting)

	res, err := o.hv.Start(ctx, vm, true)
	if err != nil {
		return fmt.Errorf("failed to issue start: %w", err)
	}

	switch res.Kind {
	case vmrun.KindOK:
		logger.V(1).Info("Start succeeded")

		return nil
	case vmrun.KindLocked:
		logger.Info("VM still locked on start, waiting before standard start", "extraWait", o.conf.ExtendedStartWait, "output", res.Output())

		err := o.sleep(ctx, o.conf.ExtendedStartWait)
		if err != nil {
			return err
		}

		res, err = o.hv.Start(ctx, vm, false)
		if err != nil {
			return fmt.Errorf("failed to issue standard start: %w", err)
		}

		if res.Kind != vmrun.KindOK {
			return fmt.Errorf("start failed after extended wait (%s): %s", res.Kind, res.Output())
		}

		logger.V(1).Info("Standard start succeeded after extended wait")

		return nil
	case vmrun.KindTimedOut:
		return fmt.Errorf("start timed out: %s", res.Output())
	}

	return fmt.Errorf("start failed (%s): %s", res.Kind, res.Output())
}

func (o Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.clock.After(d):
		return nil
	}
}
