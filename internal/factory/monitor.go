package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/common"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/config"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/repo"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/repo/history"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/log"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/monitor"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/probe"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/restart"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/vmrun"
)

// AcquireInstanceLock takes an exclusive lock file in the capture directory
// so two monitors never drive the same fleet at once. The directory is
// created as a side effect.
func AcquireInstanceLock(captureDir string) (common.CloseFunc, error) {
	err := os.MkdirAll(captureDir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture dir %s: %w", captureDir, err)
	}

	lock := flock.New(filepath.Join(captureDir, "monitor.lock"))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire instance lock: %w", err)
	}

	if !locked {
		return nil, fmt.Errorf("another monitor instance holds %s", lock.Path())
	}

	release := func(context.Context) error {
		return lock.Unlock()
	}

	return release, nil
}

// CreateHistory selects the restart-history backend: valkey when a URL is
// configured, otherwise in-process memory.
func CreateHistory(ctx context.Context, conf config.History) (repo.History, common.CloseFunc, error) {
	if conf.Valkey.URL == "" {
		noop := func(context.Context) error { return nil }

		return history.NewMemoryRepo(), noop, nil
	}

	client, closeClient, err := CreateValkeyClient(ctx, conf.Valkey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create valkey history: %w", err)
	}

	return history.NewValkeyRepo(client), closeClient, nil
}

// CreateMonitor wires the whole pipeline: vmrun discovery, command runner,
// client, probe chain, decision, orchestrator and poller.
func CreateMonitor(conf *config.Config, hist repo.History, registry prometheus.Registerer) (monitor.Poller, error) {
	binary, err := vmrun.FindBinary(conf.Vmrun.Path)
	if err != nil {
		return monitor.Poller{}, fmt.Errorf("failed to locate vmrun: %w", err)
	}

	log.Logger().Info("Using vmrun binary", "path", binary)

	runner := vmrun.NewRunner(binary, conf.Vmrun.Timeout)
	client := vmrun.NewClient(runner, conf.Guest)

	clock := clockwork.NewRealClock()

	prober := probe.NewChain(
		probe.NewGuestLogStrategy(client, conf.EventID, conf.CaptureDir),
		probe.Fallback{},
	)

	decision := restart.NewDecision(hist, clock, conf.Restart.TimeThreshold)
	orchestrator := restart.NewOrchestrator(client, clock, conf.Restart, conf.DryRun)

	metrics, err := monitor.NewMetrics(registry)
	if err != nil {
		return monitor.Poller{}, fmt.Errorf("failed to create metrics: %w", err)
	}

	poller := monitor.NewPoller(client, prober, decision, orchestrator, hist, clock, metrics, monitor.Config{
		CheckInterval:       conf.CheckInterval,
		EventCheckWindow:    conf.EventCheckWindow,
		MaxConcurrentChecks: conf.MaxConcurrentChecks,
	})

	return poller, nil
}
