package restart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/config"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/entity"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/vmrun"
)

type fakeHypervisor struct {
	mu sync.Mutex

	stopQueue  []vmrun.Result
	startQueue []vmrun.Result

	// defaults once the queues are drained
	defaultStop  vmrun.Result
	defaultStart vmrun.Result

	stops  []vmrun.StopMode
	starts []bool
	pings  int
}

func (f *fakeHypervisor) Stop(_ context.Context, _ entity.VM, mode vmrun.StopMode) (vmrun.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops = append(f.stops, mode)

	if len(f.stopQueue) > 0 {
		ret := f.stopQueue[0]
		f.stopQueue = f.stopQueue[1:]

		return ret, nil
	}

	return f.defaultStop, nil
}

func (f *fakeHypervisor) Start(_ context.Context, _ entity.VM, nogui bool) (vmrun.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.starts = append(f.starts, nogui)

	if len(f.startQueue) > 0 {
		ret := f.startQueue[0]
		f.startQueue = f.startQueue[1:]

		return ret, nil
	}

	return f.defaultStart, nil
}

func (f *fakeHypervisor) Ping(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pings++

	return true
}

func testConf(maxRetries int) config.Restart {
	return config.Restart{
		MaxRetries:        maxRetries,
		RetryDelay:        time.Millisecond,
		Delay:             0,
		LockCleanupDelay:  0,
		ExtendedStartWait: 0,
	}
}

func ok() vmrun.Result {
	return vmrun.Result{Kind: vmrun.KindOK}
}

func failed(msg string) vmrun.Result {
	return vmrun.Result{Kind: vmrun.KindFailed, Stdout: msg, ExitCode: 255}
}

func locked() vmrun.Result {
	return vmrun.Result{Kind: vmrun.KindLocked, Stdout: "Error: The file is already locked", ExitCode: 255}
}

func notPoweredOn() vmrun.Result {
	return vmrun.Result{Kind: vmrun.KindNotPoweredOn, Stdout: "Error: The virtual machine is not powered on", ExitCode: 255}
}

func TestRestartFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	hv := &fakeHypervisor{}

	o := NewOrchestrator(hv, clockwork.NewRealClock(), testConf(3), false)

	outcome, err := o.Restart(context.Background(), entity.NewVM("a.vmx"))

	assert.NoError(err)
	assert.True(outcome.Success)
	assert.Equal(1, outcome.Attempts)
	assert.Equal([]vmrun.StopMode{vmrun.StopSoft}, hv.stops)
	assert.Equal([]bool{true}, hv.starts)
}

func TestRestartAttemptCounting(t *testing.T) {
	type testCase struct {
		name            string
		failuresBefore  int
		maxRetries      int
		expectedTries   int
		expectedSuccess bool
	}

	cases := []testCase{
		{
			name:            "Success on second attempt",
			failuresBefore:  1,
			maxRetries:      3,
			expectedTries:   2,
			expectedSuccess: true,
		},
		{
			name:            "Success on last attempt",
			failuresBefore:  2,
			maxRetries:      3,
			expectedTries:   3,
			expectedSuccess: true,
		},
		{
			name:            "All attempts fail",
			failuresBefore:  3,
			maxRetries:      3,
			expectedTries:   3,
			expectedSuccess: false,
		},
	}

	for i := range cases {
		c := cases[i]

		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)

			hv := &fakeHypervisor{}
			for j := 0; j < c.failuresBefore; j++ {
				hv.startQueue = append(hv.startQueue, failed("Error: Unknown error"))
			}

			o := NewOrchestrator(hv, clockwork.NewRealClock(), testConf(c.maxRetries), false)

			outcome, err := o.Restart(context.Background(), entity.NewVM("a.vmx"))

			assert.Equal(c.expectedSuccess, err == nil)
			assert.Equal(c.expectedSuccess, outcome.Success)
			assert.Equal(c.expectedTries, outcome.Attempts)
		})
	}
}

func TestRestartNotPoweredOnIsStopSuccess(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	hv := &fakeHypervisor{
		stopQueue: []vmrun.Result{notPoweredOn()},
	}

	o := NewOrchestrator(hv, clockwork.NewRealClock(), testConf(3), false)

	outcome, err := o.Restart(context.Background(), entity.NewVM("a.vmx"))

	assert.NoError(err)
	assert.True(outcome.Success)
	// no hard-stop escalation
	assert.Equal([]vmrun.StopMode{vmrun.StopSoft}, hv.stops)
}

func TestRestartLockedStopEscalatesToHard(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	hv := &fakeHypervisor{
		stopQueue: []vmrun.Result{locked(), ok()},
	}

	o := NewOrchestrator(hv, clockwork.NewRealClock(), testConf(3), false)

	outcome, err := o.Restart(context.Background(), entity.NewVM("a.vmx"))

	assert.NoError(err)
	assert.True(outcome.Success)
	assert.Equal([]vmrun.StopMode{vmrun.StopSoft, vmrun.StopHard}, hv.stops)
}

func TestRestartHardStopFailureFailsAttempt(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	hv := &fakeHypervisor{
		defaultStop: locked(),
	}

	o := NewOrchestrator(hv, clockwork.NewRealClock(), testConf(2), false)

	outcome, err := o.Restart(context.Background(), entity.NewVM("a.vmx"))

	assert.Error(err)
	assert.False(outcome.Success)
	assert.Equal(2, outcome.Attempts)
	assert.Empty(hv.starts)
}

func TestRestartLockedStartRetriesOnceWithStandardStart(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	hv := &fakeHypervisor{
		startQueue:   []vmrun.Result{locked()},
		defaultStart: locked(),
	}

	o := NewOrchestrator(hv, clockwork.NewRealClock(), testConf(1), false)

	outcome, err := o.Restart(context.Background(), entity.NewVM("a.vmx"))

	assert.Error(err)
	assert.False(outcome.Success)
	// fast-boot start, then exactly one standard start after the extended wait
	assert.Equal([]bool{true, false}, hv.starts)
}

func TestRestartLockedStartRecoversAfterExtendedWait(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	hv := &fakeHypervisor{
		startQueue: []vmrun.Result{locked(), ok()},
	}

	o := NewOrchestrator(hv, clockwork.NewRealClock(), testConf(1), false)

	outcome, err := o.Restart(context.Background(), entity.NewVM("a.vmx"))

	assert.NoError(err)
	assert.True(outcome.Success)
	assert.Equal(1, outcome.Attempts)
	assert.Equal([]bool{true, false}, hv.starts)
}

func TestRestartStartTimeoutFailsAttempt(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	hv := &fakeHypervisor{
		defaultStart: vmrun.Result{Kind: vmrun.KindTimedOut, Stderr: "Operation timed out"},
	}

	o := NewOrchestrator(hv, clockwork.NewRealClock(), testConf(2), false)

	outcome, err := o.Restart(context.Background(), entity.NewVM("a.vmx"))

	assert.Error(err)
	assert.False(outcome.Success)
	assert.Equal(2, outcome.Attempts)
	// a timed-out start is never followed by a standard-start retry
	assert.Equal([]bool{true, true}, hv.starts)
}

func TestRestartDryRunIssuesNoCommands(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	hv := &fakeHypervisor{}

	o := NewOrchestrator(hv, clockwork.NewRealClock(), testConf(3), true)

	outcome, err := o.Restart(context.Background(), entity.NewVM("a.vmx"))

	assert.NoError(err)
	assert.True(outcome.Success)
	assert.Empty(hv.stops)
	assert.Empty(hv.starts)
}
