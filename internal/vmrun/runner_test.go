package vmrun

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	type testCase struct {
		name        string
		result      Result
		expectation Kind
	}

	cases := []testCase{
		{
			name:        "Exit zero",
			result:      Result{ExitCode: 0, Stdout: "Total running VMs: 2"},
			expectation: KindOK,
		},
		{
			name:        "Not powered on",
			result:      Result{ExitCode: 255, Stdout: "Error: The virtual machine is not powered on"},
			expectation: KindNotPoweredOn,
		},
		{
			name:        "Locked",
			result:      Result{ExitCode: 255, Stdout: "Error: The file is already locked"},
			expectation: KindLocked,
		},
		{
			name:        "Busy on stderr",
			result:      Result{ExitCode: 255, Stderr: "Error: The VMware Tools are busy"},
			expectation: KindLocked,
		},
		{
			name:        "Timed out",
			result:      Result{ExitCode: 255, Stdout: "Error: Operation timed out"},
			expectation: KindTimedOut,
		},
		{
			name:        "Anything else",
			result:      Result{ExitCode: 255, Stdout: "Error: Cannot open the configuration file"},
			expectation: KindFailed,
		},
		{
			name:        "Mixed case",
			result:      Result{ExitCode: 255, Stdout: "Error: The file is already LOCKED"},
			expectation: KindLocked,
		},
	}

	for i := range cases {
		c := cases[i]

		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)

			assert.Equal(c.expectation, classify(c.result))
		})
	}
}

func TestResultOutput(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	assert.Equal("Error: locked", Result{Stdout: "Error: locked\n"}.Output())
	assert.Equal("stderr message", Result{Stderr: "stderr message\n"}.Output())
	assert.Equal("from stdout", Result{Stdout: "from stdout", Stderr: "from stderr"}.Output())
}

func requireShell(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
}

func TestRunCapturesStreams(t *testing.T) {
	t.Parallel()
	requireShell(t)
	assert := assert.New(t)

	runner := NewRunner("/bin/sh", 5*time.Second)

	res, err := runner.Run(context.Background(), "-c", "echo on stdout; echo on stderr 1>&2")
	assert.NoError(err)
	assert.Equal(KindOK, res.Kind)
	assert.Equal(0, res.ExitCode)
	assert.Equal("on stdout\n", res.Stdout)
	assert.Equal("on stderr\n", res.Stderr)
}

func TestRunTimesOut(t *testing.T) {
	t.Parallel()
	requireShell(t)
	assert := assert.New(t)

	runner := NewRunner("/bin/sh", 200*time.Millisecond)

	begin := time.Now()
	res, err := runner.Run(context.Background(), "-c", "sleep 5")
	assert.NoError(err)
	assert.Equal(KindTimedOut, res.Kind)
	assert.Less(time.Since(begin), 2*time.Second)
}

func TestRunSpawnFailure(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	runner := NewRunner(filepath.Join(t.TempDir(), "no-such-binary"), time.Second)

	_, err := runner.Run(context.Background(), "list")
	assert.ErrorIs(err, ErrSpawn)
}

func TestRunCancelledContext(t *testing.T) {
	t.Parallel()
	requireShell(t)
	assert := assert.New(t)

	runner := NewRunner("/bin/sh", 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, "-c", "sleep 5")
	assert.ErrorIs(err, context.Canceled)
	assert.NotErrorIs(err, ErrSpawn)
}
