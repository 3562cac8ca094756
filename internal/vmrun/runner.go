package vmrun

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vladimirvivien/gexe/exec"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/log"
)

// Kind is the classified outcome of one vmrun invocation. Classification
// happens here, once, so callers branch on a tag instead of re-parsing
// hypervisor error text.
type Kind int

const (
	KindOK Kind = iota
	KindNotPoweredOn
	KindLocked
	KindTimedOut
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotPoweredOn:
		return "not-powered-on"
	case KindLocked:
		return "locked"
	case KindTimedOut:
		return "timed-out"
	case KindFailed:
		return "failed"
	}

	return "unknown"
}

type Result struct {
	Kind     Kind
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output returns whichever stream carries the hypervisor's message. vmrun
// reports most errors on stdout.
func (r Result) Output() string {
	out := strings.TrimSpace(r.Stdout)
	if out != "" {
		return out
	}

	return strings.TrimSpace(r.Stderr)
}

// ErrSpawn covers failures to launch the binary at all, as opposed to the
// binary running and reporting an error.
var ErrSpawn = errors.New("failed to spawn command")

// Runner invokes the hypervisor CLI. The call blocks until the command
// completes or the configured timeout expires; on timeout the result is
// KindTimedOut and any partial output is untrusted.
type Runner interface {
	Run(ctx context.Context, args ...string) (Result, error)
}

type execRunner struct {
	binary  string
	timeout time.Duration
}

func NewRunner(binary string, timeout time.Duration) Runner {
	return execRunner{
		binary:  binary,
		timeout: timeout,
	}
}

func (r execRunner) Run(ctx context.Context, args ...string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stdout := bytes.NewBufferString("")
	stderr := bytes.NewBufferString("")

	proc := exec.NewProcWithContext(runCtx, r.binary)

	cmd := proc.Command()
	cmd.Args = append([]string{r.binary}, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Logger().V(3).Info("Running vmrun command", "args", args, "timeout", r.timeout)

	proc.Start().Wait()

	ret := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: proc.ExitCode(),
	}

	err := proc.Err()

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			ret.Kind = KindTimedOut

			return ret, nil
		}

		// Parent context cancelled, typically shutdown. Not a spawn failure.
		return ret, ctxErr
	}

	if err != nil && ret.ExitCode < 0 {
		return ret, errors.Join(ErrSpawn, err)
	}

	ret.Kind = classify(ret)

	return ret, nil
}

func classify(res Result) Kind {
	if res.ExitCode == 0 {
		return KindOK
	}

	output := strings.ToLower(res.Stdout + "\n" + res.Stderr)

	switch {
	case strings.Contains(output, "is not powered on"):
		return KindNotPoweredOn
	case strings.Contains(output, "locked"), strings.Contains(output, "busy"):
		return KindLocked
	case strings.Contains(output, "timed out"), strings.Contains(output, "timeout"):
		return KindTimedOut
	}

	return KindFailed
}
