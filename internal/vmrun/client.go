package vmrun

import (
	"context"
	"fmt"
	"strings"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/config"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/entity"
)

// StopMode selects between a graceful guest shutdown and a forced power-off.
type StopMode string

const (
	StopSoft StopMode = "soft"
	StopHard StopMode = "hard"
)

// Client exposes the vmrun operations the monitor needs. Stop and Start
// return the classified Result so the restart orchestrator can react to
// lock contention and power state; the error is reserved for spawn failures.
type Client struct {
	runner Runner
	guest  config.Guest
}

func NewClient(runner Runner, guest config.Guest) Client {
	return Client{
		runner: runner,
		guest:  guest,
	}
}

// List returns the powered-on VMs. The first output line is a count, the
// rest are .vmx paths.
func (c Client) List(ctx context.Context) ([]entity.VM, error) {
	res, err := c.runner.Run(ctx, "list")
	if err != nil {
		return nil, fmt.Errorf("failed to list vms: %w", err)
	}

	if res.Kind != KindOK {
		return nil, fmt.Errorf("failed to list vms (%s): %s", res.Kind, res.Output())
	}

	lines := strings.Split(res.Stdout, "\n")

	ret := make([]entity.VM, 0, len(lines))

	for i, line := range lines {
		if i == 0 { // count line
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasSuffix(line, ".vmx") {
			continue
		}

		ret = append(ret, entity.NewVM(line))
	}

	return ret, nil
}

// Ping is a cheap liveness probe of the hypervisor control channel.
func (c Client) Ping(ctx context.Context) bool {
	res, err := c.runner.Run(ctx, "list")

	return err == nil && res.Kind == KindOK
}

func (c Client) Stop(ctx context.Context, vm entity.VM, mode StopMode) (Result, error) {
	return c.runner.Run(ctx, "stop", vm.Path, string(mode), "nogui")
}

func (c Client) Start(ctx context.Context, vm entity.VM, nogui bool) (Result, error) {
	args := []string{"start", vm.Path}
	if nogui {
		args = append(args, "nogui")
	}

	return c.runner.Run(ctx, args...)
}

// RunProgramInGuest executes a program inside the guest with the configured
// guest credentials.
func (c Client) RunProgramInGuest(ctx context.Context, vm entity.VM, program string, args ...string) (Result, error) {
	cmdArgs := c.guestArgs("runProgramInGuest", vm.Path, program)
	cmdArgs = append(cmdArgs, args...)

	return c.runner.Run(ctx, cmdArgs...)
}

// CopyFileFromGuestToHost pulls a file out of the guest filesystem.
func (c Client) CopyFileFromGuestToHost(ctx context.Context, vm entity.VM, guestPath, hostPath string) (Result, error) {
	args := c.guestArgs("copyFileFromGuestToHost", vm.Path, guestPath, hostPath)

	return c.runner.Run(ctx, args...)
}

func (c Client) GuestIPAddress(ctx context.Context, vm entity.VM) (string, error) {
	res, err := c.runner.Run(ctx, "getGuestIPAddress", vm.Path)
	if err != nil {
		return "", fmt.Errorf("failed to get guest ip: %w", err)
	}

	if res.Kind != KindOK {
		return "", fmt.Errorf("failed to get guest ip (%s): %s", res.Kind, res.Output())
	}

	return strings.TrimSpace(res.Stdout), nil
}

func (c Client) IsRunning(ctx context.Context, vm entity.VM) (bool, error) {
	vms, err := c.List(ctx)
	if err != nil {
		return false, err
	}

	for _, candidate := range vms {
		if candidate.Path == vm.Path {
			return true, nil
		}
	}

	return false, nil
}

func (c Client) guestArgs(op string, parts ...string) []string {
	ret := []string{"-T", "ws", "-gu", c.guest.Username, "-gp", c.guest.Password, op}

	return append(ret, parts...)
}
