package vmrun

import (
	"errors"
	"os"
	"os/exec"
)

// Well-known VMware Workstation/Player install locations, checked after PATH.
var installPaths = []string{
	`C:\Program Files (x86)\VMware\VMware Workstation\vmrun.exe`,
	`C:\Program Files\VMware\VMware Workstation\vmrun.exe`,
	`C:\Program Files (x86)\VMware\VMware Player\vmrun.exe`,
	`C:\Program Files\VMware\VMware Player\vmrun.exe`,
}

var ErrBinaryNotFound = errors.New("vmrun executable not found")

// FindBinary locates the vmrun executable. An explicit override wins,
// then PATH, then the usual install directories.
func FindBinary(override string) (string, error) {
	if override != "" {
		_, err := os.Stat(override)
		if err != nil {
			return "", errors.Join(ErrBinaryNotFound, err)
		}

		return override, nil
	}

	path, err := exec.LookPath("vmrun")
	if err == nil {
		return path, nil
	}

	for _, candidate := range installPaths {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
	}

	return "", ErrBinaryNotFound
}
