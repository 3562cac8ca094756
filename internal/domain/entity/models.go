package entity

import (
	"strings"
	"time"
)

// VM identifies a virtual machine by the path of its .vmx file, as reported
// by `vmrun list`. The path is the identity; Name is derived from it for
// logging and restart-history keys. Paths come from a Windows host, so both
// separators are handled regardless of where the monitor runs.
type VM struct {
	Path string
	Name string
}

func NewVM(path string) VM {
	name := path
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}

	name = strings.TrimSuffix(name, ".vmx")

	return VM{
		Path: path,
		Name: name,
	}
}

// EventRecord is the outcome of one guest probe. Latest is the zero time when
// no occurrence was found. A new record fully replaces the previous one for
// the same VM.
type EventRecord struct {
	Found  bool
	Latest time.Time
}

// RestartOutcome summarizes a full orchestrated restart, all attempts included.
type RestartOutcome struct {
	VM       VM
	Attempts int
	Success  bool
}
