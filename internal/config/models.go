package config

import "time"

type Config struct {
	CheckInterval       time.Duration
	EventCheckWindow    time.Duration
	EventID             int
	MaxConcurrentChecks int
	DryRun              bool
	CaptureDir          string
	Metrics             Metrics
	Logs                Logs
	Restart             Restart
	Vmrun               Vmrun
	Guest               Guest
	History             History
}

type Metrics struct {
	Port int
}

type Logs struct {
	Level   int
	Encoder EncoderType
	File    string
}

type EncoderType string

const (
	EncoderTypeJson    EncoderType = "json"
	EncoderTypeConsole EncoderType = "console"
)

type Restart struct {
	TimeThreshold     time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	Delay             time.Duration
	LockCleanupDelay  time.Duration
	ExtendedStartWait time.Duration
}

type Vmrun struct {
	// Path overrides binary discovery when set.
	Path    string
	Timeout time.Duration
}

type Guest struct {
	Username string
	Password string
}

func (g Guest) String() string {
	if g.Username != "" && g.Password != "" {
		return "guest creds set"
	}

	return "no guest creds"
}

// History selects the restart-history backend. An empty Valkey URL keeps
// history in process memory.
type History struct {
	Valkey Valkey
}

type Valkey struct {
	URL   string
	Creds ValkeyCreds
}

type ValkeyCreds struct {
	Password string
}

func (c ValkeyCreds) String() string {
	if c.Password != "" {
		return "password set"
	}

	return "no password"
}
