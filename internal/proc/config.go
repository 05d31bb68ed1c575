package proc

import "time"

// DrainMode selects how much of the remaining output is read once a
// program stops.
type DrainMode int

const (
	// DrainAll reads until both streams reach EOF, bounded by
	// Config.WaitDelay.
	DrainAll DrainMode = iota
	// DrainLastLine waits for at most one more stdout line, bounded by
	// Config.DrainTimeout.
	DrainLastLine
)

func (m DrainMode) String() string {
	switch m {
	case DrainAll:
		return "all"
	case DrainLastLine:
		return "last_line"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxOutput    = 1000
	DefaultPollInterval = 100 * time.Millisecond
	DefaultDrainTimeout = 5 * time.Second
	DefaultKillGrace    = 500 * time.Millisecond
	DefaultWaitDelay    = 10 * time.Second
)

// Config tunes a Runner. Zero fields are replaced by the defaults.
type Config struct {
	MaxOutput    int           // stdout cap in characters, see Truncate; bounds the stderr log as well
	PollInterval time.Duration // exit/timeout polling period
	DrainTimeout time.Duration // DrainLastLine bound
	KillGrace    time.Duration // SIGTERM -> SIGKILL escalation delay
	WaitDelay    time.Duration // DrainAll bound, and how long to wait for a killed child
	Shell        []string      // shell and flags preceding the command
	Terminator   Terminator
}

func DefaultConfig() Config {
	return Config{
		MaxOutput:    DefaultMaxOutput,
		PollInterval: DefaultPollInterval,
		DrainTimeout: DefaultDrainTimeout,
		KillGrace:    DefaultKillGrace,
		WaitDelay:    DefaultWaitDelay,
		Shell:        defaultShell(),
		Terminator:   NewTerminator(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxOutput <= 0 {
		c.MaxOutput = d.MaxOutput
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = d.KillGrace
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = d.WaitDelay
	}
	if len(c.Shell) == 0 {
		c.Shell = d.Shell
	}
	if c.Terminator == nil {
		c.Terminator = d.Terminator
	}
	return c
}
