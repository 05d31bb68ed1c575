// Package monitor periodically hands the live output of running programs to
// a decision function and stops the programs it names.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/autocoder/progexec/internal/proc"
	mapset "github.com/deckarep/golang-set/v2"
)

const (
	DefaultCheckInterval = 10 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
)

type Config struct {
	// CheckInterval is the minimal time between two calls of the Checker.
	CheckInterval time.Duration
	// PollInterval is the cadence of the running state checks.
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		CheckInterval: DefaultCheckInterval,
		PollInterval:  DefaultPollInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Program is the view of a running program the monitor needs. *proc.Runner
// implements it.
type Program interface {
	Name() string
	Running() bool
	Snapshot() proc.Snapshot
	Stop(mode proc.DrainMode)
}

// Snapshot is the state of one running program passed to a Checker.
type Snapshot struct {
	Name    string
	Stdout  string
	Stderr  string
	Runtime time.Duration
}

// Checker decides which programs must be aborted. Returned names that are
// unknown or not running any more are ignored.
type Checker interface {
	Check(ctx context.Context, programs map[string]Snapshot) ([]string, error)
}

type CheckFunc func(ctx context.Context, programs map[string]Snapshot) ([]string, error)

func (f CheckFunc) Check(ctx context.Context, programs map[string]Snapshot) ([]string, error) {
	return f(ctx, programs)
}

type Monitor struct {
	cfg     Config
	checker Checker
}

func New(cfg Config, checker Checker) *Monitor {
	return &Monitor{
		cfg:     cfg.withDefaults(),
		checker: checker,
	}
}

// Run loops until no program is running or ctx is done. The Checker is
// called at most once per CheckInterval and never concurrently with itself.
func (m *Monitor) Run(ctx context.Context, programs []Program) {
	started := time.Now()
	lastCheck := started
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	checks := 0
	for {
		running := runningPrograms(programs)
		if len(running) == 0 {
			slog.DebugContext(ctx, "monitor done", "checks", checks)
			return
		}

		if time.Since(lastCheck) >= m.cfg.CheckInterval {
			lastCheck = time.Now()
			checks++
			m.check(ctx, running, lastCheck.Sub(started))
		}

		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "monitor cancelled", "checks", checks)
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) check(ctx context.Context, running []Program, runtime time.Duration) {
	snapshots := make(map[string]Snapshot, len(running))
	for _, p := range running {
		s := p.Snapshot()
		snapshots[p.Name()] = Snapshot{
			Name:    p.Name(),
			Stdout:  s.Stdout,
			Stderr:  s.Stderr,
			Runtime: runtime,
		}
	}

	names, err := m.checker.Check(ctx, snapshots)
	if err != nil {
		slog.WarnContext(ctx, "liveness check failed", "programs", len(snapshots), "error", err)
		return
	}
	if len(names) == 0 {
		return
	}

	abort := mapset.NewThreadUnsafeSet(names...)
	for _, p := range running {
		if !abort.Contains(p.Name()) || !p.Running() {
			continue
		}
		slog.InfoContext(ctx, "aborting program", "program", p.Name(), "runtime", runtime)
		p.Stop(proc.DrainLastLine)
	}
}

func runningPrograms(programs []Program) []Program {
	var running []Program
	for _, p := range programs {
		if p.Running() {
			running = append(running, p)
		}
	}
	return running
}
