// Package parallel runs a batch of programs concurrently, one Runner per
// program, optionally watched by a liveness monitor.
package parallel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/autocoder/progexec/internal/log"
	"github.com/autocoder/progexec/internal/model"
	"github.com/autocoder/progexec/internal/monitor"
	"github.com/autocoder/progexec/internal/proc"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

type Executor struct {
	cfg     proc.Config
	monitor *monitor.Monitor
}

// NewExecutor returns an Executor creating Runners with cfg. A nil monitor
// disables liveness checks.
func NewExecutor(cfg proc.Config, mon *monitor.Monitor) *Executor {
	return &Executor{
		cfg:     cfg,
		monitor: mon,
	}
}

// Execute runs all requests and returns once every program reached a
// terminal status. It never fails: problems are reported per result.
func (e *Executor) Execute(ctx context.Context, reqs []model.ProgramRequest) map[string]model.ExecutionResult {
	return e.Start(ctx, reqs).Wait()
}

// Batch is a running set of programs.
type Batch struct {
	id          string
	started     time.Time
	runners     *xsync.MapOf[string, *proc.Runner]
	g           errgroup.Group
	done        chan struct{}
	monitorDone chan struct{}

	mx       sync.Mutex
	results  map[string]model.ExecutionResult
	finished time.Time
}

// Start launches one task per request and, when configured, a single
// monitor task. Names must be unique; a repeated name is skipped.
func (e *Executor) Start(ctx context.Context, reqs []model.ProgramRequest) *Batch {
	b := &Batch{
		id:          uuid.NewString(),
		started:     time.Now(),
		runners:     xsync.NewMapOf[string, *proc.Runner](),
		done:        make(chan struct{}),
		monitorDone: make(chan struct{}),
		results:     make(map[string]model.ExecutionResult, len(reqs)),
	}
	ctx = log.ContextAttrs(ctx, slog.String("batch", b.id))

	// register every program before the first task runs, so finished tasks
	// never race with pending entries
	type task struct {
		req    model.ProgramRequest
		runner *proc.Runner
	}
	tasks := make([]task, 0, len(reqs))
	programs := make([]monitor.Program, 0, len(reqs))
	for _, req := range reqs {
		r := proc.NewRunner(req.Name, e.cfg)
		if _, loaded := b.runners.LoadOrStore(req.Name, r); loaded {
			slog.WarnContext(ctx, "duplicate program name, skipping", "program", req.Name)
			continue
		}
		b.results[req.Name] = model.PendingResult(req.Name)
		tasks = append(tasks, task{req: req, runner: r})
		programs = append(programs, r)
	}

	for _, t := range tasks {
		b.g.Go(func() error {
			res := t.runner.Start(ctx, t.req)
			b.mx.Lock()
			b.results[t.req.Name] = res
			b.mx.Unlock()
			return nil
		})
	}
	slog.DebugContext(ctx, "batch started", "programs", len(programs))

	// the monitor ends with the batch, a slow check must not outlive it
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	if e.monitor != nil {
		go func() {
			defer close(b.monitorDone)
			e.monitor.Run(monitorCtx, programs)
		}()
	} else {
		close(b.monitorDone)
	}

	go func() {
		_ = b.g.Wait()
		cancelMonitor()
		b.mx.Lock()
		b.finished = time.Now()
		b.mx.Unlock()
		slog.DebugContext(ctx, "batch done", "elapsed", time.Since(b.started))
		close(b.done)
	}()

	return b
}

func (b *Batch) ID() string {
	return b.id
}

// Results returns a copy of the current results. Programs still running are
// reported as pending.
func (b *Batch) Results() map[string]model.ExecutionResult {
	b.mx.Lock()
	defer b.mx.Unlock()
	ret := make(map[string]model.ExecutionResult, len(b.results))
	for k, v := range b.results {
		ret[k] = v
	}
	return ret
}

// Stop aborts the named program. It returns false for an unknown name.
func (b *Batch) Stop(name string) bool {
	r, ok := b.runners.Load(name)
	if !ok {
		return false
	}
	r.Stop(proc.DrainLastLine)
	return true
}

// Done is closed once every program reached a terminal status.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until every program reached a terminal status and returns the
// results.
func (b *Batch) Wait() map[string]model.ExecutionResult {
	<-b.done
	return b.Results()
}

// MonitorDone is closed when the monitor task returned, or immediately when
// the batch runs without a monitor. Wait does not wait for it; the monitor
// is cancelled once every program reached a terminal status.
func (b *Batch) MonitorDone() <-chan struct{} {
	return b.monitorDone
}

// Report waits for the batch and returns its report.
func (b *Batch) Report() model.Report {
	results := b.Wait()
	b.mx.Lock()
	finished := b.finished
	b.mx.Unlock()
	return model.NewReport(b.id, b.started, finished, results)
}
