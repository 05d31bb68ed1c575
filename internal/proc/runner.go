package proc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/autocoder/progexec/internal/model"
)

// Snapshot is the output captured so far.
type Snapshot struct {
	Stdout string
	Stderr string
}

// Runner owns the lifecycle of one external program.
type Runner struct {
	name   string
	cfg    Config
	stdout *Output
	stderr *Output
	stopCh chan struct{}
	done   chan struct{}

	mx        sync.Mutex
	cmd       *exec.Cmd
	pid       int
	started   bool
	running   bool
	finalRead bool
	stopMode  DrainMode
	result    model.ExecutionResult
}

// NewRunner returns a Runner in the running state: it counts as running
// from creation until its result is final or Stop is called.
func NewRunner(name string, cfg Config) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		name:    name,
		cfg:     cfg,
		stdout:  NewOutput(cfg.MaxOutput),
		stderr:  NewOutput(cfg.MaxOutput),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		running: true,
		result:  model.PendingResult(name),
	}
}

func (r *Runner) Name() string {
	return r.name
}

// Running is false once Stop was called or the result is final.
func (r *Runner) Running() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.running
}

// PID of the child, zero before it is spawned or when spawning failed.
func (r *Runner) PID() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.pid
}

// Snapshot returns the output captured so far, stdout truncated the same way
// as in the final result.
func (r *Runner) Snapshot() Snapshot {
	return Snapshot{
		Stdout: Truncate(r.stdout.String(), r.cfg.MaxOutput),
		Stderr: r.stderr.String(),
	}
}

// Result returns the current result and whether it is final.
func (r *Runner) Result() (model.ExecutionResult, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.result, r.result.Status.Terminal()
}

// Done is closed when the result is final.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Stop aborts the program and drains its output using mode. It may be
// called from any goroutine, any number of times; only the first call on a
// running Runner has an effect.
func (r *Runner) Stop(mode DrainMode) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if !r.running {
		return
	}
	r.running = false
	r.stopMode = mode
	close(r.stopCh)
}

// Start runs req to completion, timeout or abort and returns its terminal
// result. Failures, including a failure to spawn, are reported inside the
// result. Cancelling ctx aborts the program with DrainAll.
func (r *Runner) Start(ctx context.Context, req model.ProgramRequest) model.ExecutionResult {
	started := time.Now()
	result := model.PendingResult(req.Name)

	r.mx.Lock()
	if r.started {
		r.mx.Unlock()
		<-r.done
		res, _ := r.Result()
		return res
	}
	r.started = true
	if !r.running || ctx.Err() != nil {
		r.running = false
		r.mx.Unlock()
		result.Status = model.StatusAborted
		return r.finish(result, started)
	}
	cmd, p, err := r.spawn(req.Command)
	if err != nil {
		r.running = false
		r.mx.Unlock()
		slog.WarnContext(ctx, "program failed to start", "program", r.name, "error", err)
		result.Stderr = err.Error()
		result.Status = model.StatusAborted
		return r.finish(result, started)
	}
	r.cmd = cmd
	r.pid = cmd.Process.Pid
	result.PID = r.pid
	r.mx.Unlock()

	slog.DebugContext(ctx, "program started", "program", r.name, "pid", result.PID, "timeout", req.Timeout)

	var capture sync.WaitGroup
	capture.Go(func() { readLines(p.stdout, r.stdout) })
	capture.Go(func() { readLines(p.stderr, r.stderr) })
	captured := make(chan struct{})
	go func() {
		capture.Wait()
		close(captured)
	}()

	var waitErr error
	exited := make(chan struct{})
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	status, mode := r.poll(ctx, req, started, exited)
	if status == model.StatusTimeout {
		result.Timeout = true
	}
	if status != model.StatusFinished {
		r.terminate(ctx, result.PID, exited)
	}
	r.drain(mode, p, captured)

	select {
	case <-exited:
		result.ExitCode = cmd.ProcessState.ExitCode()
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			slog.DebugContext(ctx, "waiting for program", "program", r.name, "error", waitErr)
		}
	default:
		slog.WarnContext(ctx, "program did not exit, leaving it behind", "program", r.name, "pid", result.PID)
	}

	result.Status = status
	res := r.finish(result, started)
	slog.DebugContext(ctx, "program done",
		"program", r.name,
		"status", res.Status,
		"returncode", res.ExitCode,
		"elapsed", res.Elapsed,
		"drain", mode.String(),
	)
	return res
}

// poll checks for exit, timeout, Stop and ctx every PollInterval. When
// exit and timeout are both observable on the same tick, exit wins.
func (r *Runner) poll(ctx context.Context, req model.ProgramRequest, started time.Time, exited <-chan struct{}) (model.Status, DrainMode) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-exited:
			return model.StatusFinished, DrainAll
		default:
		}

		if req.Timeout > 0 && time.Since(started) > req.Timeout {
			r.mx.Lock()
			r.running = false
			r.mx.Unlock()
			slog.InfoContext(ctx, "program timed out", "program", r.name, "timeout", req.Timeout)
			return model.StatusTimeout, DrainLastLine
		}

		select {
		case <-ticker.C:
		case <-r.stopCh:
			r.mx.Lock()
			mode := r.stopMode
			r.mx.Unlock()
			return model.StatusAborted, mode
		case <-ctx.Done():
			r.mx.Lock()
			r.running = false
			r.mx.Unlock()
			return model.StatusAborted, DrainAll
		}
	}
}

// terminate signals the process tree, escalating to a forced kill after
// KillGrace. Errors are logged and dropped.
func (r *Runner) terminate(ctx context.Context, pid int, exited <-chan struct{}) {
	if err := r.cfg.Terminator.Terminate(pid, false); err != nil {
		slog.DebugContext(ctx, "terminating program", "program", r.name, "pid", pid, "error", err)
	}
	if waitFor(exited, r.cfg.KillGrace) {
		return
	}
	if err := r.cfg.Terminator.Terminate(pid, true); err != nil {
		slog.DebugContext(ctx, "killing program", "program", r.name, "pid", pid, "error", err)
	}
	waitFor(exited, r.cfg.WaitDelay)
}

// drain reads what is left of the output according to mode, then closes
// the pipes so the capture goroutines return even when an orphaned
// grandchild keeps the write end open.
func (r *Runner) drain(mode DrainMode, p *pipes, captured <-chan struct{}) {
	r.mx.Lock()
	if r.finalRead {
		r.mx.Unlock()
		return
	}
	r.finalRead = true
	r.mx.Unlock()

	switch mode {
	case DrainLastLine:
		r.awaitLine(captured)
	default:
		waitFor(captured, r.cfg.WaitDelay)
	}
	p.close()
	<-captured
}

// awaitLine returns once one more stdout line arrived, the streams ended or
// DrainTimeout passed.
func (r *Runner) awaitLine(captured <-chan struct{}) {
	mark := r.stdout.Len()
	timer := time.NewTimer(r.cfg.DrainTimeout)
	defer timer.Stop()
	for {
		changed := r.stdout.Changed()
		if r.stdout.Len() > mark {
			return
		}
		select {
		case <-captured:
			return
		case <-timer.C:
			return
		case <-changed:
		}
	}
}

// finish seals the outputs and publishes the terminal result.
func (r *Runner) finish(result model.ExecutionResult, started time.Time) model.ExecutionResult {
	r.stdout.Seal()
	r.stderr.Seal()

	result.Stdout = Truncate(r.stdout.String(), r.cfg.MaxOutput)
	if stderr := r.stderr.String(); stderr != "" {
		if result.Stderr != "" {
			result.Stderr += "\n"
		}
		result.Stderr += stderr
	}
	result.Elapsed = time.Since(started)

	r.mx.Lock()
	r.running = false
	r.cmd = nil
	r.result = result
	r.mx.Unlock()
	close(r.done)
	return result
}

type pipes struct {
	stdout *os.File
	stderr *os.File
}

func (p *pipes) close() {
	_ = p.stdout.Close()
	_ = p.stderr.Close()
}

// spawn starts the command with stdout and stderr connected to pipes whose
// read ends are owned by the Runner. Wait never touches them, so it can run
// concurrently with the capture goroutines.
func (r *Runner) spawn(command string) (*exec.Cmd, *pipes, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, nil, err
	}

	cmd := shellCommand(r.cfg.Shell, command)
	cmd.Stdout = outW
	cmd.Stderr = errW
	err = cmd.Start()
	// the child has its own copies of the write ends
	_ = outW.Close()
	_ = errW.Close()
	if err != nil {
		_ = outR.Close()
		_ = errR.Close()
		return nil, nil, err
	}
	return cmd, &pipes{stdout: outR, stderr: errR}, nil
}

// readLines appends trimmed lines until EOF or until the pipe is closed by
// drain. Read errors are expected there and ignored.
func readLines(r io.Reader, out *Output) {
	rd := bufio.NewReader(r)
	for {
		line, err := rd.ReadString('\n')
		if line != "" {
			out.Append(strings.TrimSpace(line))
		}
		if err != nil {
			return
		}
	}
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
