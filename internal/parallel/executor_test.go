//go:build unix

package parallel_test

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/autocoder/progexec/internal/model"
	"github.com/autocoder/progexec/internal/monitor"
	"github.com/autocoder/progexec/internal/parallel"
	"github.com/autocoder/progexec/internal/proc"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) proc.Config {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	cfg := proc.DefaultConfig()
	cfg.Shell = []string{sh, "-c"}
	cfg.PollInterval = 10 * time.Millisecond
	cfg.DrainTimeout = 500 * time.Millisecond
	cfg.KillGrace = 200 * time.Millisecond
	cfg.WaitDelay = 2 * time.Second
	return cfg
}

func TestExecute(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	reqs := []model.ProgramRequest{
		{Name: "echo", Command: "echo hi", Timeout: 5 * time.Second},
		{Name: "fail", Command: "exit 2", Timeout: 5 * time.Second},
		{Name: "sleep", Command: "sleep 10", Timeout: 1 * time.Second},
		{Name: "stderr", Command: "echo oops 1>&2", Timeout: 5 * time.Second},
	}

	start := time.Now()
	results := parallel.NewExecutor(cfg, nil).Execute(t.Context(), reqs)
	require.Less(t, time.Since(start), 4*time.Second)

	require.Len(t, results, len(reqs))
	for name, res := range results {
		require.Equal(t, name, res.Name)
		require.True(t, res.Status.Terminal(), name)
	}

	require.Equal(t, model.StatusFinished, results["echo"].Status)
	require.Equal(t, 0, results["echo"].ExitCode)
	require.Equal(t, "hi", results["echo"].Stdout)

	require.Equal(t, model.StatusFinished, results["fail"].Status)
	require.Equal(t, 2, results["fail"].ExitCode)

	require.Equal(t, model.StatusTimeout, results["sleep"].Status)
	require.True(t, results["sleep"].Timeout)

	require.Equal(t, "oops", results["stderr"].Stderr)
}

func TestExecute_Many(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	const n = 25
	reqs := make([]model.ProgramRequest, n)
	for i := range reqs {
		reqs[i] = model.ProgramRequest{
			Name:    fmt.Sprintf("p%02d", i),
			Command: fmt.Sprintf("echo %d", i),
			Timeout: 10 * time.Second,
		}
	}

	results := parallel.NewExecutor(cfg, nil).Execute(t.Context(), reqs)
	require.Len(t, results, n)
	for i, req := range reqs {
		res := results[req.Name]
		require.Equal(t, model.StatusFinished, res.Status)
		require.Equal(t, fmt.Sprint(i), res.Stdout)
	}
}

func TestExecute_Empty(t *testing.T) {
	t.Parallel()
	results := parallel.NewExecutor(proc.DefaultConfig(), nil).Execute(t.Context(), nil)
	require.Empty(t, results)
}

func TestBatch_Monitor(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	check := monitor.CheckFunc(func(context.Context, map[string]monitor.Snapshot) ([]string, error) {
		return []string{"stuck"}, nil
	})
	mon := monitor.New(monitor.Config{
		CheckInterval: 1 * time.Second,
		PollInterval:  10 * time.Millisecond,
	}, check)

	reqs := []model.ProgramRequest{
		{Name: "stuck", Command: "echo waiting; sleep 30", Timeout: 30 * time.Second},
		{Name: "sibling", Command: "sleep 2; echo done", Timeout: 30 * time.Second},
	}

	start := time.Now()
	batch := parallel.NewExecutor(cfg, mon).Start(t.Context(), reqs)
	results := batch.Wait()
	<-batch.MonitorDone()
	require.Less(t, time.Since(start), 10*time.Second)

	stuck := results["stuck"]
	require.Equal(t, model.StatusAborted, stuck.Status)
	require.False(t, stuck.Timeout)
	require.Equal(t, "waiting", stuck.Stdout)
	require.Less(t, stuck.Elapsed, 3*time.Second)

	sibling := results["sibling"]
	require.Equal(t, model.StatusFinished, sibling.Status)
	require.Equal(t, 0, sibling.ExitCode)
	require.Equal(t, "done", sibling.Stdout)
}

func TestBatch_ResultsWhileRunning(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	reqs := []model.ProgramRequest{
		{Name: "quick", Command: "echo quick", Timeout: 5 * time.Second},
		{Name: "slow", Command: "sleep 1; echo slow", Timeout: 5 * time.Second},
	}
	batch := parallel.NewExecutor(cfg, nil).Start(t.Context(), reqs)
	require.NotEmpty(t, batch.ID())

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			for {
				select {
				case <-batch.Done():
					return
				default:
				}
				results := batch.Results()
				require.Len(t, results, 2)
				time.Sleep(5 * time.Millisecond)
			}
		})
	}

	require.Eventually(t, func() bool {
		return batch.Results()["quick"].Status == model.StatusFinished
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, model.StatusPending, batch.Results()["slow"].Status)

	wg.Wait()
	report := batch.Report()
	require.Equal(t, batch.ID(), report.ID)
	require.Len(t, report.Results, 2)
	require.Equal(t, "quick", report.Results[0].Name)
	require.Equal(t, "slow", report.Results[1].Name)
	require.False(t, report.Finished.Before(report.Started))
}

func TestBatch_Stop(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	reqs := []model.ProgramRequest{
		{Name: "long", Command: "sleep 30", Timeout: 30 * time.Second},
		{Name: "short", Command: "echo short", Timeout: 5 * time.Second},
	}
	batch := parallel.NewExecutor(cfg, nil).Start(t.Context(), reqs)
	require.False(t, batch.Stop("unknown"))
	require.True(t, batch.Stop("long"))

	results := batch.Wait()
	require.Equal(t, model.StatusAborted, results["long"].Status)
	require.Equal(t, model.StatusFinished, results["short"].Status)
}

func TestBatch_ContextCancel(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(t.Context())
	reqs := []model.ProgramRequest{
		{Name: "a", Command: "sleep 30", Timeout: 30 * time.Second},
		{Name: "b", Command: "sleep 30", Timeout: 30 * time.Second},
	}
	batch := parallel.NewExecutor(cfg, nil).Start(ctx, reqs)
	time.AfterFunc(100*time.Millisecond, cancel)

	results := batch.Wait()
	for _, res := range results {
		require.Equal(t, model.StatusAborted, res.Status)
	}
}

func TestBatch_DuplicateName(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	reqs := []model.ProgramRequest{
		{Name: "same", Command: "echo first", Timeout: 5 * time.Second},
		{Name: "same", Command: "echo second", Timeout: 5 * time.Second},
	}
	results := parallel.NewExecutor(cfg, nil).Execute(t.Context(), reqs)
	require.Len(t, results, 1)
	require.Equal(t, "first", results["same"].Stdout)
}

func TestExecute_FinishWhileStarting(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	// programs of a cancelled batch finish before they spawn, so results are
	// stored while later tasks are still being launched
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	const n = 2000
	reqs := make([]model.ProgramRequest, n)
	for i := range reqs {
		reqs[i] = model.ProgramRequest{
			Name:    fmt.Sprintf("p%04d", i),
			Command: "echo never",
			Timeout: time.Second,
		}
	}

	results := parallel.NewExecutor(cfg, nil).Execute(ctx, reqs)
	require.Len(t, results, n)
	for _, req := range reqs {
		require.Equal(t, model.StatusAborted, results[req.Name].Status, req.Name)
	}
}

func TestBatch_MonitorEndsWithBatch(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	check := monitor.CheckFunc(func(ctx context.Context, _ map[string]monitor.Snapshot) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	mon := monitor.New(monitor.Config{
		CheckInterval: 50 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}, check)

	reqs := []model.ProgramRequest{
		{Name: "short", Command: "sleep 0.3; echo done", Timeout: 5 * time.Second},
	}

	batch := parallel.NewExecutor(cfg, mon).Start(t.Context(), reqs)
	results := batch.Wait()
	require.Equal(t, model.StatusFinished, results["short"].Status)

	select {
	case <-batch.MonitorDone():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor still blocked in a check after the batch finished")
	}
}
