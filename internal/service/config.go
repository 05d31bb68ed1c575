package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/autocoder/progexec/internal/model"
	"github.com/autocoder/progexec/internal/monitor"
	"github.com/autocoder/progexec/internal/parallel"
	"github.com/autocoder/progexec/internal/proc"
)

// RunnerConfig maps the runner section onto proc.Config.
func RunnerConfig(cfg *model.Runner) (proc.Config, error) {
	ret := proc.DefaultConfig()
	if cfg == nil {
		return ret, nil
	}
	var err error
	if cfg.MaxOutput != nil {
		ret.MaxOutput = *cfg.MaxOutput
	}
	if ret.PollInterval, err = model.Duration(cfg.PollInterval, ret.PollInterval); err != nil {
		return proc.Config{}, fmt.Errorf("runner.poll_interval: %w", err)
	}
	if ret.DrainTimeout, err = model.Duration(cfg.DrainTimeout, ret.DrainTimeout); err != nil {
		return proc.Config{}, fmt.Errorf("runner.drain_timeout: %w", err)
	}
	if ret.KillGrace, err = model.Duration(cfg.KillGrace, ret.KillGrace); err != nil {
		return proc.Config{}, fmt.Errorf("runner.kill_grace: %w", err)
	}
	if ret.WaitDelay, err = model.Duration(cfg.WaitDelay, ret.WaitDelay); err != nil {
		return proc.Config{}, fmt.Errorf("runner.wait_delay: %w", err)
	}
	if len(cfg.Shell) > 0 {
		ret.Shell = append([]string(nil), cfg.Shell...)
	}
	return ret, nil
}

// NewMonitor returns nil when the monitor section is missing or disabled.
// The bearer token is read from the environment variable named by
// token_env.
func NewMonitor(ctx context.Context, cfg *model.Monitor) (*monitor.Monitor, error) {
	if cfg == nil || !model.Get(cfg.Enabled) {
		return nil, nil
	}
	mcfg := monitor.DefaultConfig()
	var err error
	if mcfg.CheckInterval, err = model.Duration(cfg.CheckInterval, mcfg.CheckInterval); err != nil {
		return nil, fmt.Errorf("monitor.check_interval: %w", err)
	}
	if mcfg.PollInterval, err = model.Duration(cfg.PollInterval, mcfg.PollInterval); err != nil {
		return nil, fmt.Errorf("monitor.poll_interval: %w", err)
	}

	var token string
	if env := model.Get(cfg.TokenEnv); env != "" {
		token = os.Getenv(env)
		if token == "" {
			slog.WarnContext(ctx, "monitor token variable is empty", "env", env)
		}
	}
	timeout, err := model.Duration(cfg.CheckTimeout, monitor.DefaultCheckTimeout)
	if err != nil {
		return nil, fmt.Errorf("monitor.check_timeout: %w", err)
	}
	check, err := monitor.NewHTTPCheck(model.Get(cfg.URL), token)
	if err != nil {
		return nil, fmt.Errorf("monitor.url: %w", err)
	}
	return monitor.New(mcfg, check.WithTimeout(timeout)), nil
}

// NewExecutor builds the Executor described by cfg.
func NewExecutor(ctx context.Context, cfg model.Config) (*parallel.Executor, error) {
	rcfg, err := RunnerConfig(cfg.Runner)
	if err != nil {
		return nil, err
	}
	mon, err := NewMonitor(ctx, cfg.Monitor)
	if err != nil {
		return nil, err
	}
	return parallel.NewExecutor(rcfg, mon), nil
}

// uploaders returns the configured sinks, or a stdout writer when none is
// configured.
func uploaders(ctx context.Context, cfg model.Service) ([]model.Uploader, error) {
	format := model.GetOr(cfg.Format, model.FormatJSON)
	var ret []model.Uploader
	closeAll := func() {
		closeUploaders(ctx, ret)
	}

	if dir := model.Get(cfg.Dir); dir != "" {
		u, err := NewOSRootUploader(dir, format, model.GetOr(cfg.Compress, model.CompressNone))
		if err != nil {
			return nil, err
		}
		ret = append(ret, u)
	}
	if cfg.Repository != nil && cfg.Repository.URL != "" {
		u, err := NewRepoUploader(cfg.Repository.URL)
		if err != nil {
			closeAll()
			return nil, err
		}
		ret = append(ret, u)
	}
	if cfg.NATS != nil && cfg.NATS.URL != "" {
		u, err := NewNATSUploader(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			closeAll()
			return nil, err
		}
		ret = append(ret, u)
	}
	if cfg.SQS != nil && cfg.SQS.QueueURL != "" {
		u, err := NewSQSUploader(ctx, cfg.SQS.QueueURL, model.Get(cfg.SQS.Region))
		if err != nil {
			closeAll()
			return nil, err
		}
		ret = append(ret, u)
	}

	if len(ret) == 0 {
		return []model.Uploader{NewWriteUploader(os.Stdout, format)}, nil
	}
	return ret, nil
}

func closeUploaders(ctx context.Context, uploaders []model.Uploader) {
	for _, uploader := range uploaders {
		if closer, ok := uploader.(model.UploadCloser); ok {
			err := closer.Close()
			if err != nil {
				slog.ErrorContext(ctx, "closing uploader have failed", "error", err)
			}
		}
	}
}
