package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/autocoder/progexec/internal/model"
	"github.com/autocoder/progexec/internal/parallel"
)

type Supervisor struct {
	executor  *parallel.Executor
	requests  []model.ProgramRequest
	uploaders []model.Uploader
	oneshot   bool
	scheduler gocron.Scheduler
	start     chan struct{}
	reports   chan model.Report
	wg        sync.WaitGroup

	mx    sync.Mutex
	batch *parallel.Batch
}

func NewSupervisor(ctx context.Context, cfg model.Config, requests []model.ProgramRequest) (*Supervisor, error) {
	if cfg.Version != 0 {
		return nil, fmt.Errorf("config version %d is not supported, expected 0", cfg.Version)
	}
	executor, err := NewExecutor(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing executor: %w", err)
	}

	svcCfg := cfg.Service
	var supervisor = &Supervisor{
		executor: executor,
		requests: requests,
		oneshot:  svcCfg.Mode != model.ServiceModeTimer,
		start:    make(chan struct{}, 1),
		reports:  make(chan model.Report, 1),
	}

	if svcCfg.Mode == model.ServiceModeTimer {
		supervisor.scheduler, err = newScheduler(ctx, svcCfg.Schedule, supervisor.Start)
		if err != nil {
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
	}

	supervisor.uploaders, err = uploaders(ctx, svcCfg)
	if err != nil {
		if supervisor.scheduler != nil {
			_ = supervisor.scheduler.Shutdown()
		}
		return nil, fmt.Errorf("initializing uploaders: %w", err)
	}

	return supervisor, nil
}

// WithUploaders replaces the uploaders of an initialized Supervisor.
func (s *Supervisor) WithUploaders(ctx context.Context, uploaders ...model.Uploader) *Supervisor {
	closeUploaders(ctx, s.uploaders)
	s.uploaders = uploaders
	return s
}

// Start asks the supervisor to run the batch. It returns immediately; the
// request is dropped when one is already queued.
func (s *Supervisor) Start() {
	select {
	case s.start <- struct{}{}:
	default:
		slog.Debug("batch start already requested")
	}
}

// Do runs the supervisor event loop.
//
// In manual mode the batch runs once on entry and Do returns the upload
// error of its report. In timer mode the scheduler triggers Start, errors
// are only logged and the loop runs until ctx is cancelled.
//
// Shutdown order: scheduler, running batch, uploaders.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor", "programs", len(s.requests), "oneshot", s.oneshot)

	defer func() {
		closeUploaders(ctx, s.uploaders)
	}()

	defer func() {
		s.wg.Wait()
	}()

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			err := s.scheduler.Shutdown()
			if err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	if s.oneshot {
		s.Start()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.start:
			s.callStart(ctx)
		case report := <-s.reports:
			counts := report.Counts()
			slog.InfoContext(ctx, "batch finished",
				"batch", report.ID,
				"finished", counts[model.StatusFinished],
				"timeout", counts[model.StatusTimeout],
				"aborted", counts[model.StatusAborted],
			)
			err := s.upload(ctx, report)
			if s.oneshot {
				return err
			}
			if err != nil {
				slog.ErrorContext(ctx, "upload failed", "error", err)
			}
		}
	}
}

// Batch returns the running batch or nil.
func (s *Supervisor) Batch() *parallel.Batch {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.batch
}

func (s *Supervisor) callStart(ctx context.Context) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.batch != nil {
		slog.WarnContext(ctx, "batch in progress: ignoring start", "batch", s.batch.ID())
		return
	}

	batch := s.executor.Start(ctx, s.requests)
	s.batch = batch
	slog.DebugContext(ctx, "batch started", "batch", batch.ID())

	s.wg.Go(func() {
		report := batch.Report()

		s.mx.Lock()
		s.batch = nil
		s.mx.Unlock()

		select {
		case s.reports <- report:
		case <-ctx.Done():
			slog.WarnContext(ctx, "dropping report of a cancelled batch", "batch", report.ID)
		}
	})
}

// upload sends the report to every uploader concurrently and joins their
// errors.
func (s *Supervisor) upload(ctx context.Context, report model.Report) error {
	errs := make([]error, len(s.uploaders))
	var wg sync.WaitGroup
	for i, u := range s.uploaders {
		wg.Go(func() {
			errs[i] = u.Upload(ctx, report)
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

func newScheduler(ctx context.Context, cfgp *model.TimerSchedule, startFunc func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, fmt.Errorf("service.schedule is nil")
	}
	cfg := *cfgp
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var job gocron.JobDefinition
	if cfg.Cron != "" {
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	} else {
		d, err := model.ParseISODuration(cfg.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.duration: %w", err)
		}
		slog.DebugContext(ctx, "successfully parsed", "duration", d.String())
		job = gocron.DurationJob(d)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(startFunc),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
