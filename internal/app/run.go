package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/builder"
	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/publisher"
	"github.com/vk/framegraph/internal/scheduler"
	"github.com/vk/framegraph/internal/server"
	"golang.org/x/sync/errgroup"
)

const flushTimeout = 5 * time.Second

// settings are the scheduler parameters after merging the command line with
// the pipeline's scheduler block.
type settings struct {
	workers   int
	failFast  bool
	poolLimit int64
}

func (a *App) settings() settings {
	s := settings{workers: a.cfg.Workers, failFast: a.cfg.FailFast, poolLimit: a.cfg.PoolLimit}
	block := a.model.Scheduler
	if block == nil {
		return s
	}
	if block.Workers != nil && !a.cfg.WorkersSet {
		s.workers = *block.Workers
	}
	if block.FailFast != nil && !a.cfg.FailFastSet {
		s.failFast = *block.FailFast
	}
	if block.PoolLimit != nil && a.cfg.PoolLimit == 0 {
		s.poolLimit = *block.PoolLimit
	}
	return s
}

// Run builds the pipeline and executes it until ctx is cancelled, the
// scheduler halts, or, with ExitOnIdle, the pipeline drains. It returns the
// error that halted the scheduler, if any.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	g, err := builder.Build(ctx, a.model, a.registry)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	s := a.settings()
	pool := buffer.NewPool(buffer.PoolConfig{Limit: s.poolLimit})
	profiler, flush, err := newProfiler(a.cfg.Profiling, a.outW)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := flush(flushCtx); err != nil {
			a.logger.Error("Failed to flush profiling spans.", "error", err)
		}
	}()

	sched := scheduler.New(g,
		scheduler.WithWorkers(s.workers),
		scheduler.WithFailFast(s.failFast),
		scheduler.WithPool(pool),
		scheduler.WithProfiler(profiler),
		scheduler.WithLogger(a.logger),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := sched.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	a.logger.Info("Pipeline running.", "path", a.cfg.PipelinePath, "workers", sched.Workers(), "failFast", s.failFast, "poolLimit", s.poolLimit)

	grp, gctx := errgroup.WithContext(runCtx)

	if a.cfg.HTTPPort > 0 {
		srv, err := server.New(sched, server.Config{Port: a.cfg.HTTPPort, Logger: a.logger})
		if err != nil {
			cancel()
			return errors.Join(fmt.Errorf("failed to create introspection server: %w", err), sched.Stop())
		}
		grp.Go(func() error { return srv.Run(gctx) })
	}

	if a.cfg.PublishURL != "" {
		pub, err := publisher.New(sched, publisher.Config{
			URL:      a.cfg.PublishURL,
			Interval: a.cfg.PublishInterval,
			Logger:   a.logger,
		})
		if err != nil {
			cancel()
			return errors.Join(fmt.Errorf("failed to create snapshot publisher: %w", err), sched.Stop())
		}
		grp.Go(func() error {
			if err := pub.Run(gctx); err != nil {
				a.logger.Error("Snapshot publisher stopped.", "error", err)
			}
			return nil
		})
	}

	grp.Go(func() error {
		defer cancel()
		return a.supervise(gctx, sched)
	})

	runErr := grp.Wait()
	stopErr := sched.Stop()
	a.logger.Info("Pipeline stopped.", "error", stopErr)
	a.logger.Debug("App.Run method finished.")
	if stopErr != nil {
		return fmt.Errorf("pipeline halted: %w", stopErr)
	}
	return runErr
}

// supervise returns when the run should end.
func (a *App) supervise(ctx context.Context, sched *scheduler.Scheduler) error {
	var idle chan error
	if a.cfg.ExitOnIdle {
		idle = make(chan error, 1)
		go func() { idle <- sched.WaitIdle(ctx) }()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown requested.")
	case <-sched.Done():
		a.logger.Warn("Scheduler halted.", "error", sched.Err())
	case err := <-idle:
		if err == nil {
			a.logger.Info("Pipeline is idle, exiting.")
		}
	}
	return nil
}
