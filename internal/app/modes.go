package app

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolkeeper/internal/archive"
	"github.com/alanyoungcy/poolkeeper/internal/engine"
)

// RunMode starts the continuous cycle runner plus the optional websocket
// price feed and archive loop, and blocks until the context is cancelled.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	g, ctx := errgroup.WithContext(ctx)

	runner := a.newRunner(deps)
	g.Go(func() error {
		return runner.Run(ctx)
	})

	if deps.Feed != nil {
		g.Go(func() error {
			defer deps.Feed.Close()
			return deps.Feed.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		loop := archive.NewLoop(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			if cron := a.cfg.Archive.Cron; cron != "" {
				return loop.RunCron(ctx, cron)
			}
			return loop.RunEvery(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	return g.Wait()
}

// OnceMode executes exactly one scan/decide/execute cycle and exits. Used
// for cron-driven deployments and operational smoke checks.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")
	return a.newRunner(deps).RunOnce(ctx)
}

func (a *App) newRunner(deps *Dependencies) *engine.Runner {
	return engine.NewRunner(
		deps.Pools,
		a.cfg.CycleInterval.Duration,
		a.cfg.DryRun,
		deps.LockManager,
		deps.ActionStore,
		deps.Notifier,
		a.logger,
	)
}
