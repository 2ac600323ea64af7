package main

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	fxmodules "rolesync/internal/fx"
	"rolesync/internal/ipc"
	"rolesync/internal/scheduler"
	"rolesync/internal/worker"
)

func main() {
	fx.New(
		fxmodules.WorkerModule,
		fx.Invoke(runWorker),
	).Run()
}

func runWorker(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	peer *ipc.Peer,
	endpoint *worker.Endpoint,
	sched *scheduler.Scheduler,
	db *sql.DB,
	logger zerolog.Logger,
) {
	peer.Handle(endpoint.Handle)

	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// The coordinator owns this process's stdin. When the pipe
			// closes the coordinator is gone and the worker has no
			// reason to live.
			go func() {
				err := peer.Run(runCtx)
				if runCtx.Err() == nil {
					logger.Info().Err(err).Msg("ipc channel closed, shutting down")
					shutdowner.Shutdown()
				}
			}()
			go sched.Start(runCtx)
			logger.Info().Msg("worker started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down worker")
			cancel()
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			logger.Info().Msg("worker stopped gracefully")
			return nil
		},
	})
}
