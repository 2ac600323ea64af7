package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"rolesync/internal/config"
	"rolesync/internal/constants"
	"rolesync/internal/coordinator"
	fxmodules "rolesync/internal/fx"
	"rolesync/internal/ipc"
	"rolesync/internal/middleware"
)

func main() {
	fx.New(
		fxmodules.CoordinatorModule,
		fx.Invoke(runCoordinator),
	).Run()
}

func runCoordinator(
	lc fx.Lifecycle,
	sup *coordinator.Supervisor,
	admin *coordinator.Admin,
	endpoint *coordinator.Endpoint,
	peer *ipc.Peer,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	peer.Handle(endpoint.Handle)

	mux := http.NewServeMux()
	admin.Routes(mux)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.AdminPort),
		Handler: middleware.RequestID(logger)(c.Handler(mux)),
	}

	supCtx, cancelSup := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go sup.Run(supCtx)
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("admin server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("admin server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down coordinator")
			cancelSup()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("admin server shutdown failed")
			}
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			logger.Info().Msg("coordinator stopped gracefully")
			return nil
		},
	})
}
