package fx

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"rolesync/internal/api"
	"rolesync/internal/config"
	"rolesync/internal/constants"
	"rolesync/internal/coordinator"
	"rolesync/internal/database"
	"rolesync/internal/domain"
	"rolesync/internal/gateway"
	"rolesync/internal/ipc"
	"rolesync/internal/logger"
	"rolesync/internal/reconcile"
	"rolesync/internal/repository"
	"rolesync/internal/scheduler"
	"rolesync/internal/worker"
)

// provideCore bootstraps config and the leveled process logger in one
// step: config is loaded with a default-level logger, then the logger
// is rebuilt at the configured level for everything downstream.
func provideCore() (*config.Config, zerolog.Logger, error) {
	base := logger.New()
	cfg, err := config.Load(base)
	if err != nil {
		return nil, base, err
	}
	return cfg, logger.SetLevel(logger.ParseLevel(cfg.LogLevel)), nil
}

var coreModule = fx.Options(
	fx.Provide(provideCore),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewUserRepository),
	fx.Provide(repository.NewGuildRepository),
	fx.Provide(repository.NewRoleRepository),
	fx.Provide(repository.NewPromotionRepository),
)

func provideGateway(cfg *config.Config) gateway.Gateway {
	return gateway.NewRESTGateway(cfg)
}

// The coordinator's peer starts unbound; the supervisor rebinds it to
// each worker generation's pipes.
func provideCoordinatorPeer(log zerolog.Logger) *ipc.Peer {
	return ipc.NewPeer(nil, log)
}

func provideAdmin(
	sup *coordinator.Supervisor,
	peer *ipc.Peer,
	promotions *repository.PromotionRepository,
	log zerolog.Logger,
) *coordinator.Admin {
	return coordinator.NewAdmin(sup, peer, promotions, log)
}

func provideCoordinatorEndpoint(
	gw gateway.Gateway,
	guilds *repository.GuildRepository,
	roles *repository.RoleRepository,
	log zerolog.Logger,
) *coordinator.Endpoint {
	return coordinator.NewEndpoint(gw, guilds, roles, log)
}

// CoordinatorModule wires the gateway-owning process: the privileged
// endpoint, the worker supervisor, and the admin HTTP surface.
var CoordinatorModule = fx.Options(
	coreModule,
	fx.Provide(provideGateway),
	fx.Provide(provideCoordinatorPeer),
	fx.Provide(provideCoordinatorEndpoint),
	fx.Provide(coordinator.NewSupervisor),
	fx.Provide(provideAdmin),
)

func provideStatsClient(cfg *config.Config) api.StatsClient {
	return api.NewRiotClient(cfg)
}

// The worker's peer speaks over its own stdin/stdout, which is why all
// logging goes to stderr.
func provideWorkerPeer(log zerolog.Logger) *ipc.Peer {
	return ipc.NewPeer(ipc.NewPipeTransport(os.Stdin, os.Stdout), log)
}

func provideEngine(
	stats api.StatsClient,
	users *repository.UserRepository,
	guilds *repository.GuildRepository,
	roles *repository.RoleRepository,
	promotions *repository.PromotionRepository,
	proxy *worker.GatewayProxy,
	log zerolog.Logger,
) *reconcile.Engine {
	return reconcile.NewEngine(stats, users, guilds, roles, promotions, proxy, log)
}

func provideScheduler(
	cfg *config.Config,
	users *repository.UserRepository,
	engine *reconcile.Engine,
	log zerolog.Logger,
) *scheduler.Scheduler {
	handler := func(ctx context.Context, user domain.User) error {
		return engine.RefreshUser(ctx, user.Snowflake)
	}
	return scheduler.New(users.ListStale, handler, cfg.UpdateInterval, cfg.UpdateBatchSize, constants.UpdateDutyCycle, log)
}

func provideWorkerEndpoint(
	engine *reconcile.Engine,
	users *repository.UserRepository,
	stats api.StatsClient,
	sched *scheduler.Scheduler,
	log zerolog.Logger,
) *worker.Endpoint {
	return worker.NewEndpoint(engine, users, stats, sched, log)
}

// WorkerModule wires the fetch-and-decide process: the stats client,
// the reconcile engine, the gateway proxy, and the update scheduler.
var WorkerModule = fx.Options(
	coreModule,
	fx.Provide(provideStatsClient),
	fx.Provide(provideWorkerPeer),
	fx.Provide(worker.NewGatewayProxy),
	fx.Provide(provideEngine),
	fx.Provide(provideWorkerEndpoint),
	fx.Provide(provideScheduler),
)
