package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"rolesync/internal/api"
	"rolesync/internal/domain"
	"rolesync/internal/ipc"
)

// Refresher runs a full fetch-and-update pass for one user.
type Refresher interface {
	RefreshUser(ctx context.Context, snowflake string) error
}

// UserWriter is the slice of user storage the endpoint mutates. The
// worker is the only process holding an implementation.
type UserWriter interface {
	Upsert(ctx context.Context, snowflake string) error
	LinkAccount(ctx context.Context, account domain.LinkedAccount) error
	UnlinkAccount(ctx context.Context, snowflake, region, accountID string) error
}

// SchedulerStats reports the update scheduler's tick counters.
type SchedulerStats interface {
	Stats() (ticks, overruns, inFlight int64)
}

// Endpoint serves the coordinator's IPC requests. The worker is the
// only writer of user rows, so account links and unlinks land here even
// though the operator triggers them on the coordinator.
type Endpoint struct {
	engine Refresher
	users  UserWriter
	stats  api.StatsClient
	sched  SchedulerStats
	logger zerolog.Logger
}

func NewEndpoint(engine Refresher, users UserWriter, stats api.StatsClient, sched SchedulerStats, logger zerolog.Logger) *Endpoint {
	return &Endpoint{
		engine: engine,
		users:  users,
		stats:  stats,
		sched:  sched,
		logger: logger.With().Str("component", "worker_endpoint").Logger(),
	}
}

func (e *Endpoint) Handle(ctx context.Context, action string, args json.RawMessage) (any, error) {
	switch ipc.Action(action) {
	case ipc.ActionRefresh:
		var a ipc.RefreshArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decode refresh args: %w", err)
		}
		return e.refresh(ctx, a), nil
	case ipc.ActionLinkAccount:
		var a ipc.LinkAccountArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decode link_account args: %w", err)
		}
		return e.linkAccount(ctx, a)
	case ipc.ActionUnlinkAccount:
		var a ipc.UnlinkAccountArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decode unlink_account args: %w", err)
		}
		return e.unlinkAccount(ctx, a)
	case ipc.ActionWorkerStatus:
		return e.status(), nil
	default:
		return nil, fmt.Errorf("worker does not serve action %q", action)
	}
}

// status snapshots the scheduler counters and the statistics API's last
// observed rate-limit headers for the coordinator's admin surface.
func (e *Endpoint) status() *ipc.WorkerStatusResult {
	ticks, overruns, inFlight := e.sched.Stats()
	limit := e.stats.GetRateLimitInfo()
	return &ipc.WorkerStatusResult{
		Ticks:    ticks,
		Overruns: overruns,
		InFlight: inFlight,
		RateLimit: ipc.RateLimitStatus{
			Limit:     limit.Limit,
			Remaining: limit.Remaining,
			Reset:     limit.Reset,
		},
	}
}

// refresh never propagates the engine's error over the wire: a failed
// pass is the worker's own problem to log, the coordinator only needs
// the verdict.
func (e *Endpoint) refresh(ctx context.Context, a ipc.RefreshArgs) *ipc.RefreshResult {
	if err := e.engine.RefreshUser(ctx, a.Snowflake); err != nil {
		e.logger.Warn().Err(err).Str("snowflake", a.Snowflake).Msg("refresh failed")
		return &ipc.RefreshResult{OK: false}
	}
	return &ipc.RefreshResult{OK: true}
}

// linkAccount validates the account against the statistics API before
// persisting it, storing the canonical account id the API reports.
func (e *Endpoint) linkAccount(ctx context.Context, a ipc.LinkAccountArgs) (*ipc.LinkAccountResult, error) {
	summary, err := e.stats.GetAccountSummary(ctx, a.Region, a.AccountID)
	if err != nil {
		return nil, fmt.Errorf("verify account %s/%s: %w", a.Region, a.AccountID, err)
	}

	if err := e.users.Upsert(ctx, a.Snowflake); err != nil {
		return nil, err
	}
	if err := e.users.LinkAccount(ctx, domain.LinkedAccount{
		UserSnowflake: a.Snowflake,
		Region:        a.Region,
		AccountID:     summary.AccountID,
	}); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("snowflake", a.Snowflake).
		Str("region", a.Region).
		Str("account_id", summary.AccountID).
		Msg("account linked")
	return &ipc.LinkAccountResult{OK: true}, nil
}

func (e *Endpoint) unlinkAccount(ctx context.Context, a ipc.UnlinkAccountArgs) (*ipc.UnlinkAccountResult, error) {
	if err := e.users.UnlinkAccount(ctx, a.Snowflake, a.Region, a.AccountID); err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("snowflake", a.Snowflake).
		Str("region", a.Region).
		Str("account_id", a.AccountID).
		Msg("account unlinked")
	return &ipc.UnlinkAccountResult{OK: true}, nil
}
