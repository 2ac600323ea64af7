package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rolesync/internal/constants"
	"rolesync/internal/domain"
	"rolesync/internal/eval"
)

// StatsSource is the slice of the statistics API the engine fetches
// through.
type StatsSource interface {
	GetMasteryTotals(ctx context.Context, region, accountID string) (map[int64]int64, error)
	GetRankedTiers(ctx context.Context, region, accountID string) (map[string]int, error)
}

// Actions is the privileged surface the engine drives. The worker's
// implementation proxies every call to the coordinator over IPC; the
// engine never touches the gateway connection itself.
type Actions interface {
	SearchMembership(ctx context.Context, snowflake string) ([]domain.Membership, error)
	GrantRole(ctx context.Context, guild, snowflake, roleID, reason string) bool
	RevokeRole(ctx context.Context, guild, snowflake, roleID, reason string) bool
	AnnouncePromotion(guild, snowflake, roleID string)
	Notify(snowflake, message string)
}

type UserStore interface {
	Get(ctx context.Context, snowflake string) (*domain.User, error)
	GetSnapshot(ctx context.Context, snowflake string) (domain.StatsSnapshot, error)
	SaveSnapshot(ctx context.Context, snowflake string, snap domain.StatsSnapshot, fetchedAt time.Time) error
}

type GuildStore interface {
	List(ctx context.Context) ([]domain.Guild, error)
}

type RoleStore interface {
	ListByGuild(ctx context.Context, guild string) ([]domain.RoleDefinition, error)
}

type PromotionStore interface {
	Insert(ctx context.Context, p *domain.Promotion) error
}

// Engine owns the fetch-and-update pass for a single user: pull fresh
// statistics for every linked account, persist the snapshot, then bring
// each guild's roles in line with it.
type Engine struct {
	stats      StatsSource
	users      UserStore
	guilds     GuildStore
	roles      RoleStore
	promotions PromotionStore
	actions    Actions
	logger     zerolog.Logger
}

func NewEngine(stats StatsSource, users UserStore, guilds GuildStore, roles RoleStore, promotions PromotionStore, actions Actions, logger zerolog.Logger) *Engine {
	return &Engine{
		stats:      stats,
		users:      users,
		guilds:     guilds,
		roles:      roles,
		promotions: promotions,
		actions:    actions,
		logger:     logger,
	}
}

// RefreshUser is the top-level fetch-and-update operation. If any
// account's statistics cannot be fetched the whole pass aborts before
// anything is written: partial statistics must never cause revocations.
func (e *Engine) RefreshUser(ctx context.Context, snowflake string) error {
	user, err := e.users.Get(ctx, snowflake)
	if err != nil {
		return fmt.Errorf("load user %s: %w", snowflake, err)
	}
	if !user.HasAccounts {
		e.logger.Debug().Str("snowflake", snowflake).Msg("no linked accounts, nothing to refresh")
		return nil
	}

	oldSnap, err := e.users.GetSnapshot(ctx, snowflake)
	if err != nil {
		return fmt.Errorf("load snapshot for %s: %w", snowflake, err)
	}

	newSnap, err := e.fetchSnapshot(ctx, user)
	if err != nil {
		e.logger.Warn().Err(err).Str("snowflake", snowflake).Msg("statistics fetch failed, aborting refresh")
		return err
	}

	if err := e.users.SaveSnapshot(ctx, snowflake, newSnap, time.Now()); err != nil {
		return fmt.Errorf("save snapshot for %s: %w", snowflake, err)
	}

	return e.reconcileGuilds(ctx, user, oldSnap, newSnap)
}

// fetchSnapshot aggregates statistics across every linked account:
// mastery scores sum per champion, tiers keep the best across accounts.
// Mastery and ranked calls per account run in parallel; any single
// failure fails the whole fetch.
func (e *Engine) fetchSnapshot(ctx context.Context, user *domain.User) (domain.StatsSnapshot, error) {
	apiCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	snap := domain.StatsSnapshot{
		Mastery: make(map[int64]int64),
		Tiers:   make(map[string]int),
	}

	for _, account := range user.Accounts {
		g, gCtx := errgroup.WithContext(apiCtx)

		var mastery map[int64]int64
		var tiers map[string]int

		g.Go(func() error {
			var err error
			mastery, err = e.stats.GetMasteryTotals(gCtx, account.Region, account.AccountID)
			return err
		})
		g.Go(func() error {
			var err error
			tiers, err = e.stats.GetRankedTiers(gCtx, account.Region, account.AccountID)
			return err
		})

		if err := g.Wait(); err != nil {
			return domain.StatsSnapshot{}, fmt.Errorf("fetch account %s/%s: %w", account.Region, account.AccountID, err)
		}

		for champion, score := range mastery {
			snap.Mastery[champion] += score
		}
		for queue, tier := range tiers {
			if tier > snap.Tiers[queue] {
				snap.Tiers[queue] = tier
			}
		}
	}

	return snap, nil
}

func (e *Engine) reconcileGuilds(ctx context.Context, user *domain.User, oldSnap, newSnap domain.StatsSnapshot) error {
	guilds, err := e.guilds.List(ctx)
	if err != nil {
		return fmt.Errorf("list guilds: %w", err)
	}

	memberships, err := e.actions.SearchMembership(ctx, user.Snowflake)
	if err != nil {
		return fmt.Errorf("search membership for %s: %w", user.Snowflake, err)
	}
	held := make(map[string][]string, len(memberships))
	for _, m := range memberships {
		held[m.Guild] = m.Roles
	}

	for _, guild := range guilds {
		roles, ok := held[guild.Snowflake]
		if !ok {
			continue
		}
		if err := e.reconcileGuild(ctx, user, guild, oldSnap, newSnap, roles); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) reconcileGuild(ctx context.Context, user *domain.User, guild domain.Guild, oldSnap, newSnap domain.StatsSnapshot, held []string) error {
	defs, err := e.roles.ListByGuild(ctx, guild.Snowflake)
	if err != nil {
		return fmt.Errorf("list roles for guild %s: %w", guild.Snowflake, err)
	}
	if len(defs) == 0 {
		return nil
	}

	compiled := make([]eval.CompiledRole, 0, len(defs))
	for _, def := range defs {
		role, err := eval.Compile(def, guild.Champion)
		if err != nil {
			// A malformed definition is a configuration bug operators
			// must see; it is never silently skipped.
			return fmt.Errorf("guild %s: %w", guild.Snowflake, err)
		}
		compiled = append(compiled, role)
	}

	result, err := Diff(compiled, oldSnap, newSnap, held)
	if err != nil {
		return fmt.Errorf("guild %s: %w", guild.Snowflake, err)
	}
	if result.Empty() {
		return nil
	}

	e.logger.Info().
		Str("snowflake", user.Snowflake).
		Str("guild", guild.Snowflake).
		Int("grants", len(result.ToGrant)).
		Int("revokes", len(result.ToRevoke)).
		Int("promotions", len(result.Promoted)).
		Msg("applying reconciliation")

	names := make(map[string]string, len(compiled))
	for _, role := range compiled {
		if _, ok := names[role.RoleID]; !ok {
			names[role.RoleID] = role.Name
		}
	}

	// Revoke before grant so an external role cap is never transiently
	// exceeded. Losing a role is the surprising direction, so the user
	// gets a direct message for each revocation that actually landed.
	for _, roleID := range result.ToRevoke {
		if !e.actions.RevokeRole(ctx, guild.Snowflake, user.Snowflake, roleID, "statistics no longer meet role conditions") {
			e.logger.Warn().Str("role_id", roleID).Str("guild", guild.Snowflake).Msg("revoke failed downstream")
			continue
		}
		e.actions.Notify(user.Snowflake,
			fmt.Sprintf("Your **%s** role was removed because your statistics no longer meet its requirements.", names[roleID]))
	}
	for _, roleID := range result.ToGrant {
		if !e.actions.GrantRole(ctx, guild.Snowflake, user.Snowflake, roleID, "statistics meet role conditions") {
			e.logger.Warn().Str("role_id", roleID).Str("guild", guild.Snowflake).Msg("grant failed downstream")
		}
	}

	for _, roleID := range result.Promoted {
		e.recordPromotion(ctx, user.Snowflake, guild, roleID, compiled, oldSnap, newSnap)
		if guild.AnnouncePromotions {
			e.actions.AnnouncePromotion(guild.Snowflake, user.Snowflake, roleID)
		}
	}

	return nil
}

func (e *Engine) recordPromotion(ctx context.Context, snowflake string, guild domain.Guild, roleID string, compiled []eval.CompiledRole, oldSnap, newSnap domain.StatsSnapshot) {
	var before, after int64
	for _, role := range compiled {
		if role.RoleID == roleID {
			before = role.GoverningValue(oldSnap)
			after = role.GoverningValue(newSnap)
			break
		}
	}

	promotion := &domain.Promotion{
		Snowflake:   snowflake,
		Guild:       guild.Snowflake,
		RoleID:      roleID,
		ScoreBefore: before,
		ScoreAfter:  after,
	}
	if err := e.promotions.Insert(ctx, promotion); err != nil {
		// Auditing only; the role change already happened.
		e.logger.Warn().Err(err).Str("role_id", roleID).Msg("failed to record promotion")
	}
}
