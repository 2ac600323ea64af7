package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"rolesync/internal/constants"
	"rolesync/internal/domain"
	"rolesync/internal/gateway"
	"rolesync/internal/ipc"
)

// GuildDirectory is the slice of guild storage the endpoint reads.
type GuildDirectory interface {
	List(ctx context.Context) ([]domain.Guild, error)
	Get(ctx context.Context, snowflake string) (*domain.Guild, error)
}

// RoleDirectory resolves role definitions for announcements.
type RoleDirectory interface {
	ListByGuild(ctx context.Context, guild string) ([]domain.RoleDefinition, error)
}

// Endpoint serves the worker's IPC requests. Everything here is a thin
// shim over the gateway connection: the coordinator never decides which
// roles a user deserves, it only executes what the worker asks for.
type Endpoint struct {
	gw     gateway.Gateway
	guilds GuildDirectory
	roles  RoleDirectory
	logger zerolog.Logger
}

func NewEndpoint(gw gateway.Gateway, guilds GuildDirectory, roles RoleDirectory, logger zerolog.Logger) *Endpoint {
	return &Endpoint{
		gw:     gw,
		guilds: guilds,
		roles:  roles,
		logger: logger.With().Str("component", "coordinator_endpoint").Logger(),
	}
}

func (e *Endpoint) Handle(ctx context.Context, action string, args json.RawMessage) (any, error) {
	switch ipc.Action(action) {
	case ipc.ActionSearchMembership:
		var a ipc.SearchMembershipArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decode search_membership args: %w", err)
		}
		return e.searchMembership(ctx, a)
	case ipc.ActionGrantRole:
		var a ipc.RoleChangeArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decode grant_role args: %w", err)
		}
		return e.changeRole(ctx, a, true), nil
	case ipc.ActionRevokeRole:
		var a ipc.RoleChangeArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decode revoke_role args: %w", err)
		}
		return e.changeRole(ctx, a, false), nil
	case ipc.ActionNotify:
		var a ipc.NotifyArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decode notify args: %w", err)
		}
		e.notify(ctx, a)
		return nil, nil
	case ipc.ActionAnnouncePromotion:
		var a ipc.AnnouncePromotionArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decode announce_promotion args: %w", err)
		}
		e.announcePromotion(ctx, a)
		return nil, nil
	default:
		return nil, fmt.Errorf("coordinator does not serve action %q", action)
	}
}

// searchMembership checks every registered guild for the user. A guild
// whose lookup fails is skipped rather than failing the whole search:
// the worker simply will not touch roles there this round.
func (e *Endpoint) searchMembership(ctx context.Context, a ipc.SearchMembershipArgs) (*ipc.SearchMembershipResult, error) {
	guilds, err := e.guilds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}

	result := &ipc.SearchMembershipResult{Memberships: []ipc.MembershipEntry{}}
	for _, g := range guilds {
		callCtx, cancel := context.WithTimeout(ctx, constants.GatewayCallTimeout)
		member, err := e.gw.GetMember(callCtx, g.Snowflake, a.Snowflake)
		cancel()
		if errors.Is(err, gateway.ErrNotMember) {
			continue
		}
		if err != nil {
			e.logger.Warn().Err(err).
				Str("guild", g.Snowflake).
				Str("snowflake", a.Snowflake).
				Msg("membership lookup failed, skipping guild")
			continue
		}
		result.Memberships = append(result.Memberships, ipc.MembershipEntry{
			Guild:    member.Guild,
			Roles:    member.Roles,
			Nickname: member.Nickname,
		})
	}
	return result, nil
}

func (e *Endpoint) changeRole(ctx context.Context, a ipc.RoleChangeArgs, grant bool) *ipc.RoleChangeResult {
	callCtx, cancel := context.WithTimeout(ctx, constants.GatewayCallTimeout)
	defer cancel()

	var err error
	if grant {
		err = e.gw.GrantRole(callCtx, a.Guild, a.Snowflake, a.RoleID, a.Reason)
	} else {
		err = e.gw.RevokeRole(callCtx, a.Guild, a.Snowflake, a.RoleID, a.Reason)
	}
	if err != nil {
		e.logger.Warn().Err(err).
			Bool("grant", grant).
			Str("guild", a.Guild).
			Str("snowflake", a.Snowflake).
			Str("role_id", a.RoleID).
			Msg("role change failed")
		return &ipc.RoleChangeResult{OK: false}
	}
	return &ipc.RoleChangeResult{OK: true}
}

func (e *Endpoint) notify(ctx context.Context, a ipc.NotifyArgs) {
	callCtx, cancel := context.WithTimeout(ctx, constants.GatewayCallTimeout)
	defer cancel()

	if err := e.gw.SendDirectMessage(callCtx, a.Snowflake, a.Message); err != nil {
		e.logger.Warn().Err(err).Str("snowflake", a.Snowflake).Msg("direct message failed")
	}
}

// announcePromotion posts to the guild's announcement channel, naming
// the role the user just earned. Guilds that have not opted in are
// silently skipped.
func (e *Endpoint) announcePromotion(ctx context.Context, a ipc.AnnouncePromotionArgs) {
	guild, err := e.guilds.Get(ctx, a.Guild)
	if err != nil {
		e.logger.Warn().Err(err).Str("guild", a.Guild).Msg("promotion announcement: guild lookup failed")
		return
	}
	if !guild.AnnouncePromotions || guild.AnnounceChannel == "" {
		return
	}

	roleName := a.RoleID
	defs, err := e.roles.ListByGuild(ctx, a.Guild)
	if err == nil {
		for _, def := range defs {
			if def.RoleID == a.RoleID {
				roleName = def.Name
				break
			}
		}
	}

	message := fmt.Sprintf("<@%s> has been promoted to **%s**!", a.Snowflake, roleName)

	callCtx, cancel := context.WithTimeout(ctx, constants.GatewayCallTimeout)
	defer cancel()
	if err := e.gw.SendChannelMessage(callCtx, guild.AnnounceChannel, message); err != nil {
		e.logger.Warn().Err(err).
			Str("guild", a.Guild).
			Str("channel", guild.AnnounceChannel).
			Msg("promotion announcement failed")
	}
}
