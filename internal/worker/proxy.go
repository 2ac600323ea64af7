package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"rolesync/internal/constants"
	"rolesync/internal/domain"
	"rolesync/internal/ipc"
)

// GatewayProxy satisfies the reconcile engine's Actions interface by
// forwarding every privileged operation to the coordinator over IPC.
// The worker process never holds gateway credentials.
type GatewayProxy struct {
	peer   *ipc.Peer
	logger zerolog.Logger
}

func NewGatewayProxy(peer *ipc.Peer, logger zerolog.Logger) *GatewayProxy {
	return &GatewayProxy{
		peer:   peer,
		logger: logger.With().Str("component", "gateway_proxy").Logger(),
	}
}

func (p *GatewayProxy) SearchMembership(ctx context.Context, snowflake string) ([]domain.Membership, error) {
	callCtx, cancel := context.WithTimeout(ctx, constants.GatewayCallTimeout)
	defer cancel()

	raw, err := p.peer.Call(callCtx, string(ipc.ActionSearchMembership), ipc.SearchMembershipArgs{Snowflake: snowflake})
	if err != nil {
		return nil, fmt.Errorf("search membership for %s: %w", snowflake, err)
	}

	var res ipc.SearchMembershipResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode membership result: %w", err)
	}

	memberships := make([]domain.Membership, 0, len(res.Memberships))
	for _, entry := range res.Memberships {
		memberships = append(memberships, domain.Membership{
			Guild:    entry.Guild,
			Roles:    entry.Roles,
			Nickname: entry.Nickname,
		})
	}
	return memberships, nil
}

func (p *GatewayProxy) GrantRole(ctx context.Context, guild, snowflake, roleID, reason string) bool {
	return p.changeRole(ctx, ipc.ActionGrantRole, guild, snowflake, roleID, reason)
}

func (p *GatewayProxy) RevokeRole(ctx context.Context, guild, snowflake, roleID, reason string) bool {
	return p.changeRole(ctx, ipc.ActionRevokeRole, guild, snowflake, roleID, reason)
}

func (p *GatewayProxy) changeRole(ctx context.Context, action ipc.Action, guild, snowflake, roleID, reason string) bool {
	callCtx, cancel := context.WithTimeout(ctx, constants.GatewayCallTimeout)
	defer cancel()

	raw, err := p.peer.Call(callCtx, string(action), ipc.RoleChangeArgs{
		Guild:     guild,
		Snowflake: snowflake,
		RoleID:    roleID,
		Reason:    reason,
	})
	if err != nil {
		p.logger.Warn().Err(err).
			Str("action", string(action)).
			Str("guild", guild).
			Str("snowflake", snowflake).
			Str("role_id", roleID).
			Msg("role change call failed")
		return false
	}

	var res ipc.RoleChangeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		p.logger.Warn().Err(err).Str("action", string(action)).Msg("decode role change result")
		return false
	}
	return res.OK
}

// AnnouncePromotion is fire-and-forget: the engine does not care if the
// announcement lands, only that the role change did.
func (p *GatewayProxy) AnnouncePromotion(guild, snowflake, roleID string) {
	err := p.peer.Notify(string(ipc.ActionAnnouncePromotion), ipc.AnnouncePromotionArgs{
		Guild:     guild,
		Snowflake: snowflake,
		RoleID:    roleID,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("guild", guild).Str("snowflake", snowflake).Msg("announce promotion failed")
	}
}

func (p *GatewayProxy) Notify(snowflake, message string) {
	err := p.peer.Notify(string(ipc.ActionNotify), ipc.NotifyArgs{
		Snowflake: snowflake,
		Message:   message,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("snowflake", snowflake).Msg("notify failed")
	}
}
