package gateway

import (
	"context"
	"errors"

	"rolesync/internal/domain"
)

// ErrNotMember reports that a user does not belong to the queried guild.
var ErrNotMember = errors.New("gateway: user is not a member")

// Gateway is the privileged platform connection. Only the coordinator
// process holds an implementation; the worker reaches it over IPC.
type Gateway interface {
	GrantRole(ctx context.Context, guild, snowflake, roleID, reason string) error
	RevokeRole(ctx context.Context, guild, snowflake, roleID, reason string) error
	SendDirectMessage(ctx context.Context, snowflake, message string) error
	SendChannelMessage(ctx context.Context, channel, message string) error
	GetMember(ctx context.Context, guild, snowflake string) (*domain.Membership, error)
}
