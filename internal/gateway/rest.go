package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"rolesync/internal/config"
	"rolesync/internal/domain"
)

const restBase = "https://discord.com/api/v10"

// RESTGateway talks to the platform's HTTP API with a bot token. It only
// covers the handful of privileged calls the coordinator serves over IPC.
type RESTGateway struct {
	token  string
	client *fasthttp.Client
}

func NewRESTGateway(cfg *config.Config) *RESTGateway {
	return &RESTGateway{
		token: cfg.DiscordToken,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

func (g *RESTGateway) GrantRole(ctx context.Context, guild, snowflake, roleID, reason string) error {
	u := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", restBase, guild, snowflake, roleID)
	return g.do(ctx, fasthttp.MethodPut, u, reason, nil, nil)
}

func (g *RESTGateway) RevokeRole(ctx context.Context, guild, snowflake, roleID, reason string) error {
	u := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", restBase, guild, snowflake, roleID)
	return g.do(ctx, fasthttp.MethodDelete, u, reason, nil, nil)
}

func (g *RESTGateway) SendDirectMessage(ctx context.Context, snowflake, message string) error {
	var channel struct {
		ID string `json:"id"`
	}
	body := map[string]string{"recipient_id": snowflake}
	if err := g.do(ctx, fasthttp.MethodPost, restBase+"/users/@me/channels", "", body, &channel); err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	return g.SendChannelMessage(ctx, channel.ID, message)
}

func (g *RESTGateway) SendChannelMessage(ctx context.Context, channel, message string) error {
	u := fmt.Sprintf("%s/channels/%s/messages", restBase, url.PathEscape(channel))
	return g.do(ctx, fasthttp.MethodPost, u, "", map[string]string{"content": message}, nil)
}

func (g *RESTGateway) GetMember(ctx context.Context, guild, snowflake string) (*domain.Membership, error) {
	var member struct {
		Nick  string   `json:"nick"`
		Roles []string `json:"roles"`
		User  struct {
			Username string `json:"username"`
		} `json:"user"`
	}

	u := fmt.Sprintf("%s/guilds/%s/members/%s", restBase, guild, snowflake)
	if err := g.do(ctx, fasthttp.MethodGet, u, "", nil, &member); err != nil {
		return nil, err
	}

	nickname := member.Nick
	if nickname == "" {
		nickname = member.User.Username
	}

	return &domain.Membership{Guild: guild, Roles: member.Roles, Nickname: nickname}, nil
}

func (g *RESTGateway) do(ctx context.Context, method, url, reason string, body, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bot "+g.token)
	if reason != "" {
		req.Header.Set("X-Audit-Log-Reason", reason)
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	deadline, ok := ctx.Deadline()
	if ok {
		if err := g.client.DoDeadline(req, resp, deadline); err != nil {
			return err
		}
	} else {
		if err := g.client.Do(req, resp); err != nil {
			return err
		}
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusCreated, fasthttp.StatusNoContent:
	case fasthttp.StatusNotFound:
		return ErrNotMember
	default:
		return fmt.Errorf("gateway API error: %d", resp.StatusCode())
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
