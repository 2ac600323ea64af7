package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"rolesync/internal/config"
)

// ErrNotFound reports that the statistics API has no record of the
// account.
var ErrNotFound = errors.New("api: account not found")

// StatsClient is the narrow surface the reconciler fetches through. All
// calls may fail independently; any failure aborts the whole user's
// reconciliation upstream.
type StatsClient interface {
	GetAccountSummary(ctx context.Context, region, accountID string) (*AccountSummary, error)
	GetMasteryTotals(ctx context.Context, region, accountID string) (map[int64]int64, error)
	GetRankedTiers(ctx context.Context, region, accountID string) (map[string]int, error)
	GetRateLimitInfo() RateLimitInfo
}

type RiotClient struct {
	apiKey      string
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
	client      *fasthttp.Client
}

type RateLimitInfo struct {
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`

	// seconds until reset
	Reset int `json:"reset"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewRiotClient(cfg *config.Config) *RiotClient {
	return &RiotClient{
		apiKey: cfg.RiotAPIKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		rateLimit: RateLimitInfo{
			Limit:     100,
			Remaining: 100,
			Reset:     120,
			UpdatedAt: time.Now(),
		},
	}
}

func (c *RiotClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *RiotClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-App-Rate-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-App-Rate-Limit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	if reset := string(resp.Header.Peek("Retry-After")); reset != "" {
		if val, err := strconv.Atoi(reset); err == nil {
			c.rateLimit.Reset = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

type AccountSummary struct {
	AccountID     string `json:"id"`
	Name          string `json:"name"`
	ProfileIconID int    `json:"profileIconId"`
	SummonerLevel int    `json:"summonerLevel"`
}

type masteryEntry struct {
	ChampionID     int64 `json:"championId"`
	ChampionPoints int64 `json:"championPoints"`
}

type leagueEntry struct {
	QueueType string `json:"queueType"`
	Tier      string `json:"tier"`
}

func (c *RiotClient) GetAccountSummary(ctx context.Context, region, accountID string) (*AccountSummary, error) {
	url := fmt.Sprintf("https://%s.api.riotgames.com/lol/summoner/v4/summoners/%s", region, accountID)
	return doRequest[AccountSummary](ctx, c, url)
}

func (c *RiotClient) GetMasteryTotals(ctx context.Context, region, accountID string) (map[int64]int64, error) {
	url := fmt.Sprintf("https://%s.api.riotgames.com/lol/champion-mastery/v4/champion-masteries/by-puuid/%s", region, accountID)
	entries, err := doRequest[[]masteryEntry](ctx, c, url)
	if err != nil {
		return nil, err
	}

	totals := make(map[int64]int64, len(*entries))
	for _, e := range *entries {
		totals[e.ChampionID] = e.ChampionPoints
	}
	return totals, nil
}

func (c *RiotClient) GetRankedTiers(ctx context.Context, region, accountID string) (map[string]int, error) {
	url := fmt.Sprintf("https://%s.api.riotgames.com/lol/league/v4/entries/by-puuid/%s", region, accountID)
	entries, err := doRequest[[]leagueEntry](ctx, c, url)
	if err != nil {
		return nil, err
	}

	tiers := make(map[string]int, len(*entries))
	for _, e := range *entries {
		tiers[e.QueueType] = tierRank(e.Tier)
	}
	return tiers, nil
}

// tierRank maps tier names onto a dense scale so conditions can compare
// them numerically.
func tierRank(tier string) int {
	switch tier {
	case "IRON":
		return 1
	case "BRONZE":
		return 2
	case "SILVER":
		return 3
	case "GOLD":
		return 4
	case "PLATINUM":
		return 5
	case "EMERALD":
		return 6
	case "DIAMOND":
		return 7
	case "MASTER":
		return 8
	case "GRANDMASTER":
		return 9
	case "CHALLENGER":
		return 10
	default:
		return 0
	}
}

func doRequest[T any](ctx context.Context, client *RiotClient, url string) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("X-Riot-Token", client.apiKey)

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := client.client.Do(req, resp); err != nil {
			return nil, err
		}
	}

	client.updateRateLimit(resp)

	if resp.StatusCode() == fasthttp.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("API error: %d", resp.StatusCode())
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}
