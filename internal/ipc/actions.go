package ipc

// Action tags form two closed sets: those the coordinator serves and
// those the worker serves. Handlers switch exhaustively over them, so a
// new action is a compile-visible addition on both sides.
type Action string

// Served by the coordinator (owner of the gateway connection).
const (
	ActionSearchMembership  Action = "search_membership"
	ActionGrantRole         Action = "grant_role"
	ActionRevokeRole        Action = "revoke_role"
	ActionNotify            Action = "notify"
	ActionAnnouncePromotion Action = "announce_promotion"
)

// Served by the worker (owner of the fetch/decide logic and the only
// writer of user rows).
const (
	ActionRefresh       Action = "refresh"
	ActionLinkAccount   Action = "link_account"
	ActionUnlinkAccount Action = "unlink_account"
	ActionWorkerStatus  Action = "status"
)

type SearchMembershipArgs struct {
	Snowflake string `json:"snowflake"`
}

type MembershipEntry struct {
	Guild    string   `json:"guild"`
	Roles    []string `json:"roles"`
	Nickname string   `json:"nickname"`
}

type SearchMembershipResult struct {
	Memberships []MembershipEntry `json:"memberships"`
}

type RoleChangeArgs struct {
	Guild     string `json:"guild"`
	Snowflake string `json:"snowflake"`
	RoleID    string `json:"roleId"`
	Reason    string `json:"reason"`
}

type RoleChangeResult struct {
	OK bool `json:"ok"`
}

type NotifyArgs struct {
	Snowflake string `json:"snowflake"`
	Message   string `json:"message"`
}

type AnnouncePromotionArgs struct {
	Guild     string `json:"guild"`
	Snowflake string `json:"snowflake"`
	RoleID    string `json:"roleId"`
}

type RefreshArgs struct {
	Snowflake string `json:"snowflake"`
}

type RefreshResult struct {
	OK bool `json:"ok"`
}

type LinkAccountArgs struct {
	Snowflake string `json:"snowflake"`
	Region    string `json:"region"`
	AccountID string `json:"accountId"`
}

type LinkAccountResult struct {
	OK bool `json:"ok"`
}

type UnlinkAccountArgs struct {
	Snowflake string `json:"snowflake"`
	Region    string `json:"region"`
	AccountID string `json:"accountId"`
}

type UnlinkAccountResult struct {
	OK bool `json:"ok"`
}

type RateLimitStatus struct {
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
	Reset     int `json:"reset"`
}

type WorkerStatusResult struct {
	Ticks     int64           `json:"ticks"`
	Overruns  int64           `json:"overruns"`
	InFlight  int64           `json:"inFlight"`
	RateLimit RateLimitStatus `json:"rateLimit"`
}
