package domain

import (
	"time"
)

// User is a member of the platform. Snowflake is the platform's stable
// identifier; Accounts are the game accounts linked to them.
type User struct {
	Snowflake    string
	Accounts     []LinkedAccount
	HasAccounts  bool
	MasteryFetch time.Time
	RankedFetch  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type LinkedAccount struct {
	UserSnowflake string
	Region        string
	AccountID     string
	CreatedAt     time.Time
}

// StatsSnapshot is a user's aggregated statistics across all linked
// accounts: mastery score per champion plus ranked tier per queue.
type StatsSnapshot struct {
	Mastery map[int64]int64
	Tiers   map[string]int
}

func (s StatsSnapshot) Total() int64 {
	var total int64
	for _, score := range s.Mastery {
		total += score
	}
	return total
}

// Clone returns a deep copy. Mutating the copy's maps leaves the
// receiver untouched.
func (s StatsSnapshot) Clone() StatsSnapshot {
	out := StatsSnapshot{
		Mastery: make(map[int64]int64, len(s.Mastery)),
		Tiers:   make(map[string]int, len(s.Tiers)),
	}
	for k, v := range s.Mastery {
		out.Mastery[k] = v
	}
	for k, v := range s.Tiers {
		out.Tiers[k] = v
	}
	return out
}

type Compare string

const (
	CompareAtLeast Compare = "at_least"
	CompareAtMost  Compare = "at_most"
	CompareBetween Compare = "between"
	CompareExactly Compare = "exactly"
)

type ConditionType string

const (
	ConditionMasteryScore ConditionType = "mastery_score"
	ConditionTotalScore   ConditionType = "total_score"
	ConditionRankedTier   ConditionType = "ranked_tier"
)

// Condition is a single numeric predicate attached to a role definition.
// Champion is only meaningful for mastery_score; Queue only for
// ranked_tier; Max only for between.
type Condition struct {
	ID       string
	Type     ConditionType
	Champion int64
	Queue    string
	Compare  Compare
	Value    int64
	Max      int64
}

type CombinatorType string

const (
	CombinatorAll     CombinatorType = "all"
	CombinatorAny     CombinatorType = "any"
	CombinatorAtLeast CombinatorType = "at_least"
)

type Combinator struct {
	Type   CombinatorType
	Amount int
}

// RoleDefinition maps a set of conditions onto one external role of one
// guild. Legacy definitions carry a textual Range instead of structured
// conditions; exactly one of the two forms is populated.
type RoleDefinition struct {
	ID          string
	Guild       string
	Name        string
	RoleID      string
	Conditions  []Condition
	Combinator  Combinator
	LegacyRange string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r RoleDefinition) IsLegacy() bool {
	return r.LegacyRange != ""
}

// Guild is a community the bot manages roles on. Champion is the guild's
// featured champion, the implicit subject of legacy range expressions.
type Guild struct {
	Snowflake          string
	Champion           int64
	AnnouncePromotions bool
	AnnounceChannel    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Membership is one guild's view of a user as observed from the gateway
// process: the roles they currently hold plus their nickname.
type Membership struct {
	Guild    string
	Roles    []string
	Nickname string
}

// ReconcileResult is the action plan for one user on one guild. Revokes
// are applied before grants.
type ReconcileResult struct {
	ToGrant  []string
	ToRevoke []string
	Promoted []string
}

func (r ReconcileResult) Empty() bool {
	return len(r.ToGrant) == 0 && len(r.ToRevoke) == 0 && len(r.Promoted) == 0
}

// Promotion is the persisted record of a user newly satisfying a role.
type Promotion struct {
	ID          string
	Snowflake   string
	Guild       string
	RoleID      string
	ScoreBefore int64
	ScoreAfter  int64
	CreatedAt   time.Time
}
