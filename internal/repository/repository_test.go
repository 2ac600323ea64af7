package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolesync/internal/config"
	"rolesync/internal/database"
	"rolesync/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "test.db")}
	db, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func linkTestAccount(t *testing.T, users *UserRepository, snowflake, accountID string) {
	t.Helper()
	require.NoError(t, users.LinkAccount(context.Background(), domain.LinkedAccount{
		UserSnowflake: snowflake,
		Region:        "euw1",
		AccountID:     accountID,
	}))
}

func TestListStaleOrdersByOldestFetchAndSkipsUnlinked(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db, zerolog.Nop())
	ctx := context.Background()

	// u1 fetched recently, u2 an hour ago, u3 has no accounts at all,
	// u4 is linked but has never been fetched.
	linkTestAccount(t, users, "u1", "acc-1")
	linkTestAccount(t, users, "u2", "acc-2")
	require.NoError(t, users.Upsert(ctx, "u3"))
	linkTestAccount(t, users, "u4", "acc-4")

	now := time.Now()
	require.NoError(t, users.SaveSnapshot(ctx, "u1", domain.StatsSnapshot{}, now))
	require.NoError(t, users.SaveSnapshot(ctx, "u2", domain.StatsSnapshot{}, now.Add(-time.Hour)))

	stale, err := users.ListStale(ctx, 10)
	require.NoError(t, err)

	var order []string
	for _, u := range stale {
		order = append(order, u.Snowflake)
	}
	assert.Equal(t, []string{"u4", "u2", "u1"}, order)

	for _, u := range stale {
		assert.True(t, u.HasAccounts)
		assert.NotEmpty(t, u.Accounts, "stale user %s must carry its accounts", u.Snowflake)
	}
}

func TestListStaleHonorsLimit(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db, zerolog.Nop())
	ctx := context.Background()

	linkTestAccount(t, users, "u1", "acc-1")
	linkTestAccount(t, users, "u2", "acc-2")
	require.NoError(t, users.SaveSnapshot(ctx, "u1", domain.StatsSnapshot{}, time.Now()))

	stale, err := users.ListStale(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "u2", stale[0].Snowflake)
}

func TestSaveSnapshotReplacesPriorRows(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db, zerolog.Nop())
	ctx := context.Background()

	linkTestAccount(t, users, "u1", "acc-1")

	first := domain.StatsSnapshot{
		Mastery: map[int64]int64{1: 100, 2: 200},
		Tiers:   map[string]int{"RANKED_SOLO_5x5": 3},
	}
	require.NoError(t, users.SaveSnapshot(ctx, "u1", first, time.Now().Add(-time.Minute)))

	got, err := users.GetSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.Mastery, got.Mastery)
	assert.Equal(t, first.Tiers, got.Tiers)

	// The second save must fully replace the first: champion 1 and the
	// solo queue row are gone, not merged.
	second := domain.StatsSnapshot{
		Mastery: map[int64]int64{2: 250},
		Tiers:   map[string]int{"RANKED_FLEX_SR": 5},
	}
	fetchedAt := time.Now()
	require.NoError(t, users.SaveSnapshot(ctx, "u1", second, fetchedAt))

	got, err = users.GetSnapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, second.Mastery, got.Mastery)
	assert.Equal(t, second.Tiers, got.Tiers)

	user, err := users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.WithinDuration(t, fetchedAt, user.MasteryFetch, time.Second)
	assert.WithinDuration(t, fetchedAt, user.RankedFetch, time.Second)
}

func TestGetSnapshotForUnknownUserIsEmpty(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db, zerolog.Nop())

	snap, err := users.GetSnapshot(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, snap.Mastery)
	assert.Empty(t, snap.Tiers)
}

func TestLinkAccountIsIdempotentAndUnlinkRemoves(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db, zerolog.Nop())
	ctx := context.Background()

	linkTestAccount(t, users, "u1", "acc-1")
	linkTestAccount(t, users, "u1", "acc-1")

	user, err := users.Get(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, user.Accounts, 1)
	assert.True(t, user.HasAccounts)

	require.NoError(t, users.UnlinkAccount(ctx, "u1", "euw1", "acc-1"))

	user, err = users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, user.Accounts)
	assert.False(t, user.HasAccounts)
}

func TestGetUnknownUserReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db, zerolog.Nop())

	_, err := users.Get(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRoleSaveLoadsConditionsInPositionOrder(t *testing.T) {
	db := newTestDB(t)
	guilds := NewGuildRepository(db, zerolog.Nop())
	roles := NewRoleRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, guilds.Upsert(ctx, &domain.Guild{Snowflake: "g1"}))

	def := &domain.RoleDefinition{
		Guild:      "g1",
		Name:       "Veteran",
		RoleID:     "r1",
		Combinator: domain.Combinator{Type: domain.CombinatorAtLeast, Amount: 2},
		Conditions: []domain.Condition{
			{Type: domain.ConditionMasteryScore, Champion: 7, Compare: domain.CompareAtLeast, Value: 1000},
			{Type: domain.ConditionTotalScore, Compare: domain.CompareBetween, Value: 500, Max: 5000},
			{Type: domain.ConditionRankedTier, Queue: "RANKED_SOLO_5x5", Compare: domain.CompareAtLeast, Value: 4},
		},
	}
	require.NoError(t, roles.Save(ctx, def))
	assert.NotEmpty(t, def.ID)

	defs, err := roles.ListByGuild(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	loaded := defs[0]
	assert.Equal(t, domain.CombinatorAtLeast, loaded.Combinator.Type)
	assert.Equal(t, 2, loaded.Combinator.Amount)

	// Condition order is load-bearing for at-least-K evaluation and must
	// survive the round trip exactly as written.
	require.Len(t, loaded.Conditions, 3)
	assert.Equal(t, domain.ConditionMasteryScore, loaded.Conditions[0].Type)
	assert.Equal(t, domain.ConditionTotalScore, loaded.Conditions[1].Type)
	assert.Equal(t, domain.ConditionRankedTier, loaded.Conditions[2].Type)
}

func TestRoleSaveReplacesConditions(t *testing.T) {
	db := newTestDB(t)
	guilds := NewGuildRepository(db, zerolog.Nop())
	roles := NewRoleRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, guilds.Upsert(ctx, &domain.Guild{Snowflake: "g1"}))

	def := &domain.RoleDefinition{
		Guild:  "g1",
		Name:   "Veteran",
		RoleID: "r1",
		Conditions: []domain.Condition{
			{Type: domain.ConditionTotalScore, Compare: domain.CompareAtLeast, Value: 100},
			{Type: domain.ConditionTotalScore, Compare: domain.CompareAtMost, Value: 900},
		},
	}
	require.NoError(t, roles.Save(ctx, def))

	def.Name = "Elder"
	def.Conditions = []domain.Condition{
		{Type: domain.ConditionRankedTier, Queue: "RANKED_SOLO_5x5", Compare: domain.CompareAtLeast, Value: 6},
	}
	require.NoError(t, roles.Save(ctx, def))

	defs, err := roles.ListByGuild(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Elder", defs[0].Name)
	require.Len(t, defs[0].Conditions, 1)
	assert.Equal(t, domain.ConditionRankedTier, defs[0].Conditions[0].Type)
}

func TestRoleDeleteRemovesDefinition(t *testing.T) {
	db := newTestDB(t)
	guilds := NewGuildRepository(db, zerolog.Nop())
	roles := NewRoleRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, guilds.Upsert(ctx, &domain.Guild{Snowflake: "g1"}))

	def := &domain.RoleDefinition{Guild: "g1", Name: "Top", RoleID: "r1", LegacyRange: "top 5"}
	require.NoError(t, roles.Save(ctx, def))
	require.NoError(t, roles.Delete(ctx, def.ID))

	defs, err := roles.ListByGuild(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestLegacyDefinitionRoundTrip(t *testing.T) {
	db := newTestDB(t)
	guilds := NewGuildRepository(db, zerolog.Nop())
	roles := NewRoleRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, guilds.Upsert(ctx, &domain.Guild{Snowflake: "g1"}))
	require.NoError(t, roles.Save(ctx, &domain.RoleDefinition{
		Guild:       "g1",
		Name:        "Legacy",
		RoleID:      "r1",
		LegacyRange: "total > 100,000",
	}))

	defs, err := roles.ListByGuild(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.True(t, defs[0].IsLegacy())
	assert.Equal(t, "total > 100,000", defs[0].LegacyRange)
	assert.Empty(t, defs[0].Conditions)
}

func TestGuildUpsertInsertsThenUpdates(t *testing.T) {
	db := newTestDB(t)
	guilds := NewGuildRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, guilds.Upsert(ctx, &domain.Guild{Snowflake: "g1", Champion: 42}))

	g, err := guilds.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), g.Champion)
	assert.False(t, g.AnnouncePromotions)

	require.NoError(t, guilds.Upsert(ctx, &domain.Guild{
		Snowflake:          "g1",
		Champion:           7,
		AnnouncePromotions: true,
		AnnounceChannel:    "c1",
	}))

	g, err = guilds.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), g.Champion)
	assert.True(t, g.AnnouncePromotions)
	assert.Equal(t, "c1", g.AnnounceChannel)

	all, err := guilds.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetUnknownGuildReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	guilds := NewGuildRepository(db, zerolog.Nop())

	_, err := guilds.Get(context.Background(), "nowhere")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPromotionInsertAssignsIDAndListsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	promotions := NewPromotionRepository(db, zerolog.Nop())
	ctx := context.Background()

	older := &domain.Promotion{
		Snowflake: "u1", Guild: "g1", RoleID: "r1",
		ScoreBefore: 100, ScoreAfter: 500,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	newer := &domain.Promotion{
		Snowflake: "u2", Guild: "g1", RoleID: "r2",
		ScoreBefore: 500, ScoreAfter: 900,
		CreatedAt: time.Now(),
	}
	require.NoError(t, promotions.Insert(ctx, older))
	require.NoError(t, promotions.Insert(ctx, newer))
	assert.NotEmpty(t, older.ID)
	assert.NotEmpty(t, newer.ID)
	assert.NotEqual(t, older.ID, newer.ID)

	recent, err := promotions.ListRecent(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "u2", recent[0].Snowflake)
	assert.Equal(t, "u1", recent[1].Snowflake)
	assert.Equal(t, int64(500), recent[1].ScoreAfter)

	limited, err := promotions.ListRecent(ctx, "g1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "u2", limited[0].Snowflake)
}
