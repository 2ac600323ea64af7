package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolesync/internal/api"
	"rolesync/internal/domain"
	"rolesync/internal/ipc"
)

type fakeRefresher struct {
	err   error
	calls []string
}

func (f *fakeRefresher) RefreshUser(ctx context.Context, snowflake string) error {
	f.calls = append(f.calls, snowflake)
	return f.err
}

type fakeUserWriter struct {
	upserts  []string
	linked   []domain.LinkedAccount
	unlinked []string
	linkErr  error
}

func (f *fakeUserWriter) Upsert(ctx context.Context, snowflake string) error {
	f.upserts = append(f.upserts, snowflake)
	return nil
}

func (f *fakeUserWriter) LinkAccount(ctx context.Context, account domain.LinkedAccount) error {
	if f.linkErr != nil {
		return f.linkErr
	}
	f.linked = append(f.linked, account)
	return nil
}

func (f *fakeUserWriter) UnlinkAccount(ctx context.Context, snowflake, region, accountID string) error {
	f.unlinked = append(f.unlinked, snowflake+"/"+region+"/"+accountID)
	return nil
}

type fakeSummoner struct {
	summary   *api.AccountSummary
	err       error
	rateLimit api.RateLimitInfo
}

func (f *fakeSummoner) GetAccountSummary(ctx context.Context, region, accountID string) (*api.AccountSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

func (f *fakeSummoner) GetMasteryTotals(ctx context.Context, region, accountID string) (map[int64]int64, error) {
	return nil, nil
}

func (f *fakeSummoner) GetRankedTiers(ctx context.Context, region, accountID string) (map[string]int, error) {
	return nil, nil
}

func (f *fakeSummoner) GetRateLimitInfo() api.RateLimitInfo {
	return f.rateLimit
}

type fakeSched struct {
	ticks, overruns, inFlight int64
}

func (f *fakeSched) Stats() (int64, int64, int64) {
	return f.ticks, f.overruns, f.inFlight
}

func TestRefreshSwallowsEngineError(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("api down")}
	e := NewEndpoint(refresher, &fakeUserWriter{}, &fakeSummoner{}, &fakeSched{}, zerolog.Nop())

	res, err := e.Handle(context.Background(), string(ipc.ActionRefresh),
		mustMarshal(t, ipc.RefreshArgs{Snowflake: "u1"}))
	require.NoError(t, err)

	result, ok := res.(*ipc.RefreshResult)
	require.True(t, ok)
	assert.False(t, result.OK)
	assert.Equal(t, []string{"u1"}, refresher.calls)
}

func TestRefreshReportsSuccess(t *testing.T) {
	refresher := &fakeRefresher{}
	e := NewEndpoint(refresher, &fakeUserWriter{}, &fakeSummoner{}, &fakeSched{}, zerolog.Nop())

	res, err := e.Handle(context.Background(), string(ipc.ActionRefresh),
		mustMarshal(t, ipc.RefreshArgs{Snowflake: "u1"}))
	require.NoError(t, err)
	assert.True(t, res.(*ipc.RefreshResult).OK)
}

func TestLinkAccountStoresCanonicalID(t *testing.T) {
	users := &fakeUserWriter{}
	stats := &fakeSummoner{summary: &api.AccountSummary{AccountID: "canonical-123", Name: "Player"}}
	e := NewEndpoint(&fakeRefresher{}, users, stats, &fakeSched{}, zerolog.Nop())

	res, err := e.Handle(context.Background(), string(ipc.ActionLinkAccount),
		mustMarshal(t, ipc.LinkAccountArgs{Snowflake: "u1", Region: "euw1", AccountID: "typed-name"}))
	require.NoError(t, err)
	assert.True(t, res.(*ipc.LinkAccountResult).OK)

	assert.Equal(t, []string{"u1"}, users.upserts)
	require.Len(t, users.linked, 1)
	assert.Equal(t, "canonical-123", users.linked[0].AccountID)
	assert.Equal(t, "euw1", users.linked[0].Region)
	assert.Equal(t, "u1", users.linked[0].UserSnowflake)
}

func TestLinkAccountRejectsUnknownAccount(t *testing.T) {
	users := &fakeUserWriter{}
	stats := &fakeSummoner{err: api.ErrNotFound}
	e := NewEndpoint(&fakeRefresher{}, users, stats, &fakeSched{}, zerolog.Nop())

	_, err := e.Handle(context.Background(), string(ipc.ActionLinkAccount),
		mustMarshal(t, ipc.LinkAccountArgs{Snowflake: "u1", Region: "euw1", AccountID: "nope"}))
	require.Error(t, err)
	assert.Empty(t, users.upserts)
	assert.Empty(t, users.linked)
}

func TestUnlinkAccount(t *testing.T) {
	users := &fakeUserWriter{}
	e := NewEndpoint(&fakeRefresher{}, users, &fakeSummoner{}, &fakeSched{}, zerolog.Nop())

	res, err := e.Handle(context.Background(), string(ipc.ActionUnlinkAccount),
		mustMarshal(t, ipc.UnlinkAccountArgs{Snowflake: "u1", Region: "euw1", AccountID: "acc"}))
	require.NoError(t, err)
	assert.True(t, res.(*ipc.UnlinkAccountResult).OK)
	assert.Equal(t, []string{"u1/euw1/acc"}, users.unlinked)
}

func TestStatusReportsSchedulerAndRateLimit(t *testing.T) {
	stats := &fakeSummoner{rateLimit: api.RateLimitInfo{Limit: 100, Remaining: 42, Reset: 12}}
	sched := &fakeSched{ticks: 7, overruns: 1, inFlight: 3}
	e := NewEndpoint(&fakeRefresher{}, &fakeUserWriter{}, stats, sched, zerolog.Nop())

	res, err := e.Handle(context.Background(), string(ipc.ActionWorkerStatus), nil)
	require.NoError(t, err)

	status, ok := res.(*ipc.WorkerStatusResult)
	require.True(t, ok)
	assert.Equal(t, int64(7), status.Ticks)
	assert.Equal(t, int64(1), status.Overruns)
	assert.Equal(t, int64(3), status.InFlight)
	assert.Equal(t, ipc.RateLimitStatus{Limit: 100, Remaining: 42, Reset: 12}, status.RateLimit)
}

func TestUnknownActionErrors(t *testing.T) {
	e := NewEndpoint(&fakeRefresher{}, &fakeUserWriter{}, &fakeSummoner{}, &fakeSched{}, zerolog.Nop())

	_, err := e.Handle(context.Background(), "grant_role", json.RawMessage(`{}`))
	require.Error(t, err)
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
