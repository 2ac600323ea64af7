package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeers(t *testing.T) (*Peer, *Peer, context.CancelFunc) {
	t.Helper()

	a, b := NewChannelPair()
	left := NewPeer(a, zerolog.Nop())
	right := NewPeer(b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go left.Run(ctx)
	go right.Run(ctx)

	t.Cleanup(func() {
		cancel()
		a.Close()
	})
	return left, right, cancel
}

func TestCallRoundTrip(t *testing.T) {
	left, right, _ := testPeers(t)

	right.Handle(func(ctx context.Context, action string, args json.RawMessage) (any, error) {
		var name string
		require.NoError(t, json.Unmarshal(args, &name))
		return "hello " + name, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := left.Call(ctx, "greet", "world")
	require.NoError(t, err)

	var got string
	require.NoError(t, json.Unmarshal(result, &got))
	assert.Equal(t, "hello world", got)
}

func TestConcurrentCallsResolveOutOfOrder(t *testing.T) {
	left, right, _ := testPeers(t)

	// The first request blocks until the second has answered, forcing
	// responses onto the wire in reverse id order.
	firstBlocked := make(chan struct{})
	right.Handle(func(ctx context.Context, action string, args json.RawMessage) (any, error) {
		var n int
		require.NoError(t, json.Unmarshal(args, &n))
		if n == 1 {
			<-firstBlocked
		}
		return n * 10, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make(chan int, 2)
	errs := make(chan error, 2)

	go func() {
		raw, err := left.Call(ctx, "mul", 1)
		if err != nil {
			errs <- err
			return
		}
		var v int
		errs <- json.Unmarshal(raw, &v)
		results <- v
	}()

	raw, err := left.Call(ctx, "mul", 2)
	require.NoError(t, err)
	var second int
	require.NoError(t, json.Unmarshal(raw, &second))
	assert.Equal(t, 20, second)

	close(firstBlocked)
	require.NoError(t, <-errs)
	assert.Equal(t, 10, <-results)
}

func TestUnknownResponseIDIsDiscarded(t *testing.T) {
	a, b := NewChannelPair()
	peer := NewPeer(a, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go peer.Run(ctx)

	id := uint64(999)
	require.NoError(t, b.Send(Envelope{ID: &id, Result: json.RawMessage(`"stale"`)}))

	// The stray response must not disturb a live call issued afterwards.
	go func() {
		env, err := b.Receive()
		if err != nil {
			return
		}
		b.Send(Envelope{ID: env.ID, Result: json.RawMessage(`"fresh"`)})
	}()

	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()

	result, err := peer.Call(callCtx, "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"fresh"`, string(result))
	assert.Zero(t, peer.PendingCount())
}

func TestHandlerErrorFailsOnlyThatCall(t *testing.T) {
	left, right, _ := testPeers(t)

	right.Handle(func(ctx context.Context, action string, args json.RawMessage) (any, error) {
		if action == "bad" {
			return nil, errors.New("boom")
		}
		return "ok", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := left.Call(ctx, "bad", nil)
	require.ErrorIs(t, err, ErrCallFailed)

	result, err := left.Call(ctx, "good", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(result))
}

func TestHandlerPanicIsContained(t *testing.T) {
	left, right, _ := testPeers(t)

	right.Handle(func(ctx context.Context, action string, args json.RawMessage) (any, error) {
		if action == "explode" {
			panic("kaboom")
		}
		return true, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := left.Call(ctx, "explode", nil)
	require.Error(t, err)

	result, err := left.Call(ctx, "fine", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `true`, string(result))
}

func TestNotifyCarriesNoID(t *testing.T) {
	a, b := NewChannelPair()
	peer := NewPeer(a, zerolog.Nop())

	require.NoError(t, peer.Notify("poke", map[string]string{"user": "1"}))

	env, err := b.Receive()
	require.NoError(t, err)
	assert.True(t, env.IsRequest)
	assert.Nil(t, env.ID)
	assert.Equal(t, "poke", env.Action)
}

func TestCallCancellationRemovesPending(t *testing.T) {
	a, _ := NewChannelPair()
	peer := NewPeer(a, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := peer.Call(ctx, "never-answered", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, peer.PendingCount())
}

func TestAbandonFailsPendingCalls(t *testing.T) {
	a, _ := NewChannelPair()
	peer := NewPeer(a, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() {
		_, err := peer.Call(context.Background(), "doomed", nil)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return peer.PendingCount() == 1 }, time.Second, 5*time.Millisecond)
	peer.Abandon()

	err := <-errCh
	require.ErrorIs(t, err, ErrPeerGone)
	assert.Zero(t, peer.PendingCount())
}

func TestRebindLeavesPendingCallsToCallerTimeout(t *testing.T) {
	a1, _ := NewChannelPair()
	peer := NewPeer(a1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		_, err := peer.Call(ctx, "never-answered", nil)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return peer.PendingCount() == 1 }, time.Second, 5*time.Millisecond)

	// The peer dies and a replacement is bound. The in-flight call must
	// not resolve early: its only bound is the caller's own ctx.
	a1.Close()
	a2, _ := NewChannelPair()
	peer.Rebind(a2)

	select {
	case err := <-errCh:
		t.Fatalf("call resolved %v after rebind: %v", time.Since(start), err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, peer.PendingCount())

	err := <-errCh
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	assert.Zero(t, peer.PendingCount())
}

func TestRebindKeepsCounterMonotonic(t *testing.T) {
	a1, b1 := NewChannelPair()
	peer := NewPeer(a1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go peer.Run(ctx)

	echo := func(tr Transport) {
		for {
			env, err := tr.Receive()
			if err != nil {
				return
			}
			tr.Send(Envelope{ID: env.ID, Result: env.Args})
		}
	}
	go echo(b1)

	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()

	_, err := peer.Call(callCtx, "echo", 1)
	require.NoError(t, err)

	// Simulate a peer death and relaunch: new transport, same peer.
	a1.Close()
	a2, b2 := NewChannelPair()
	peer.Rebind(a2)

	seen := make(chan uint64, 1)
	go func() {
		env, err := b2.Receive()
		if err != nil {
			return
		}
		seen <- *env.ID
		b2.Send(Envelope{ID: env.ID, Result: env.Args})
	}()

	// The read loop on the old transport has exited; drive delivery by
	// sending and receiving directly on the new pair.
	data, _ := json.Marshal(2)
	id := peer.counter.Add(1)
	require.NoError(t, a2.Send(Envelope{IsRequest: true, ID: &id, Action: "echo", Args: data}))

	select {
	case got := <-seen:
		assert.Equal(t, uint64(2), got, fmt.Sprintf("expected id to continue past the first call, got %d", got))
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the rebound transport")
	}
}
