package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrPeerGone   = errors.New("ipc: peer went away before responding")
	ErrNoHandler  = errors.New("ipc: no handler registered")
	ErrCallFailed = errors.New("ipc: remote handler failed")
)

// HandlerFunc serves one inbound request. The returned value is
// marshalled into the response when the request carried an id.
type HandlerFunc func(ctx context.Context, action string, args json.RawMessage) (any, error)

// Peer is the correlated request/response layer over a Transport. It
// assigns monotonically increasing ids to requests that expect a reply,
// keeps concurrent in-flight calls apart via a pending map, and routes
// inbound traffic to either the registered handler or a waiting caller.
// The id counter survives transport rebinds so a straggler response from
// a dead peer can never collide with a live call.
type Peer struct {
	logger  zerolog.Logger
	counter atomic.Uint64

	mu      sync.Mutex
	tr      Transport
	pending map[uint64]chan Envelope
	handler HandlerFunc
}

func NewPeer(tr Transport, logger zerolog.Logger) *Peer {
	return &Peer{
		logger:  logger,
		tr:      tr,
		pending: make(map[uint64]chan Envelope),
	}
}

// Handle registers the request handler. Registered once by the owning
// endpoint role before Run.
func (p *Peer) Handle(h HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Call sends a request and waits for its response. The layer itself has
// no timeout: the ctx is the caller's only bound, and cancellation
// removes the pending entry so a late reply is discarded instead of
// leaking.
func (p *Peer) Call(ctx context.Context, action string, args any) (json.RawMessage, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args for %s: %w", action, err)
	}

	id := p.counter.Add(1)
	ch := make(chan Envelope, 1)

	p.mu.Lock()
	tr := p.tr
	p.pending[id] = ch
	p.mu.Unlock()

	if tr == nil {
		p.removePending(id)
		return nil, ErrPeerGone
	}

	env := Envelope{IsRequest: true, ID: &id, Action: action, Args: data}
	if err := tr.Send(env); err != nil {
		p.removePending(id)
		return nil, fmt.Errorf("send %s: %w", action, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrPeerGone
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrCallFailed, action, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		p.removePending(id)
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget request: no id, no reply expected.
func (p *Peer) Notify(action string, args any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args for %s: %w", action, err)
	}

	p.mu.Lock()
	tr := p.tr
	p.mu.Unlock()

	if tr == nil {
		return ErrPeerGone
	}
	return tr.Send(Envelope{IsRequest: true, Action: action, Args: data})
}

// Run reads the transport until it fails or ctx is cancelled. Requests
// are dispatched in arrival order, each on its own goroutine, so handler
// completion order is unordered by design; responses are matched to
// pending calls by id.
func (p *Peer) Run(ctx context.Context) error {
	for {
		p.mu.Lock()
		tr := p.tr
		p.mu.Unlock()
		if tr == nil {
			return ErrPeerGone
		}

		env, err := tr.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if env.IsRequest {
			go p.serveRequest(ctx, env)
			continue
		}

		p.deliverResponse(env)
	}
}

func (p *Peer) serveRequest(ctx context.Context, env Envelope) {
	traceID := uuid.New().String()
	log := p.logger.With().Str("trace_id", traceID).Str("action", env.Action).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("request handler panicked")
			p.respondError(env, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	p.mu.Lock()
	handler := p.handler
	tr := p.tr
	p.mu.Unlock()

	if handler == nil {
		log.Error().Msg("request arrived before handler registration")
		p.respondError(env, ErrNoHandler.Error())
		return
	}

	result, err := handler(ctx, env.Action, env.Args)
	if env.ID == nil {
		if err != nil {
			log.Warn().Err(err).Msg("fire-and-forget handler failed")
		}
		return
	}

	if err != nil {
		log.Warn().Err(err).Msg("request handler failed")
		p.respondError(env, err.Error())
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal handler result")
		p.respondError(env, err.Error())
		return
	}

	if tr == nil {
		log.Warn().Msg("transport gone before response could be sent")
		return
	}
	if err := tr.Send(Envelope{ID: env.ID, Result: data}); err != nil {
		log.Warn().Err(err).Msg("failed to send response")
	}
}

func (p *Peer) respondError(env Envelope, msg string) {
	if env.ID == nil {
		return
	}
	p.mu.Lock()
	tr := p.tr
	p.mu.Unlock()
	if tr == nil {
		return
	}
	if err := tr.Send(Envelope{ID: env.ID, Error: msg}); err != nil {
		p.logger.Warn().Err(err).Msg("failed to send error response")
	}
}

func (p *Peer) deliverResponse(env Envelope) {
	if env.ID == nil {
		p.logger.Debug().Msg("discarding response without id")
		return
	}

	p.mu.Lock()
	ch, ok := p.pending[*env.ID]
	if ok {
		delete(p.pending, *env.ID)
	}
	p.mu.Unlock()

	if !ok {
		// Late reply after the caller already gave up, or a straggler
		// from a dead peer after a rebind. Dropped on purpose.
		p.logger.Debug().Uint64("id", *env.ID).Msg("discarding response with unknown id")
		return
	}

	ch <- env
}

func (p *Peer) removePending(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// Rebind swaps the underlying transport without touching the id counter
// or the pending map. Calls still pending against the old transport stay
// pending: their responses will never arrive, so each resolves when its
// caller's ctx expires, and any straggler reply from the old peer is
// discarded by the unknown-id rule.
func (p *Peer) Rebind(tr Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tr = tr
}

// Abandon fails every pending call with ErrPeerGone. Used only at
// process shutdown, when no caller timeout is worth waiting out; a peer
// that merely died gets Rebind, which leaves pending calls alone.
func (p *Peer) Abandon() {
	p.mu.Lock()
	abandoned := p.pending
	p.pending = make(map[uint64]chan Envelope)
	p.mu.Unlock()

	for _, ch := range abandoned {
		close(ch)
	}
	if len(abandoned) > 0 {
		p.logger.Warn().Int("count", len(abandoned)).Msg("abandoned pending requests")
	}
}

// PendingCount reports the number of in-flight calls.
func (p *Peer) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
