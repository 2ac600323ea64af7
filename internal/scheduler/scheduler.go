package scheduler

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"rolesync/internal/domain"
)

// Producer selects up to limit stale users for one tick.
type Producer func(ctx context.Context, limit int) ([]domain.User, error)

// Handler refreshes one user. Errors are the handler's own business to
// report; the scheduler only counts completion.
type Handler func(ctx context.Context, user domain.User) error

// Scheduler runs a recurring tick that fans a batch of stale users out
// over most of the interval. Ticks are serialized: a tick that finds the
// previous batch still running skips entirely instead of overlapping it.
type Scheduler struct {
	producer  Producer
	handler   Handler
	interval  time.Duration
	batchSize int
	dutyCycle float64
	logger    zerolog.Logger

	// completed counts finished handler invocations of the current
	// batch; target is how many the batch dispatched.
	completed atomic.Int64
	target    atomic.Int64

	ticks    atomic.Int64
	overruns atomic.Int64
}

func New(producer Producer, handler Handler, interval time.Duration, batchSize int, dutyCycle float64, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		producer:  producer,
		handler:   handler,
		interval:  interval,
		batchSize: batchSize,
		dutyCycle: dutyCycle,
		logger:    logger,
	}
}

// Start blocks, ticking until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Int("batch_size", s.batchSize).
		Msg("update scheduler started")

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info().Msg("update scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.ticks.Add(1)

	// Never overlap batches: a slow batch means this tick does nothing.
	if s.completed.Load() < s.target.Load() {
		s.overruns.Add(1)
		s.logger.Warn().
			Int64("completed", s.completed.Load()).
			Int64("target", s.target.Load()).
			Msg("previous batch still running, skipping tick")
		return
	}

	users, err := s.producer(ctx, s.batchSize)
	if err != nil {
		// Treat the tick as fully completed so the next one is not
		// permanently blocked behind a failed produce.
		s.completed.Store(0)
		s.target.Store(0)
		s.logger.Error().Err(err).Msg("producer failed, tick abandoned")
		return
	}

	s.completed.Store(0)
	s.target.Store(int64(len(users)))

	if len(users) == 0 {
		s.logger.Debug().Msg("no stale users this tick")
		return
	}

	step := s.step()
	s.logger.Info().
		Int("batch", len(users)).
		Dur("step", step).
		Msg("dispatching update batch")

	for i, user := range users {
		user := user
		time.AfterFunc(time.Duration(i)*step, func() {
			defer s.completed.Add(1)
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().Interface("panic", r).Str("snowflake", user.Snowflake).Msg("update handler panicked")
				}
			}()

			if err := s.handler(ctx, user); err != nil {
				// Already reported through the handler's own channels;
				// one bad user must not abort the batch.
				s.logger.Debug().Err(err).Str("snowflake", user.Snowflake).Msg("update handler failed")
			}
		})
	}
}

// step spreads the batch across the duty-cycle share of the interval so
// the whole batch lands inside ~90% of it, leaving slack for stragglers.
func (s *Scheduler) step() time.Duration {
	ms := math.Ceil(s.dutyCycle * float64(s.interval.Milliseconds()) / float64(s.batchSize))
	return time.Duration(ms) * time.Millisecond
}

// Stats reports tick counters for observability surfaces.
func (s *Scheduler) Stats() (ticks, overruns int64, inFlight int64) {
	return s.ticks.Load(), s.overruns.Load(), s.target.Load() - s.completed.Load()
}
