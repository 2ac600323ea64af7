package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"rolesync/internal/config"
	"rolesync/internal/constants"
	"rolesync/internal/ipc"
)

// Supervisor owns the worker process. It launches the worker, binds the
// shared peer to its pipes, and relaunches it with exponential backoff
// whenever it dies. The peer itself survives relaunches, so request ids
// stay monotonic across worker generations and stale replies from a
// dead worker can never be confused with fresh ones.
type Supervisor struct {
	cfg    *config.Config
	peer   *ipc.Peer
	logger zerolog.Logger

	running  atomic.Bool
	restarts atomic.Int64
}

func NewSupervisor(cfg *config.Config, peer *ipc.Peer, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		peer:   peer,
		logger: logger.With().Str("component", "supervisor").Logger(),
	}
}

// Run blocks, keeping a worker alive until ctx is cancelled. A worker
// that stays up for a while earns a reset of the relaunch backoff.
func (s *Supervisor) Run(ctx context.Context) {
	backoff := s.newBackoff()

	for ctx.Err() == nil {
		started := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		s.restarts.Add(1)
		if time.Since(started) > time.Minute {
			backoff = s.newBackoff()
		}

		delay, _ := backoff.Next()
		s.logger.Warn().Err(err).
			Dur("relaunch_in", delay).
			Int64("restarts", s.restarts.Load()).
			Msg("worker died, relaunching")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Supervisor) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(constants.WorkerRelaunchCap,
		retry.NewExponential(constants.WorkerRelaunchBase))
}

// runOnce launches one worker generation and serves it until it exits.
// Requests still pending when the worker dies are left pending: each
// resolves when its caller's timeout fires, and a straggler reply from
// the dead generation is dropped by the unknown-id rule. In-flight
// requests are never replayed automatically.
func (s *Supervisor) runOnce(ctx context.Context) error {
	parts := strings.Fields(s.cfg.WorkerCmd)
	if len(parts) == 0 {
		return fmt.Errorf("empty worker command")
	}

	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	s.logger.Info().Int("pid", cmd.Process.Pid).Msg("worker started")

	tr := ipc.NewPipeTransport(stdout, stdin)
	s.peer.Rebind(tr)
	s.running.Store(true)

	// Kill the worker on shutdown so the pipe read in Run unblocks.
	exited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
		case <-exited:
		}
	}()

	runErr := s.peer.Run(ctx)
	close(exited)

	s.running.Store(false)
	tr.Close()
	if ctx.Err() != nil {
		// Shutdown: no relaunch is coming, so waiting out caller
		// timeouts buys nothing.
		s.peer.Abandon()
	}

	if err := cmd.Wait(); err != nil {
		s.logger.Debug().Err(err).Msg("worker exit status")
	}
	return runErr
}

// RequestRefresh asks the current worker to refresh one user now,
// waiting for the result.
func (s *Supervisor) RequestRefresh(ctx context.Context, snowflake string) (bool, error) {
	raw, err := s.peer.Call(ctx, string(ipc.ActionRefresh), ipc.RefreshArgs{Snowflake: snowflake})
	if err != nil {
		return false, err
	}
	var res ipc.RefreshResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, fmt.Errorf("decode refresh result: %w", err)
	}
	return res.OK, nil
}

// LinkAccount routes an account link through the worker. The worker is
// the only process that writes user rows, so the coordinator never
// touches them directly.
func (s *Supervisor) LinkAccount(ctx context.Context, snowflake, region, accountID string) (bool, error) {
	raw, err := s.peer.Call(ctx, string(ipc.ActionLinkAccount), ipc.LinkAccountArgs{
		Snowflake: snowflake,
		Region:    region,
		AccountID: accountID,
	})
	if err != nil {
		return false, err
	}
	var res ipc.LinkAccountResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, fmt.Errorf("decode link result: %w", err)
	}
	return res.OK, nil
}

func (s *Supervisor) UnlinkAccount(ctx context.Context, snowflake, region, accountID string) (bool, error) {
	raw, err := s.peer.Call(ctx, string(ipc.ActionUnlinkAccount), ipc.UnlinkAccountArgs{
		Snowflake: snowflake,
		Region:    region,
		AccountID: accountID,
	})
	if err != nil {
		return false, err
	}
	var res ipc.UnlinkAccountResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, fmt.Errorf("decode unlink result: %w", err)
	}
	return res.OK, nil
}

// WorkerStatus asks the current worker for its scheduler counters and
// rate-limit headroom.
func (s *Supervisor) WorkerStatus(ctx context.Context) (*ipc.WorkerStatusResult, error) {
	raw, err := s.peer.Call(ctx, string(ipc.ActionWorkerStatus), nil)
	if err != nil {
		return nil, err
	}
	var res ipc.WorkerStatusResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode worker status: %w", err)
	}
	return &res, nil
}

// WorkerRunning reports whether a worker generation is currently bound.
func (s *Supervisor) WorkerRunning() bool {
	return s.running.Load()
}

// Restarts counts worker deaths since the coordinator started.
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}
