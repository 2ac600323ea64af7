package constants

import "time"

const (
	// UpdateInterval is how often the scheduler selects a batch of stale
	// users. UpdateDutyCycle is the fraction of the interval the batch is
	// spread across, leaving slack for stragglers before the next tick.
	UpdateInterval  = 10 * time.Minute
	UpdateBatchSize = 30
	UpdateDutyCycle = 0.9
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	ManualRefreshWait  = 30 * time.Second
	GatewayCallTimeout = 10 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// Supervisor backoff bounds for relaunching a worker that keeps dying
	// right after start.
	WorkerRelaunchBase = 500 * time.Millisecond
	WorkerRelaunchCap  = 30 * time.Second
)
