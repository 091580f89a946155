package engine

import (
	"context"
	"time"

	"arena-api/pkg/broker"
)

// SessionStore manages session rows. Implementations return
// ErrSessionNotFound for unknown ids.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	// RecordTick persists the advanced tick counter and timestamp.
	RecordTick(ctx context.Context, id string, tickCount int64, at time.Time) error
	// Pause force-pauses the session with an operator-facing reason.
	Pause(ctx context.Context, id, reason string) error
}

// DecisionStore appends and reads per-market decision records.
type DecisionStore interface {
	Insert(ctx context.Context, mode broker.Mode, d *Decision) error
	Recent(ctx context.Context, mode broker.Mode, sessionID string, limit int) ([]Decision, error)
	// RecentForMarkets scopes history to the named markets.
	RecentForMarkets(ctx context.Context, mode broker.Mode, sessionID string, markets []string, limit int) ([]Decision, error)
}

// EquityStore appends end-of-tick snapshots.
type EquityStore interface {
	Insert(ctx context.Context, mode broker.Mode, s *EquitySnapshot) error
	Latest(ctx context.Context, mode broker.Mode, sessionID string) (*EquitySnapshot, error)
}

// Locker provides the per-session tick mutex. SetNX semantics: true means
// the lock was acquired and the tick may run.
type Locker interface {
	AcquireTickLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	ReleaseTickLock(ctx context.Context, sessionID string) error
}

// Biller charges for model usage at the end of a tick. A billing error
// pauses the session so usage never goes unpaid.
type Biller interface {
	Charge(ctx context.Context, sessionID, model string, promptTokens, completionTokens int) error
}

// Stores bundles everything RunTick persists through.
type Stores struct {
	Sessions  SessionStore
	Decisions DecisionStore
	Equity    EquityStore
	Broker    broker.Stores
}
