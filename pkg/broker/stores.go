package broker

import (
	"context"
	"time"
)

// Narrow persistence contracts consumed by the router and the risk gate.
// internal/repo provides the Postgres implementations; tests use in-memory
// fakes. Every method takes the execution mode so one store serves the
// mode-partitioned tables.

// PositionStore is CRUD access to the single open position per market.
type PositionStore interface {
	// Get returns nil without error when no position is open.
	Get(ctx context.Context, mode Mode, sessionID, market string) (*Position, error)
	List(ctx context.Context, mode Mode, sessionID string) ([]Position, error)
	Upsert(ctx context.Context, mode Mode, p *Position) error
	Delete(ctx context.Context, mode Mode, sessionID, market string) error
}

// TradeStore appends fills and answers the frequency queries the risk
// gate runs against the session's trading history.
type TradeStore interface {
	Insert(ctx context.Context, mode Mode, t *Trade) error
	// CountEntriesSince counts open-action trades after the cutoff,
	// scoped to the session.
	CountEntriesSince(ctx context.Context, mode Mode, sessionID string, since time.Time) (int, error)
	// LastFillAt returns the zero time when the market has never traded.
	LastFillAt(ctx context.Context, mode Mode, sessionID, market string) (time.Time, error)
	Recent(ctx context.Context, mode Mode, sessionID string, limit int) ([]Trade, error)
}

// AccountStore reads and writes per-session balances.
type AccountStore interface {
	// Get returns nil without error when the account row is absent.
	Get(ctx context.Context, mode Mode, sessionID string) (*Account, error)
	Save(ctx context.Context, mode Mode, a *Account) error
}

// Stores bundles the persistence contracts the router needs.
type Stores struct {
	Positions PositionStore
	Trades    TradeStore
	Accounts  AccountStore
}
