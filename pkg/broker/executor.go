package broker

import "context"

// Executor fills orders on one venue. Implementations register themselves
// by type name in their package init so configuration can construct them
// without import cycles.
type Executor interface {
	// Execute places the order and blocks until a fill report is
	// available. IOC semantics: partial or zero fills surface as errors,
	// the engine never leaves resting orders behind.
	Execute(ctx context.Context, req OrderRequest) (*Fill, error)
}

// AccountSyncer is implemented by live executors whose venue holds the
// authoritative account state. The engine syncs before each live tick and
// treats the returned equity as ground truth.
type AccountSyncer interface {
	SyncAccount(ctx context.Context) (equity float64, positions []VenuePosition, err error)
}

// VenuePosition is an open position as reported by a live venue.
type VenuePosition struct {
	Market        string
	Side          Side
	Size          float64
	EntryPrice    float64
	Leverage      float64
	UnrealizedPnl float64
}

// LeverageSetter is implemented by executors whose venue requires leverage
// to be set on the account before an order, rather than per order.
type LeverageSetter interface {
	SetLeverage(ctx context.Context, market string, leverage int) error
}
