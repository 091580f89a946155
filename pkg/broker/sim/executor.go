// Package sim provides the paper-trading venue executor. Fills are
// synchronous and deterministic: orders execute at the mark price adjusted
// by the configured slippage, in the adverse direction.
package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"arena-api/pkg/broker"
)

// Executor fills orders against the caller-supplied mark price. It holds no
// position or balance state of its own; the router owns bookkeeping.
type Executor struct {
	seq atomic.Int64

	mu     sync.Mutex
	markPx map[string]float64 // optional override per market, tests only
}

// New constructs a simulator executor.
func New() *Executor {
	return &Executor{markPx: make(map[string]float64)}
}

func init() {
	broker.RegisterExecutor("sim", func(name string, cfg *broker.ExecutorConfig) (broker.Executor, error) {
		return New(), nil
	})
}

func canonical(market string) string { return strings.ToUpper(strings.TrimSpace(market)) }

// SetMarkPrice overrides the fill reference price for a market. Requests
// normally carry their own mark; the override exists for tests that drive
// the executor directly.
func (e *Executor) SetMarkPrice(market string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("sim: mark price must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markPx[canonical(market)] = price
	return nil
}

// Execute fills the order immediately. Entries derive base size from
// notional at the slipped price; exits fill the exact requested size so a
// close never leaves dust.
func (e *Executor) Execute(ctx context.Context, req broker.OrderRequest) (*broker.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mark := req.MarkPrice
	e.mu.Lock()
	if px, ok := e.markPx[canonical(req.Market)]; ok {
		mark = px
	}
	e.mu.Unlock()

	if mark <= 0 {
		return nil, fmt.Errorf("sim: no mark price for %s", req.Market)
	}

	price := slippedPrice(mark, req)
	var size float64
	if req.IsExit {
		size = req.ExitSize
	} else {
		size = req.NotionalUSD / price
	}
	if size <= 0 {
		return nil, fmt.Errorf("sim: computed non-positive fill size for %s", req.Market)
	}

	return &broker.Fill{
		OrderID: fmt.Sprintf("sim-%d", e.seq.Add(1)),
		Price:   price,
		Size:    size,
	}, nil
}

// slippedPrice moves the mark against the taker: buys pay up, sells hit
// down. An exit of a long is a sell; an exit of a short is a buy.
func slippedPrice(mark float64, req broker.OrderRequest) float64 {
	slip := req.SlippageBps / 10_000
	buying := req.Side == broker.SideLong
	if req.IsExit {
		buying = req.Side == broker.SideShort
	}
	if buying {
		return mark * (1 + slip)
	}
	return mark * (1 - slip)
}
