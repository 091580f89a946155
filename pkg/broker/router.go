package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// ErrFillUnrecorded marks the one failure the engine must not trade
// through: a venue fill succeeded but the trade row could not be written.
// The session is force-paused for manual review rather than continuing
// against an un-tracked real position.
var ErrFillUnrecorded = errors.New("broker: fill executed but trade record failed, manual review required")

const dustSize = 1e-9

// Router normalizes order placement across venues: it executes through the
// supplied Executor, computes fees and realized PnL, appends the trade and
// applies the fill to the stored position and account.
type Router struct {
	stores Stores
	now    func() time.Time
}

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// WithRouterClock injects a deterministic time source for tests.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter constructs a Router over the given stores.
func NewRouter(stores Stores, opts ...RouterOption) (*Router, error) {
	if stores.Positions == nil || stores.Trades == nil || stores.Accounts == nil {
		return nil, errors.New("broker: router requires position, trade and account stores")
	}
	r := &Router{stores: stores, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Place executes one approved order. Errors from the venue surface as a
// failed OrderResult; the returned error is reserved for the unrecorded
// live fill case so callers can distinguish "trade did not happen" from
// "trade happened and we lost it".
func (r *Router) Place(ctx context.Context, exec Executor, req OrderRequest) (*OrderResult, error) {
	if err := validateRequest(req); err != nil {
		return &OrderResult{Success: false, Error: err.Error()}, nil
	}

	existing, err := r.stores.Positions.Get(ctx, req.Mode, req.SessionID, req.Market)
	if err != nil {
		return &OrderResult{Success: false, Error: fmt.Sprintf("load position: %v", err)}, nil
	}
	if req.IsExit && existing == nil {
		// Close with nothing open is a no-op, not an error.
		return &OrderResult{Success: true}, nil
	}

	fill, err := exec.Execute(ctx, req)
	if err != nil {
		return &OrderResult{Success: false, Error: fmt.Sprintf("venue execute: %v", err)}, nil
	}
	if fill == nil || fill.Size <= 0 || fill.Price <= 0 {
		return &OrderResult{Success: false, Error: "venue returned empty fill"}, nil
	}

	now := r.now()
	trade := r.buildTrade(req, existing, fill, now)

	if err := r.stores.Trades.Insert(ctx, req.Mode, trade); err != nil {
		if req.Mode == ModeLive {
			logx.WithContext(ctx).Errorf("[broker] live fill unrecorded session=%s market=%s oid=%s: %v",
				req.SessionID, req.Market, fill.OrderID, err)
			return nil, fmt.Errorf("%w: %v", ErrFillUnrecorded, err)
		}
		return &OrderResult{Success: false, Error: fmt.Sprintf("record trade: %v", err)}, nil
	}

	// Venues with server-side position sync are refreshed at the next
	// tick; everything else applies the fill locally.
	if req.Mode.Simulated() || !venueSyncs(exec) {
		if err := r.applyFill(ctx, req, existing, fill, now); err != nil {
			if req.Mode == ModeLive {
				return nil, fmt.Errorf("%w: %v", ErrFillUnrecorded, err)
			}
			return &OrderResult{Success: false, Error: fmt.Sprintf("apply fill: %v", err), Trade: trade}, nil
		}
	}

	if err := r.settleAccount(ctx, req, trade, now); err != nil {
		if req.Mode == ModeLive {
			return nil, fmt.Errorf("%w: %v", ErrFillUnrecorded, err)
		}
		return &OrderResult{Success: false, Error: fmt.Sprintf("settle account: %v", err), Trade: trade}, nil
	}

	return &OrderResult{Success: true, Trade: trade}, nil
}

func validateRequest(req OrderRequest) error {
	if req.SessionID == "" {
		return errors.New("order missing session id")
	}
	if req.Market == "" {
		return errors.New("order missing market")
	}
	if req.Side != SideLong && req.Side != SideShort {
		return fmt.Errorf("invalid order side %q", req.Side)
	}
	if req.IsExit {
		if req.ExitSize <= 0 {
			return errors.New("exit order requires exact position size")
		}
		return nil
	}
	if req.NotionalUSD <= 0 {
		return errors.New("entry order requires positive notional")
	}
	if req.Leverage < 1 {
		return fmt.Errorf("invalid leverage %.2f", req.Leverage)
	}
	return nil
}

func (r *Router) buildTrade(req OrderRequest, existing *Position, fill *Fill, now time.Time) *Trade {
	notional := fill.Price * fill.Size
	trade := &Trade{
		SessionID: req.SessionID,
		Market:    req.Market,
		Side:      req.Side,
		Size:      fill.Size,
		Price:     fill.Price,
		Notional:  notional,
		Fee:       notional * req.FeeBps / 10_000,
		Leverage:  req.Leverage,
		OrderID:   fill.OrderID,
		CreatedAt: now,
	}
	if req.IsExit && existing != nil {
		trade.Side = existing.Side
		trade.Leverage = existing.Leverage
		trade.RealizedPnl = (fill.Price - existing.EntryPrice) * fill.Size * existing.Direction()
		if existing.Size-fill.Size > dustSize {
			trade.Action = ActionReduce
		} else {
			trade.Action = ActionClose
		}
	} else {
		trade.Action = ActionOpen
	}
	return trade
}

func (r *Router) applyFill(ctx context.Context, req OrderRequest, existing *Position, fill *Fill, now time.Time) error {
	if req.IsExit {
		if existing == nil {
			return nil
		}
		remaining := existing.Size - fill.Size
		if remaining <= dustSize {
			return r.stores.Positions.Delete(ctx, req.Mode, req.SessionID, req.Market)
		}
		existing.Size = remaining
		existing.UpdatedAt = now
		return r.stores.Positions.Upsert(ctx, req.Mode, existing)
	}

	if existing != nil {
		// Same-direction add: re-average entry, reset the age clock so
		// hold-time rules see the latest open.
		total := existing.Size + fill.Size
		existing.EntryPrice = (existing.EntryPrice*existing.Size + fill.Price*fill.Size) / total
		existing.Size = total
		existing.Leverage = req.Leverage
		existing.OpenedAt = now
		existing.UpdatedAt = now
		if existing.PeakPrice == nil {
			peak := fill.Price
			existing.PeakPrice = &peak
		}
		return r.stores.Positions.Upsert(ctx, req.Mode, existing)
	}

	peak := fill.Price
	return r.stores.Positions.Upsert(ctx, req.Mode, &Position{
		SessionID:  req.SessionID,
		Market:     req.Market,
		Side:       req.Side,
		Size:       fill.Size,
		EntryPrice: fill.Price,
		Leverage:   req.Leverage,
		PeakPrice:  &peak,
		OpenedAt:   now,
		UpdatedAt:  now,
	})
}

func (r *Router) settleAccount(ctx context.Context, req OrderRequest, trade *Trade, now time.Time) error {
	account, err := r.stores.Accounts.Get(ctx, req.Mode, req.SessionID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return fmt.Errorf("account not found for session %s", req.SessionID)
	}
	// Settlement is margin-style: cash moves by realized PnL and fees
	// only, never by principal. A spot venue would need a principal
	// debit/credit here before its sizer cash cap means anything; no
	// spot executor is registered today.
	account.Cash += trade.RealizedPnl - trade.Fee
	account.RealizedPnl += trade.RealizedPnl
	account.FeesPaid += trade.Fee
	account.UpdatedAt = now
	if err := r.stores.Accounts.Save(ctx, req.Mode, account); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func venueSyncs(exec Executor) bool {
	_, ok := exec.(AccountSyncer)
	return ok
}
