package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"arena-api/pkg/broker"
	"arena-api/pkg/decision"
	"arena-api/pkg/exitrule"
	"arena-api/pkg/journal"
	"arena-api/pkg/llm"
	"arena-api/pkg/market"
	"arena-api/pkg/risk"
)

// reconcileTolerance is the accepted drift on the accounting identity
// totalPnl = realized + unrealized - fees before a warning is logged.
const reconcileTolerance = 0.01

// ExecutorResolver returns the venue executor for one session. Live
// sessions resolve credentials here; simulated sessions get the sim fill
// engine regardless of venue.
type ExecutorResolver func(ctx context.Context, s *Session, strategy *risk.Strategy) (broker.Executor, error)

// Config wires an Engine.
type Config struct {
	Stores   Stores
	Locker   Locker
	Provider market.Provider
	Router   *broker.Router
	Executor ExecutorResolver
	LLM      llm.LLMClient
	Biller   Biller            // optional
	News     decision.NewsView // optional
	Journal  *journal.Writer   // optional
	Clock    func() time.Time  // optional, defaults to time.Now
}

// Engine runs tick cycles.
type Engine struct {
	stores      Stores
	locker      Locker
	provider    market.Provider
	router      *broker.Router
	resolveExec ExecutorResolver
	llm         llm.LLMClient
	biller      Biller
	news        decision.NewsView
	journal     *journal.Writer
	now         func() time.Time
}

// New validates the wiring and constructs an Engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Stores.Sessions == nil || cfg.Stores.Decisions == nil || cfg.Stores.Equity == nil:
		return nil, errors.New("engine: session, decision and equity stores are required")
	case cfg.Stores.Broker.Positions == nil || cfg.Stores.Broker.Trades == nil || cfg.Stores.Broker.Accounts == nil:
		return nil, errors.New("engine: broker stores are required")
	case cfg.Locker == nil:
		return nil, errors.New("engine: locker is required")
	case cfg.Provider == nil:
		return nil, errors.New("engine: market provider is required")
	case cfg.Router == nil:
		return nil, errors.New("engine: order router is required")
	case cfg.Executor == nil:
		return nil, errors.New("engine: executor resolver is required")
	case cfg.LLM == nil:
		return nil, errors.New("engine: llm client is required")
	}

	e := &Engine{
		stores:      cfg.Stores,
		locker:      cfg.Locker,
		provider:    cfg.Provider,
		router:      cfg.Router,
		resolveExec: cfg.Executor,
		llm:         cfg.LLM,
		biller:      cfg.Biller,
		news:        cfg.News,
		journal:     cfg.Journal,
		now:         cfg.Clock,
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// TickResult summarises one RunTick call.
type TickResult struct {
	SessionID   string
	TickCount   int64
	Skipped     bool
	SkipReason  string
	MinInterval time.Duration
	Exits       int
	Decisions   []*Decision
	Snapshot    *EquitySnapshot
}

// MinTickInterval is the lock TTL and the floor between consecutive
// ticks: cadence minus a small scheduling allowance, never under 10s.
func MinTickInterval(cadenceSeconds int) time.Duration {
	interval := time.Duration(cadenceSeconds)*time.Second - 5*time.Second
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	return interval
}

// RunTick executes one complete cycle for a session: lock, live account
// sync, the exit pre-pass over every open position, per-market decision
// processing, and end-of-tick accounting. The tick lock is deliberately
// left to expire so it doubles as the minimum-interval guard.
func (e *Engine) RunTick(ctx context.Context, sessionID string) (*TickResult, error) {
	session, err := e.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res := &TickResult{SessionID: session.ID}
	if !session.Active() {
		res.Skipped = true
		res.SkipReason = "session paused: " + session.PausedReason
		return res, nil
	}

	strategy, err := risk.ResolveStrategy(session.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStrategy, err)
	}

	res.MinInterval = MinTickInterval(strategy.CadenceSeconds)

	locked, err := e.locker.AcquireTickLock(ctx, session.ID, res.MinInterval)
	if err != nil {
		return nil, err
	}
	if !locked {
		res.Skipped = true
		res.SkipReason = "tick lock held: previous tick still running or inside minimum interval"
		return res, nil
	}

	tick := session.TickCount + 1
	res.TickCount = tick
	logx.WithContext(ctx).Infof("[engine] tick %d start session=%s mode=%s markets=%v",
		tick, session.ID, session.Mode, strategy.Markets)

	exec, err := e.resolveExec(ctx, session, strategy)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve executor: %w", err)
	}

	if session.Mode == broker.ModeLive {
		if err := e.syncLiveAccount(ctx, session, exec); err != nil {
			return nil, err
		}
	}

	if err := e.exitPass(ctx, session, strategy, exec, res); err != nil {
		e.writeJournal(ctx, session, res, err)
		return nil, e.failTick(ctx, session, err)
	}

	for _, marketName := range e.selectMarkets(strategy, tick) {
		d, marketErr := e.processMarket(ctx, session, strategy, exec, marketName, tick)
		if d != nil {
			if insErr := e.stores.Decisions.Insert(ctx, session.Mode, d); insErr != nil {
				logx.WithContext(ctx).Errorf("[engine] record decision session=%s market=%s: %v",
					session.ID, marketName, insErr)
			}
			res.Decisions = append(res.Decisions, d)
		}
		if marketErr != nil {
			e.writeJournal(ctx, session, res, marketErr)
			return res, e.failTick(ctx, session, marketErr)
		}
	}

	if snap, err := e.settle(ctx, session, tick); err != nil {
		logx.WithContext(ctx).Errorf("[engine] settle session=%s tick=%d: %v", session.ID, tick, err)
	} else {
		res.Snapshot = snap
	}

	if err := e.stores.Sessions.RecordTick(ctx, session.ID, tick, e.now()); err != nil {
		logx.WithContext(ctx).Errorf("[engine] record tick session=%s: %v", session.ID, err)
	}

	e.writeJournal(ctx, session, res, nil)
	logx.WithContext(ctx).Infof("[engine] tick %d done session=%s exits=%d decisions=%d",
		tick, session.ID, res.Exits, len(res.Decisions))
	return res, nil
}

// writeJournal appends the tick's flight-recorder entry. Journal failures
// are logged, never fatal; the database record is authoritative.
func (e *Engine) writeJournal(ctx context.Context, session *Session, res *TickResult, tickErr error) {
	if e.journal == nil {
		return
	}
	rec := &journal.TickRecord{
		Timestamp:  e.now(),
		SessionID:  session.ID,
		Mode:       string(session.Mode),
		Tick:       res.TickCount,
		Skipped:    res.Skipped,
		SkipReason: res.SkipReason,
		Exits:      res.Exits,
		Success:    tickErr == nil,
	}
	if tickErr != nil {
		rec.ErrorMessage = tickErr.Error()
	}
	for _, d := range res.Decisions {
		rec.Decisions = append(rec.Decisions, journal.DecisionDigest{
			Market:      d.Market,
			Bias:        d.Bias,
			Confidence:  d.Confidence,
			Passed:      d.Passed,
			Stage:       d.Stage,
			Reason:      d.Reason,
			EntryType:   d.EntryType,
			NotionalUSD: d.NotionalUSD,
			Leverage:    d.Leverage,
			Executed:    d.Executed,
			OrderErr:    d.OrderErr,
			Error:       d.Error,
		})
	}
	if snap := res.Snapshot; snap != nil {
		rec.Equity = &journal.EquityDigest{
			Equity:        snap.Equity,
			Cash:          snap.Cash,
			RealizedPnl:   snap.RealizedPnl,
			UnrealizedPnl: snap.UnrealizedPnl,
			FeesPaid:      snap.FeesPaid,
			TotalPnl:      snap.TotalPnl,
		}
	}
	if _, err := e.journal.Write(rec); err != nil {
		logx.WithContext(ctx).Errorf("[engine] journal write session=%s tick=%d: %v",
			session.ID, res.TickCount, err)
	}
}

// failTick force-pauses the session for failures that must stop trading,
// then passes the error through for status mapping.
func (e *Engine) failTick(ctx context.Context, session *Session, err error) error {
	var reason string
	switch {
	case errors.Is(err, broker.ErrFillUnrecorded):
		reason = "manual review required: live fill executed but not recorded"
	case errors.Is(err, ErrBilling):
		reason = "billing failure: " + err.Error()
	default:
		return err
	}
	if pauseErr := e.stores.Sessions.Pause(ctx, session.ID, reason); pauseErr != nil {
		logx.WithContext(ctx).Errorf("[engine] pause session=%s: %v", session.ID, pauseErr)
	}
	logx.WithContext(ctx).Errorf("[engine] session=%s force-paused: %s", session.ID, reason)
	return err
}

// selectMarkets returns this tick's markets: the full list, or one at a
// time rotating with the tick counter.
func (e *Engine) selectMarkets(strategy *risk.Strategy, tick int64) []string {
	if strategy.MarketSelection == risk.SelectRoundRobin {
		idx := int((tick - 1) % int64(len(strategy.Markets)))
		return strategy.Markets[idx : idx+1]
	}
	return strategy.Markets
}

// exitPass evaluates exit rules over every open position, including
// markets no longer in the configured list, so nothing is orphaned by a
// strategy edit.
func (e *Engine) exitPass(ctx context.Context, session *Session, strategy *risk.Strategy, exec broker.Executor, res *TickResult) error {
	positions, err := e.stores.Broker.Positions.List(ctx, session.Mode, session.ID)
	if err != nil {
		return fmt.Errorf("engine: list positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	eval := exitrule.New(strategy.ExitRules, exitrule.WithClock(e.now))
	for i := range positions {
		pos := &positions[i]
		price, err := e.provider.Price(ctx, pos.Market)
		if err != nil {
			logx.WithContext(ctx).Errorf("[engine] price for open position %s: %v", pos.Market, err)
			continue
		}

		verdict := eval.Evaluate(pos, price)
		if verdict.UpdatedPeak != nil {
			pos.PeakPrice = verdict.UpdatedPeak
			pos.UpdatedAt = e.now()
			if err := e.stores.Broker.Positions.Upsert(ctx, session.Mode, pos); err != nil {
				logx.WithContext(ctx).Errorf("[engine] persist peak %s: %v", pos.Market, err)
			}
		}
		if verdict.Suppressed {
			logx.WithContext(ctx).Infof("[engine] exit held %s: %s", pos.Market, verdict.Reason)
		}
		if !verdict.ShouldExit {
			continue
		}

		logx.WithContext(ctx).Infof("[engine] exit %s %s: %s", pos.Market, pos.Side, verdict.Reason)
		result, err := e.closePosition(ctx, session, strategy, exec, pos, price)
		if err != nil {
			return err
		}
		if !result.Success {
			// Venue rejection leaves the position open; the next tick's
			// pre-pass retries.
			continue
		}
		res.Exits++
	}
	return nil
}

// closePosition routes a full exit for one position. Notional reflects
// the current price and the exact base size travels with the order so
// derivative venues close without dust.
func (e *Engine) closePosition(ctx context.Context, session *Session, strategy *risk.Strategy, exec broker.Executor, pos *broker.Position, price float64) (*broker.OrderResult, error) {
	result, err := e.router.Place(ctx, exec, broker.OrderRequest{
		SessionID:   session.ID,
		Mode:        session.Mode,
		Venue:       session.Venue,
		Market:      pos.Market,
		Side:        pos.Side,
		NotionalUSD: price * pos.Size,
		MarkPrice:   price,
		Leverage:    pos.Leverage,
		SlippageBps: strategy.ToleranceBps,
		FeeBps:      strategy.FeeBps,
		IsExit:      true,
		ExitSize:    pos.Size,
	})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		logx.WithContext(ctx).Errorf("[engine] exit order failed %s: %s", pos.Market, result.Error)
	}
	return result, nil
}

// syncLiveAccount adopts the venue's view of equity and positions. The
// venue is ground truth in live mode; local rows exist to serve prompts
// and exit rules between syncs.
func (e *Engine) syncLiveAccount(ctx context.Context, session *Session, exec broker.Executor) error {
	syncer, ok := exec.(broker.AccountSyncer)
	if !ok {
		return nil
	}
	equity, venuePositions, err := syncer.SyncAccount(ctx)
	if err != nil {
		return fmt.Errorf("engine: sync live account: %w", err)
	}

	account, err := e.stores.Broker.Accounts.Get(ctx, session.Mode, session.ID)
	if err != nil {
		return fmt.Errorf("engine: load account: %w", err)
	}
	if account == nil {
		return fmt.Errorf("engine: no account for session %s", session.ID)
	}
	account.Equity = equity
	account.UpdatedAt = e.now()
	if err := e.stores.Broker.Accounts.Save(ctx, session.Mode, account); err != nil {
		return fmt.Errorf("engine: save account: %w", err)
	}

	local, err := e.stores.Broker.Positions.List(ctx, session.Mode, session.ID)
	if err != nil {
		return fmt.Errorf("engine: list positions: %w", err)
	}

	// Reconcile position rows against the venue: drop stale locals, adopt
	// venue positions we have no row for, refresh sizes on the rest.
	venueByMarket := make(map[string]broker.VenuePosition, len(venuePositions))
	for _, vp := range venuePositions {
		venueByMarket[vp.Market] = vp
	}
	localByMarket := make(map[string]*broker.Position, len(local))
	for i := range local {
		pos := &local[i]
		localByMarket[pos.Market] = pos
		vp, held := venueByMarket[pos.Market]
		if !held {
			logx.WithContext(ctx).Infof("[engine] venue no longer holds %s, removing stale row", pos.Market)
			if err := e.stores.Broker.Positions.Delete(ctx, session.Mode, session.ID, pos.Market); err != nil {
				return fmt.Errorf("engine: delete stale position: %w", err)
			}
			continue
		}
		if vp.Size != pos.Size || vp.Side != pos.Side {
			pos.Side = vp.Side
			pos.Size = vp.Size
			pos.EntryPrice = vp.EntryPrice
			pos.Leverage = vp.Leverage
			pos.UpdatedAt = e.now()
			if err := e.stores.Broker.Positions.Upsert(ctx, session.Mode, pos); err != nil {
				return fmt.Errorf("engine: refresh position: %w", err)
			}
		}
	}
	for _, vp := range venuePositions {
		if _, known := localByMarket[vp.Market]; known {
			continue
		}
		logx.WithContext(ctx).Infof("[engine] adopting venue position %s %s", vp.Market, vp.Side)
		now := e.now()
		if err := e.stores.Broker.Positions.Upsert(ctx, session.Mode, &broker.Position{
			SessionID:  session.ID,
			Market:     vp.Market,
			Side:       vp.Side,
			Size:       vp.Size,
			EntryPrice: vp.EntryPrice,
			Leverage:   vp.Leverage,
			OpenedAt:   now,
			UpdatedAt:  now,
		}); err != nil {
			return fmt.Errorf("engine: adopt venue position: %w", err)
		}
	}
	return nil
}

// settle recomputes equity, checks the accounting identity and appends
// the end-of-tick snapshot. Reconciliation drift is log-only for
// simulated modes; the snapshot records reality either way.
func (e *Engine) settle(ctx context.Context, session *Session, tick int64) (*EquitySnapshot, error) {
	account, err := e.stores.Broker.Accounts.Get(ctx, session.Mode, session.ID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("no account for session %s", session.ID)
	}

	positions, err := e.stores.Broker.Positions.List(ctx, session.Mode, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	var unrealized float64
	for i := range positions {
		pos := &positions[i]
		price, err := e.provider.Price(ctx, pos.Market)
		if err != nil {
			logx.WithContext(ctx).Errorf("[engine] settle price %s: %v", pos.Market, err)
			continue
		}
		unrealized += pos.UnrealizedPnl(price)
	}

	if session.Mode.Simulated() {
		account.Equity = account.Cash + unrealized
		account.UpdatedAt = e.now()
		if err := e.stores.Broker.Accounts.Save(ctx, session.Mode, account); err != nil {
			return nil, fmt.Errorf("save account: %w", err)
		}
	}

	totalPnl := account.Equity - account.StartingEquity
	drift := totalPnl - (account.RealizedPnl + unrealized - account.FeesPaid)
	if math.Abs(drift) > reconcileTolerance {
		logx.WithContext(ctx).Errorf("[engine] reconciliation drift session=%s tick=%d drift=%.6f total=%.2f realized=%.2f unrealized=%.2f fees=%.2f",
			session.ID, tick, drift, totalPnl, account.RealizedPnl, unrealized, account.FeesPaid)
	}

	snap := &EquitySnapshot{
		SessionID:     session.ID,
		TickCount:     tick,
		Equity:        account.Equity,
		Cash:          account.Cash,
		RealizedPnl:   account.RealizedPnl,
		UnrealizedPnl: unrealized,
		FeesPaid:      account.FeesPaid,
		TotalPnl:      totalPnl,
		CreatedAt:     e.now(),
	}
	if err := e.stores.Equity.Insert(ctx, session.Mode, snap); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}
