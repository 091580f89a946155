package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"arena-api/pkg/broker"
	"arena-api/pkg/decision"
	"arena-api/pkg/market"
	"arena-api/pkg/market/indicators"
	"arena-api/pkg/risk"
)

// contextIntervals are the candle series embedded in passive prompts.
var contextIntervals = []string{"15m", "1h", "4h"}

// analysisInterval drives the regime readout and the entry classifier.
const analysisInterval = "1h"

const (
	contextCandleLimit  = 100
	contextBookDepth    = 10
	contextHistoryLimit = 10
)

// StageExit labels decision records for the AI-requested close path,
// which runs outside the entry gate.
const StageExit = "exit"

// processMarket runs acquisition, the gate and execution for one market.
// It always returns a Decision record; the error is non-nil only for
// failures that must stop the whole tick (billing, unrecorded live fill).
func (e *Engine) processMarket(ctx context.Context, session *Session, strategy *risk.Strategy, exec broker.Executor, marketName string, tick int64) (*Decision, error) {
	d := &Decision{
		SessionID: session.ID,
		Market:    marketName,
		TickCount: tick,
		Stage:     risk.StageIntent,
		CreatedAt: e.now(),
	}

	price, err := e.provider.Price(ctx, marketName)
	if err != nil {
		d.Reason = "market data unavailable"
		d.Error = fmt.Sprintf("fetch price: %v", err)
		return d, nil
	}

	account, err := e.stores.Broker.Accounts.Get(ctx, session.Mode, session.ID)
	if err != nil {
		d.Reason = "account unavailable"
		d.Error = fmt.Sprintf("load account: %v", err)
		return d, nil
	}
	position, err := e.stores.Broker.Positions.Get(ctx, session.Mode, session.ID, marketName)
	if err != nil {
		d.Reason = "position state unavailable"
		d.Error = fmt.Sprintf("load position: %v", err)
		return d, nil
	}

	mc := &decision.MarketContext{
		Market:      marketName,
		MarkPrice:   price,
		Account:     account,
		Position:    position,
		MaxLeverage: strategy.MaxLeverage,
		Prompt:      strategy.Prompt,
	}

	views := &sessionViews{engine: e, session: session}
	var analysis *indicators.Analysis

	acq, err := decision.NewAcquirer(e.llm,
		decision.WithModel(strategy.Model),
		decision.WithClock(e.now),
	)
	if err != nil {
		d.Reason = "acquisition unavailable"
		d.Error = err.Error()
		return d, nil
	}

	var result *decision.Result
	if strategy.Agentic {
		toolbox := decision.NewToolbox(marketName, e.provider, views, views, e.news)
		result, err = acq.Agentic(ctx, mc, toolbox)
		if result != nil && err == nil {
			if candles, ok := toolbox.CachedCandles(analysisInterval); ok {
				a := indicators.Analyze(marketName, analysisInterval, candles)
				analysis = &a
			}
		}
	} else {
		analysis = e.buildPassiveContext(ctx, mc, views)
		result, err = acq.Passive(ctx, mc)
	}
	if err != nil {
		d.Bias = string(decision.BiasNeutral)
		d.Reason = "model provider error"
		d.Error = err.Error()
		return d, nil
	}

	intent := result.Intent
	d.Bias = string(intent.Bias)
	d.Confidence = intent.Confidence
	d.Reasoning = intent.Reasoning
	d.Model = result.Model
	d.RawResponse = result.RawResponse
	d.PromptTokens = result.Usage.PromptTokens
	d.CompletionTokens = result.Usage.CompletionTokens
	d.ToolCalls = result.ToolCalls
	d.Fallback = result.Fallback
	if encoded, err := json.Marshal(intent); err == nil {
		d.Intent = encoded
	}

	if e.biller != nil && result.Usage.TotalTokens > 0 {
		if err := e.biller.Charge(ctx, session.ID, result.Model,
			result.Usage.PromptTokens, result.Usage.CompletionTokens); err != nil {
			d.Error = fmt.Sprintf("billing: %v", err)
			return d, fmt.Errorf("%w: %v", ErrBilling, err)
		}
	}

	if intent.Bias == decision.BiasClose {
		return d, e.handleClose(ctx, session, strategy, exec, position, price, d)
	}

	input, err := e.buildGateInput(ctx, session, strategy, intent, position, analysis, account, marketName, mc)
	if err != nil {
		d.Reason = "session state unavailable"
		d.Error = err.Error()
		return d, nil
	}

	verdict := risk.Evaluate(strategy, input)
	d.Passed = verdict.Passed
	d.Stage = verdict.Stage
	d.Reason = verdict.Reason
	d.EntryType = verdict.EntryType
	d.NotionalUSD = verdict.NotionalUSD
	d.Leverage = verdict.Leverage
	if !verdict.Passed {
		return d, nil
	}

	placed, err := e.router.Place(ctx, exec, broker.OrderRequest{
		SessionID:   session.ID,
		Mode:        session.Mode,
		Venue:       session.Venue,
		Market:      marketName,
		Side:        sideForBias(intent.Bias),
		NotionalUSD: verdict.NotionalUSD,
		MarkPrice:   price,
		Leverage:    float64(verdict.Leverage),
		SlippageBps: strategy.ToleranceBps,
		FeeBps:      strategy.FeeBps,
	})
	if err != nil {
		d.OrderErr = err.Error()
		return d, err
	}
	if !placed.Success {
		d.OrderErr = placed.Error
		return d, nil
	}
	d.Executed = true

	// Entry-type and exit levels ride on the stored position for later
	// ticks' classifiers and exit evaluation.
	e.annotatePosition(ctx, session, marketName, verdict.EntryType, intent)
	return d, nil
}

// handleClose routes an AI-requested exit. Signal closes respect min
// hold like rule-based exits; the decision record carries the outcome.
func (e *Engine) handleClose(ctx context.Context, session *Session, strategy *risk.Strategy, exec broker.Executor, position *broker.Position, price float64, d *Decision) error {
	d.Stage = StageExit
	if position == nil {
		d.Reason = "close requested with no open position"
		return nil
	}

	minHold := time.Duration(strategy.MinHoldMinutes) * time.Minute
	if age := position.AgeAt(e.now()); age < minHold {
		d.Reason = fmt.Sprintf("close suppressed: position age %s under min hold %dm",
			age.Round(time.Second), strategy.MinHoldMinutes)
		return nil
	}

	result, err := e.closePosition(ctx, session, strategy, exec, position, price)
	if err != nil {
		d.OrderErr = err.Error()
		return err
	}
	if !result.Success {
		d.OrderErr = result.Error
		d.Reason = "exit order failed"
		return nil
	}
	d.Passed = true
	d.Reason = "closed by model signal"
	d.Executed = true
	return nil
}

// buildGateInput assembles the session snapshot the risk gate judges.
func (e *Engine) buildGateInput(ctx context.Context, session *Session, strategy *risk.Strategy, intent *decision.Intent, position *broker.Position, analysis *indicators.Analysis, account *broker.Account, marketName string, mc *decision.MarketContext) (*risk.Input, error) {
	if account == nil {
		return nil, fmt.Errorf("no account for session %s", session.ID)
	}

	positions, err := e.stores.Broker.Positions.List(ctx, session.Mode, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	var exposure float64
	for i := range positions {
		exposure += positions[i].Notional()
	}

	now := e.now()
	hourCount, err := e.stores.Broker.Trades.CountEntriesSince(ctx, session.Mode, session.ID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count hourly trades: %w", err)
	}
	dayCount, err := e.stores.Broker.Trades.CountEntriesSince(ctx, session.Mode, session.ID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count daily trades: %w", err)
	}
	lastFill, err := e.stores.Broker.Trades.LastFillAt(ctx, session.Mode, session.ID, marketName)
	if err != nil {
		return nil, fmt.Errorf("last fill: %w", err)
	}

	return &risk.Input{
		Intent:         intent,
		Position:       position,
		Analysis:       analysis,
		Venue:          session.Venue,
		Equity:         account.Equity,
		Cash:           account.Cash,
		Exposure:       exposure,
		TradesLastHour: hourCount,
		TradesLastDay:  dayCount,
		LastFillAt:     lastFill,
		SignalCount:    countSignals(mc.Snapshots, intent.Bias),
		Now:            now,
	}, nil
}

// buildPassiveContext pre-fetches everything the passive prompt embeds.
// Individual fetch failures degrade the prompt instead of failing the
// market; the model decides with what it has.
func (e *Engine) buildPassiveContext(ctx context.Context, mc *decision.MarketContext, views *sessionViews) *indicators.Analysis {
	mc.Candles = make(map[string][]market.Candle, len(contextIntervals))
	var analysis *indicators.Analysis
	for _, interval := range contextIntervals {
		candles, err := e.provider.Candles(ctx, mc.Market, interval, contextCandleLimit)
		if err != nil {
			logx.WithContext(ctx).Errorf("[engine] candles %s %s: %v", mc.Market, interval, err)
			continue
		}
		mc.Candles[interval] = candles
		mc.Snapshots = append(mc.Snapshots, indicators.Compute(interval, candles))
		if interval == analysisInterval {
			a := indicators.Analyze(mc.Market, interval, candles)
			analysis = &a
			mc.Analysis = analysis
		}
	}

	if book, err := e.provider.Orderbook(ctx, mc.Market, contextBookDepth); err == nil {
		mc.Orderbook = book
	} else {
		logx.WithContext(ctx).Errorf("[engine] orderbook %s: %v", mc.Market, err)
	}

	if records, err := views.RecentDecisions(ctx, mc.Market, contextHistoryLimit); err == nil {
		mc.Decisions = records
	}
	if trades, err := views.RecentTrades(ctx, mc.Market, contextHistoryLimit); err == nil {
		mc.Trades = trades
	}
	if e.news != nil {
		if headlines, err := e.news.Headlines(ctx, mc.Market, contextHistoryLimit); err == nil {
			mc.News = headlines
		}
	}
	return analysis
}

// annotatePosition stamps the classifier label and the model's exit
// levels onto the freshly written position row.
func (e *Engine) annotatePosition(ctx context.Context, session *Session, marketName, entryType string, intent *decision.Intent) {
	pos, err := e.stores.Broker.Positions.Get(ctx, session.Mode, session.ID, marketName)
	if err != nil || pos == nil {
		return
	}
	pos.EntryType = entryType
	if intent.StopLoss > 0 {
		sl := intent.StopLoss
		pos.StopLoss = &sl
	}
	if intent.TakeProfit > 0 {
		tp := intent.TakeProfit
		pos.TakeProfit = &tp
	}
	pos.UpdatedAt = e.now()
	if err := e.stores.Broker.Positions.Upsert(ctx, session.Mode, pos); err != nil {
		logx.WithContext(ctx).Errorf("[engine] annotate position %s: %v", marketName, err)
	}
}

// countSignals counts indicator snapshots agreeing with the bias, used
// by the confirmation check.
func countSignals(snapshots []indicators.Snapshot, bias decision.Bias) int {
	if bias != decision.BiasLong && bias != decision.BiasShort {
		return 0
	}
	long := bias == decision.BiasLong
	count := 0
	for _, s := range snapshots {
		if s.EMA20 == 0 || s.EMA50 == 0 {
			continue
		}
		emaUp := s.EMA20 > s.EMA50
		macdUp := s.MACDHist > 0
		if emaUp == long {
			count++
		}
		if macdUp == long {
			count++
		}
	}
	return count
}

func sideForBias(b decision.Bias) broker.Side {
	if b == decision.BiasShort {
		return broker.SideShort
	}
	return broker.SideLong
}

// sessionViews adapts the stores to the decision package's read-only
// views for tools and prompt building.
type sessionViews struct {
	engine  *Engine
	session *Session
}

func (v *sessionViews) Positions(ctx context.Context) ([]broker.Position, error) {
	return v.engine.stores.Broker.Positions.List(ctx, v.session.Mode, v.session.ID)
}

func (v *sessionViews) Account(ctx context.Context) (*broker.Account, error) {
	return v.engine.stores.Broker.Accounts.Get(ctx, v.session.Mode, v.session.ID)
}

func (v *sessionViews) RecentDecisions(ctx context.Context, marketName string, limit int) ([]decision.DecisionSummary, error) {
	records, err := v.engine.stores.Decisions.RecentForMarkets(ctx, v.session.Mode, v.session.ID, []string{marketName}, limit)
	if err != nil {
		return nil, err
	}
	out := make([]decision.DecisionSummary, 0, len(records))
	for _, r := range records {
		out = append(out, decision.DecisionSummary{
			Time:       r.CreatedAt.UTC().Format(time.RFC3339),
			Market:     r.Market,
			Bias:       r.Bias,
			Confidence: r.Confidence,
			Passed:     r.Passed,
			Reason:     r.Reason,
		})
	}
	return out, nil
}

func (v *sessionViews) RecentTrades(ctx context.Context, marketName string, limit int) ([]broker.Trade, error) {
	trades, err := v.engine.stores.Broker.Trades.Recent(ctx, v.session.Mode, v.session.ID, limit*4)
	if err != nil {
		return nil, err
	}
	out := make([]broker.Trade, 0, limit)
	for _, t := range trades {
		if t.Market != marketName {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
