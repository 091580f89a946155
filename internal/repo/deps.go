// Package repo implements the persistence contracts from pkg/broker and
// pkg/engine against Postgres. Trading tables are partitioned by
// execution mode via table-name prefixes (virtual_, live_, arena_); the
// shared sessions table carries the mode column instead.
package repo

import (
	"context"
	"errors"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"arena-api/pkg/broker"
	"arena-api/pkg/engine"
)

// Dependencies bundles shared infrastructure for repository construction.
type Dependencies struct {
	DBConn sqlx.SqlConn
}

// SessionLister enumerates sessions for the cron scheduler; the engine
// itself never needs more than Get.
type SessionLister interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// Set exposes strongly typed repositories to application logic.
type Set struct {
	Sessions    engine.SessionStore
	SessionList SessionLister
	Decisions   engine.DecisionStore
	Equity      engine.EquityStore
	Positions   broker.PositionStore
	Trades      broker.TradeStore
	Accounts    broker.AccountStore
}

// New constructs the repository set, validating required dependencies.
func New(deps Dependencies) (*Set, error) {
	if deps.DBConn == nil {
		return nil, errors.New("repo: missing DBConn dependency")
	}

	sessions := newSessionsRepo(deps)
	return &Set{
		Sessions:    sessions,
		SessionList: sessions,
		Decisions:   newDecisionsRepo(deps),
		Equity:      newEquityRepo(deps),
		Positions:   newPositionsRepo(deps),
		Trades:      newTradesRepo(deps),
		Accounts:    newAccountsRepo(deps),
	}, nil
}

// Broker returns the store bundle in the shape the order router expects.
func (s *Set) Broker() broker.Stores {
	return broker.Stores{
		Positions: s.Positions,
		Trades:    s.Trades,
		Accounts:  s.Accounts,
	}
}

// table resolves the mode-prefixed name of a trading table.
func table(mode broker.Mode, base string) string {
	return string(mode) + "_" + base
}
