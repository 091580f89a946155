package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"arena-api/pkg/broker"
	"arena-api/pkg/engine"
)

type equityRepo struct {
	conn sqlx.SqlConn
}

func newEquityRepo(deps Dependencies) engine.EquityStore {
	return &equityRepo{conn: deps.DBConn}
}

func (r *equityRepo) Insert(ctx context.Context, mode broker.Mode, s *engine.EquitySnapshot) error {
	query := fmt.Sprintf(`
INSERT INTO public.%s
    (session_id, tick_count, equity, cash, realized_pnl, unrealized_pnl,
     fees_paid, total_pnl, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`, table(mode, "equity_snapshots"))

	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err := r.conn.QueryRowCtx(ctx, &id, query,
		s.SessionID, s.TickCount, s.Equity, s.Cash, s.RealizedPnl,
		s.UnrealizedPnl, s.FeesPaid, s.TotalPnl, createdAt)
	if err != nil {
		return fmt.Errorf("equityRepo.Insert query: %w", err)
	}
	s.ID = id
	s.CreatedAt = createdAt
	return nil
}

func (r *equityRepo) Latest(ctx context.Context, mode broker.Mode, sessionID string) (*engine.EquitySnapshot, error) {
	query := fmt.Sprintf(`
SELECT
    id,
    session_id,
    tick_count,
    equity,
    cash,
    realized_pnl,
    unrealized_pnl,
    fees_paid,
    total_pnl,
    created_at
FROM public.%s
WHERE session_id = $1
ORDER BY created_at DESC
LIMIT 1`, table(mode, "equity_snapshots"))

	var row equityRow
	if err := r.conn.QueryRowCtx(ctx, &row, query, sessionID); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("equityRepo.Latest query: %w", err)
	}

	return &engine.EquitySnapshot{
		ID:            row.ID,
		SessionID:     row.SessionID,
		TickCount:     row.TickCount,
		Equity:        row.Equity,
		Cash:          row.Cash,
		RealizedPnl:   row.RealizedPnl,
		UnrealizedPnl: row.UnrealizedPnl,
		FeesPaid:      row.FeesPaid,
		TotalPnl:      row.TotalPnl,
		CreatedAt:     row.CreatedAt,
	}, nil
}

type equityRow struct {
	ID            int64     `db:"id"`
	SessionID     string    `db:"session_id"`
	TickCount     int64     `db:"tick_count"`
	Equity        float64   `db:"equity"`
	Cash          float64   `db:"cash"`
	RealizedPnl   float64   `db:"realized_pnl"`
	UnrealizedPnl float64   `db:"unrealized_pnl"`
	FeesPaid      float64   `db:"fees_paid"`
	TotalPnl      float64   `db:"total_pnl"`
	CreatedAt     time.Time `db:"created_at"`
}
