package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"arena-api/pkg/broker"
)

type tradesRepo struct {
	conn sqlx.SqlConn
}

func newTradesRepo(deps Dependencies) broker.TradeStore {
	return &tradesRepo{conn: deps.DBConn}
}

func (r *tradesRepo) Insert(ctx context.Context, mode broker.Mode, t *broker.Trade) error {
	query := fmt.Sprintf(`
INSERT INTO public.%s
    (session_id, market, action, side, size, price, notional, fee,
     realized_pnl, leverage, order_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`, table(mode, "trades"))

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err := r.conn.QueryRowCtx(ctx, &id, query,
		t.SessionID, t.Market, string(t.Action), string(t.Side),
		t.Size, t.Price, t.Notional, t.Fee,
		t.RealizedPnl, t.Leverage, nullString(t.OrderID), createdAt)
	if err != nil {
		return fmt.Errorf("tradesRepo.Insert query: %w", err)
	}
	t.ID = id
	t.CreatedAt = createdAt
	return nil
}

func (r *tradesRepo) CountEntriesSince(ctx context.Context, mode broker.Mode, sessionID string, since time.Time) (int, error) {
	query := fmt.Sprintf(`
SELECT count(*)
FROM public.%s
WHERE session_id = $1 AND action = 'open' AND created_at >= $2`, table(mode, "trades"))

	var count int
	if err := r.conn.QueryRowCtx(ctx, &count, query, sessionID, since); err != nil {
		return 0, fmt.Errorf("tradesRepo.CountEntriesSince query: %w", err)
	}
	return count, nil
}

func (r *tradesRepo) LastFillAt(ctx context.Context, mode broker.Mode, sessionID, market string) (time.Time, error) {
	query := fmt.Sprintf(`
SELECT max(created_at)
FROM public.%s
WHERE session_id = $1 AND market = $2`, table(mode, "trades"))

	var last sql.NullTime
	if err := r.conn.QueryRowCtx(ctx, &last, query, sessionID, market); err != nil {
		return time.Time{}, fmt.Errorf("tradesRepo.LastFillAt query: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}

func (r *tradesRepo) Recent(ctx context.Context, mode broker.Mode, sessionID string, limit int) ([]broker.Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
SELECT
    id,
    session_id,
    market,
    action,
    side,
    size,
    price,
    notional,
    fee,
    realized_pnl,
    leverage,
    order_id,
    created_at
FROM public.%s
WHERE session_id = $1
ORDER BY created_at DESC
LIMIT $2`, table(mode, "trades"))

	var rows []tradeRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, sessionID, limit); err != nil {
		return nil, fmt.Errorf("tradesRepo.Recent query: %w", err)
	}

	result := make([]broker.Trade, 0, len(rows))
	for _, row := range rows {
		t := broker.Trade{
			ID:          row.ID,
			SessionID:   row.SessionID,
			Market:      row.Market,
			Action:      broker.TradeAction(row.Action),
			Side:        broker.Side(row.Side),
			Size:        row.Size,
			Price:       row.Price,
			Notional:    row.Notional,
			Fee:         row.Fee,
			RealizedPnl: row.RealizedPnl,
			Leverage:    row.Leverage,
			CreatedAt:   row.CreatedAt,
		}
		if row.OrderID.Valid {
			t.OrderID = row.OrderID.String
		}
		result = append(result, t)
	}
	return result, nil
}

type tradeRow struct {
	ID          int64          `db:"id"`
	SessionID   string         `db:"session_id"`
	Market      string         `db:"market"`
	Action      string         `db:"action"`
	Side        string         `db:"side"`
	Size        float64        `db:"size"`
	Price       float64        `db:"price"`
	Notional    float64        `db:"notional"`
	Fee         float64        `db:"fee"`
	RealizedPnl float64        `db:"realized_pnl"`
	Leverage    float64        `db:"leverage"`
	OrderID     sql.NullString `db:"order_id"`
	CreatedAt   time.Time      `db:"created_at"`
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
