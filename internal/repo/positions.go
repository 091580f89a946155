package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"arena-api/pkg/broker"
)

type positionsRepo struct {
	conn sqlx.SqlConn
}

func newPositionsRepo(deps Dependencies) broker.PositionStore {
	return &positionsRepo{conn: deps.DBConn}
}

const positionColumns = `
    id,
    session_id,
    market,
    side,
    size,
    entry_price,
    leverage,
    peak_price,
    stop_loss,
    take_profit,
    entry_type,
    opened_at,
    updated_at`

func (r *positionsRepo) Get(ctx context.Context, mode broker.Mode, sessionID, market string) (*broker.Position, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM public.%s
WHERE session_id = $1 AND market = $2`, positionColumns, table(mode, "positions"))

	var row positionRow
	if err := r.conn.QueryRowCtx(ctx, &row, query, sessionID, market); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("positionsRepo.Get query: %w", err)
	}
	return row.toPosition(), nil
}

func (r *positionsRepo) List(ctx context.Context, mode broker.Mode, sessionID string) ([]broker.Position, error) {
	query := fmt.Sprintf(`
SELECT %s
FROM public.%s
WHERE session_id = $1
ORDER BY market`, positionColumns, table(mode, "positions"))

	var rows []positionRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("positionsRepo.List query: %w", err)
	}

	result := make([]broker.Position, 0, len(rows))
	for _, row := range rows {
		result = append(result, *row.toPosition())
	}
	return result, nil
}

func (r *positionsRepo) Upsert(ctx context.Context, mode broker.Mode, p *broker.Position) error {
	query := fmt.Sprintf(`
INSERT INTO public.%s
    (session_id, market, side, size, entry_price, leverage, peak_price,
     stop_loss, take_profit, entry_type, opened_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (session_id, market) DO UPDATE SET
    side = EXCLUDED.side,
    size = EXCLUDED.size,
    entry_price = EXCLUDED.entry_price,
    leverage = EXCLUDED.leverage,
    peak_price = EXCLUDED.peak_price,
    stop_loss = EXCLUDED.stop_loss,
    take_profit = EXCLUDED.take_profit,
    entry_type = EXCLUDED.entry_type,
    opened_at = EXCLUDED.opened_at,
    updated_at = now()`, table(mode, "positions"))

	_, err := r.conn.ExecCtx(ctx, query,
		p.SessionID, p.Market, string(p.Side), p.Size, p.EntryPrice, p.Leverage,
		nullFloat(p.PeakPrice), nullFloat(p.StopLoss), nullFloat(p.TakeProfit),
		p.EntryType, p.OpenedAt)
	if err != nil {
		return fmt.Errorf("positionsRepo.Upsert exec: %w", err)
	}
	return nil
}

func (r *positionsRepo) Delete(ctx context.Context, mode broker.Mode, sessionID, market string) error {
	query := fmt.Sprintf(`
DELETE FROM public.%s
WHERE session_id = $1 AND market = $2`, table(mode, "positions"))

	if _, err := r.conn.ExecCtx(ctx, query, sessionID, market); err != nil {
		return fmt.Errorf("positionsRepo.Delete exec: %w", err)
	}
	return nil
}

type positionRow struct {
	ID         int64           `db:"id"`
	SessionID  string          `db:"session_id"`
	Market     string          `db:"market"`
	Side       string          `db:"side"`
	Size       float64         `db:"size"`
	EntryPrice float64         `db:"entry_price"`
	Leverage   float64         `db:"leverage"`
	PeakPrice  sql.NullFloat64 `db:"peak_price"`
	StopLoss   sql.NullFloat64 `db:"stop_loss"`
	TakeProfit sql.NullFloat64 `db:"take_profit"`
	EntryType  string          `db:"entry_type"`
	OpenedAt   sql.NullTime    `db:"opened_at"`
	UpdatedAt  sql.NullTime    `db:"updated_at"`
}

func (row *positionRow) toPosition() *broker.Position {
	p := &broker.Position{
		ID:         row.ID,
		SessionID:  row.SessionID,
		Market:     row.Market,
		Side:       broker.Side(row.Side),
		Size:       row.Size,
		EntryPrice: row.EntryPrice,
		Leverage:   row.Leverage,
		EntryType:  row.EntryType,
	}
	if row.PeakPrice.Valid {
		value := row.PeakPrice.Float64
		p.PeakPrice = &value
	}
	if row.StopLoss.Valid {
		value := row.StopLoss.Float64
		p.StopLoss = &value
	}
	if row.TakeProfit.Valid {
		value := row.TakeProfit.Float64
		p.TakeProfit = &value
	}
	if row.OpenedAt.Valid {
		p.OpenedAt = row.OpenedAt.Time
	}
	if row.UpdatedAt.Valid {
		p.UpdatedAt = row.UpdatedAt.Time
	}
	return p
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
