package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"arena-api/pkg/broker"
)

type accountsRepo struct {
	conn sqlx.SqlConn
}

func newAccountsRepo(deps Dependencies) broker.AccountStore {
	return &accountsRepo{conn: deps.DBConn}
}

func (r *accountsRepo) Get(ctx context.Context, mode broker.Mode, sessionID string) (*broker.Account, error) {
	query := fmt.Sprintf(`
SELECT
    session_id,
    cash,
    starting_equity,
    equity,
    realized_pnl,
    fees_paid,
    updated_at
FROM public.%s
WHERE session_id = $1`, table(mode, "accounts"))

	var row accountRow
	if err := r.conn.QueryRowCtx(ctx, &row, query, sessionID); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("accountsRepo.Get query: %w", err)
	}

	return &broker.Account{
		SessionID:      row.SessionID,
		Cash:           row.Cash,
		StartingEquity: row.StartingEquity,
		Equity:         row.Equity,
		RealizedPnl:    row.RealizedPnl,
		FeesPaid:       row.FeesPaid,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

func (r *accountsRepo) Save(ctx context.Context, mode broker.Mode, a *broker.Account) error {
	query := fmt.Sprintf(`
INSERT INTO public.%s
    (session_id, cash, starting_equity, equity, realized_pnl, fees_paid, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (session_id) DO UPDATE SET
    cash = EXCLUDED.cash,
    starting_equity = EXCLUDED.starting_equity,
    equity = EXCLUDED.equity,
    realized_pnl = EXCLUDED.realized_pnl,
    fees_paid = EXCLUDED.fees_paid,
    updated_at = now()`, table(mode, "accounts"))

	_, err := r.conn.ExecCtx(ctx, query,
		a.SessionID, a.Cash, a.StartingEquity, a.Equity, a.RealizedPnl, a.FeesPaid)
	if err != nil {
		return fmt.Errorf("accountsRepo.Save exec: %w", err)
	}
	return nil
}

type accountRow struct {
	SessionID      string    `db:"session_id"`
	Cash           float64   `db:"cash"`
	StartingEquity float64   `db:"starting_equity"`
	Equity         float64   `db:"equity"`
	RealizedPnl    float64   `db:"realized_pnl"`
	FeesPaid       float64   `db:"fees_paid"`
	UpdatedAt      time.Time `db:"updated_at"`
}
