package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"arena-api/pkg/broker"
	"arena-api/pkg/engine"
)

type sessionsRepo struct {
	conn sqlx.SqlConn
}

func newSessionsRepo(deps Dependencies) *sessionsRepo {
	return &sessionsRepo{conn: deps.DBConn}
}

// ListActiveIDs returns the ids of every active session, for the cron
// scheduler. The engine re-reads the full row under the tick lock, so ids
// are all the scheduler needs.
func (r *sessionsRepo) ListActiveIDs(ctx context.Context) ([]string, error) {
	query := `
SELECT id
FROM public.sessions
WHERE status = $1
ORDER BY last_tick_at NULLS FIRST`

	var ids []string
	if err := r.conn.QueryRowsCtx(ctx, &ids, query, engine.StatusActive); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessionsRepo.ListActiveIDs query: %w", err)
	}
	return ids, nil
}

func (r *sessionsRepo) Get(ctx context.Context, id string) (*engine.Session, error) {
	query := `
SELECT
    id,
    name,
    mode,
    venue,
    status,
    paused_reason,
    strategy,
    credential_source,
    tick_count,
    last_tick_at,
    created_at,
    updated_at
FROM public.sessions
WHERE id = $1`

	var row sessionRow
	if err := r.conn.QueryRowCtx(ctx, &row, query, id); err != nil {
		if errors.Is(err, sqlx.ErrNotFound) {
			return nil, engine.ErrSessionNotFound
		}
		return nil, fmt.Errorf("sessionsRepo.Get query: %w", err)
	}

	mode, err := broker.ParseMode(row.Mode)
	if err != nil {
		return nil, fmt.Errorf("sessionsRepo.Get session %s: %w", id, err)
	}

	s := &engine.Session{
		ID:        row.ID,
		Name:      row.Name,
		Mode:      mode,
		Venue:     broker.Venue(row.Venue),
		Status:    row.Status,
		Strategy:  []byte(row.Strategy),
		TickCount: row.TickCount,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.PausedReason.Valid {
		s.PausedReason = row.PausedReason.String
	}
	if row.CredentialSource.Valid {
		s.CredentialSource = row.CredentialSource.String
	}
	if row.LastTickAt.Valid {
		s.LastTickAt = row.LastTickAt.Time
	}
	return s, nil
}

func (r *sessionsRepo) RecordTick(ctx context.Context, id string, tickCount int64, at time.Time) error {
	query := `
UPDATE public.sessions
SET tick_count = $2, last_tick_at = $3, updated_at = now()
WHERE id = $1`

	if _, err := r.conn.ExecCtx(ctx, query, id, tickCount, at); err != nil {
		return fmt.Errorf("sessionsRepo.RecordTick exec: %w", err)
	}
	return nil
}

func (r *sessionsRepo) Pause(ctx context.Context, id, reason string) error {
	query := `
UPDATE public.sessions
SET status = $2, paused_reason = $3, updated_at = now()
WHERE id = $1`

	if _, err := r.conn.ExecCtx(ctx, query, id, engine.StatusPaused, reason); err != nil {
		return fmt.Errorf("sessionsRepo.Pause exec: %w", err)
	}
	return nil
}

type sessionRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Mode             string         `db:"mode"`
	Venue            string         `db:"venue"`
	Status           string         `db:"status"`
	PausedReason     sql.NullString `db:"paused_reason"`
	Strategy         string         `db:"strategy"`
	CredentialSource sql.NullString `db:"credential_source"`
	TickCount        int64          `db:"tick_count"`
	LastTickAt       sql.NullTime   `db:"last_tick_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}
