package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"arena-api/pkg/broker"
	"arena-api/pkg/engine"
)

type decisionsRepo struct {
	conn sqlx.SqlConn
}

func newDecisionsRepo(deps Dependencies) engine.DecisionStore {
	return &decisionsRepo{conn: deps.DBConn}
}

const decisionColumns = `
    id,
    session_id,
    market,
    tick_count,
    bias,
    confidence,
    intent,
    reasoning,
    model,
    raw_response,
    prompt_tokens,
    completion_tokens,
    tool_calls,
    fallback,
    passed,
    stage,
    reason,
    entry_type,
    notional_usd,
    leverage,
    executed,
    order_err,
    error,
    created_at`

func (r *decisionsRepo) Insert(ctx context.Context, mode broker.Mode, d *engine.Decision) error {
	query := fmt.Sprintf(`
INSERT INTO public.%s
    (session_id, market, tick_count, bias, confidence, intent, reasoning,
     model, raw_response, prompt_tokens, completion_tokens, tool_calls,
     fallback, passed, stage, reason, entry_type, notional_usd, leverage,
     executed, order_err, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
RETURNING id`, table(mode, "decisions"))

	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var id int64
	err := r.conn.QueryRowCtx(ctx, &id, query,
		d.SessionID, d.Market, d.TickCount, d.Bias, d.Confidence,
		nullBytes(d.Intent), d.Reasoning,
		d.Model, d.RawResponse, d.PromptTokens, d.CompletionTokens, d.ToolCalls,
		d.Fallback, d.Passed, d.Stage, d.Reason, d.EntryType, d.NotionalUSD, d.Leverage,
		d.Executed, nullString(d.OrderErr), nullString(d.Error), createdAt)
	if err != nil {
		return fmt.Errorf("decisionsRepo.Insert query: %w", err)
	}
	d.ID = id
	d.CreatedAt = createdAt
	return nil
}

func (r *decisionsRepo) Recent(ctx context.Context, mode broker.Mode, sessionID string, limit int) ([]engine.Decision, error) {
	return r.query(ctx, mode, sessionID, nil, limit)
}

func (r *decisionsRepo) RecentForMarkets(ctx context.Context, mode broker.Mode, sessionID string, markets []string, limit int) ([]engine.Decision, error) {
	return r.query(ctx, mode, sessionID, markets, limit)
}

func (r *decisionsRepo) query(ctx context.Context, mode broker.Mode, sessionID string, markets []string, limit int) ([]engine.Decision, error) {
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
SELECT %s
FROM public.%s
WHERE session_id = $1
%%s
ORDER BY created_at DESC
LIMIT $2`, decisionColumns, table(mode, "decisions"))

	args := []any{sessionID, limit}
	var clause string
	if len(markets) > 0 {
		clause = "AND market = ANY($3)"
		args = append(args, pq.Array(markets))
	}
	finalQuery := fmt.Sprintf(query, clause)

	var rows []decisionRow
	if err := r.conn.QueryRowsCtx(ctx, &rows, finalQuery, args...); err != nil {
		return nil, fmt.Errorf("decisionsRepo query: %w", err)
	}

	result := make([]engine.Decision, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDecision())
	}
	return result, nil
}

type decisionRow struct {
	ID               int64          `db:"id"`
	SessionID        string         `db:"session_id"`
	Market           string         `db:"market"`
	TickCount        int64          `db:"tick_count"`
	Bias             string         `db:"bias"`
	Confidence       float64        `db:"confidence"`
	Intent           sql.NullString `db:"intent"`
	Reasoning        string         `db:"reasoning"`
	Model            string         `db:"model"`
	RawResponse      string         `db:"raw_response"`
	PromptTokens     int            `db:"prompt_tokens"`
	CompletionTokens int            `db:"completion_tokens"`
	ToolCalls        int            `db:"tool_calls"`
	Fallback         bool           `db:"fallback"`
	Passed           bool           `db:"passed"`
	Stage            string         `db:"stage"`
	Reason           string         `db:"reason"`
	EntryType        string         `db:"entry_type"`
	NotionalUSD      float64        `db:"notional_usd"`
	Leverage         int            `db:"leverage"`
	Executed         bool           `db:"executed"`
	OrderErr         sql.NullString `db:"order_err"`
	Error            sql.NullString `db:"error"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (row *decisionRow) toDecision() engine.Decision {
	d := engine.Decision{
		ID:               row.ID,
		SessionID:        row.SessionID,
		Market:           row.Market,
		TickCount:        row.TickCount,
		Bias:             row.Bias,
		Confidence:       row.Confidence,
		Reasoning:        row.Reasoning,
		Model:            row.Model,
		RawResponse:      row.RawResponse,
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		ToolCalls:        row.ToolCalls,
		Fallback:         row.Fallback,
		Passed:           row.Passed,
		Stage:            row.Stage,
		Reason:           row.Reason,
		EntryType:        row.EntryType,
		NotionalUSD:      row.NotionalUSD,
		Leverage:         row.Leverage,
		Executed:         row.Executed,
		CreatedAt:        row.CreatedAt,
	}
	if row.Intent.Valid {
		d.Intent = []byte(row.Intent.String)
	}
	if row.OrderErr.Valid {
		d.OrderErr = row.OrderErr.String
	}
	if row.Error.Valid {
		d.Error = row.Error.String
	}
	return d
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
