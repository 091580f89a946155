package handler

import (
	"errors"
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"arena-api/internal/svc"
	"arena-api/pkg/broker"
	"arena-api/pkg/engine"
)

type TickRequest struct {
	SessionID string `path:"sessionId"`
}

type TickDecision struct {
	Market      string  `json:"market"`
	Bias        string  `json:"bias,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Passed      bool    `json:"passed"`
	Stage       string  `json:"stage,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	EntryType   string  `json:"entryType,omitempty"`
	NotionalUSD float64 `json:"notionalUsd,omitempty"`
	Leverage    int     `json:"leverage,omitempty"`
	Executed    bool    `json:"executed"`
	Error       string  `json:"error,omitempty"`
}

type TickResponse struct {
	Success       bool           `json:"success"`
	Skipped       bool           `json:"skipped,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	MinIntervalMs int64          `json:"minIntervalMs,omitempty"`
	Tick          int64          `json:"tick,omitempty"`
	Exits         int            `json:"exits,omitempty"`
	Decisions     []TickDecision `json:"decisions,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// TickHandler triggers one tick cycle for a session. Lock contention and
// paused sessions answer 200 with a skip payload; real failures map to
// 400 (bad strategy config), 402 (billing), 404 (unknown session) or 500.
func TickHandler(serverCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TickRequest
		if err := httpx.Parse(r, &req); err != nil {
			httpx.WriteJsonCtx(r.Context(), w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		res, err := serverCtx.Engine.RunTick(r.Context(), req.SessionID)
		if err != nil {
			httpx.WriteJsonCtx(r.Context(), w, tickStatus(err), errorResponse{Error: err.Error()})
			return
		}

		if res.Skipped {
			httpx.WriteJsonCtx(r.Context(), w, http.StatusOK, TickResponse{
				Skipped:       true,
				Reason:        res.SkipReason,
				MinIntervalMs: res.MinInterval.Milliseconds(),
			})
			return
		}

		resp := TickResponse{
			Success: true,
			Tick:    res.TickCount,
			Exits:   res.Exits,
		}
		for _, d := range res.Decisions {
			resp.Decisions = append(resp.Decisions, TickDecision{
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
				Error:       d.Error,
			})
		}
		httpx.WriteJsonCtx(r.Context(), w, http.StatusOK, resp)
	}
}

func tickStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrStrategy):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrBilling):
		return http.StatusPaymentRequired
	case errors.Is(err, broker.ErrFillUnrecorded):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
