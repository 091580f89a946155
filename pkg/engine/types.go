// Package engine drives the tick lifecycle: session locking, the exit
// pre-pass, decision acquisition, the risk gate, order routing and
// end-of-tick accounting. One RunTick call is one complete cycle for one
// session.
package engine

import (
	"errors"
	"time"

	"arena-api/pkg/broker"
)

// Session status values.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Tick outcome errors surfaced to the HTTP layer for status mapping.
// Paused sessions and held locks are not errors; they produce skipped
// tick results.
var (
	ErrSessionNotFound = errors.New("engine: session not found")
	ErrStrategy        = errors.New("engine: invalid strategy configuration")
	ErrBilling         = errors.New("engine: billing failed")
)

// Session is one trading session row. The strategy blob is resolved into
// a risk.Strategy at the start of every tick so config edits take effect
// on the next cycle without a restart.
type Session struct {
	ID               string
	Name             string
	Mode             broker.Mode
	Venue            broker.Venue
	Status           string
	PausedReason     string
	Strategy         []byte
	CredentialSource string // live mode: where the venue key comes from
	TickCount        int64
	LastTickAt       time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Active reports whether the session may tick.
func (s *Session) Active() bool {
	return s.Status == StatusActive
}

// Decision is the per-market audit record. Every market processed in a
// tick writes exactly one row, whether the intent executed, was rejected,
// or the market failed outright.
type Decision struct {
	ID        int64
	SessionID string
	Market    string
	TickCount int64

	Bias       string
	Confidence float64
	Intent     []byte // raw intent JSON, nil when acquisition failed
	Reasoning  string

	Model            string
	RawResponse      string
	PromptTokens     int
	CompletionTokens int
	ToolCalls        int
	Fallback         bool

	Passed      bool
	Stage       string
	Reason      string
	EntryType   string
	NotionalUSD float64
	Leverage    int

	Executed bool
	OrderErr string
	Error    string

	CreatedAt time.Time
}

// EquitySnapshot is the end-of-tick account mark used for the equity
// curve and the reconciliation identity.
type EquitySnapshot struct {
	ID            int64
	SessionID     string
	TickCount     int64
	Equity        float64
	Cash          float64
	RealizedPnl   float64
	UnrealizedPnl float64
	FeesPaid      float64
	TotalPnl      float64
	CreatedAt     time.Time
}
