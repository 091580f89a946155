// Package journal persists one JSON record per tick cycle to a local
// directory, as a flight recorder independent of the database: when a
// session is paused for manual review, the journal is what the operator
// reads first.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DecisionDigest is the per-market slice of a tick record.
type DecisionDigest struct {
	Market      string  `json:"market"`
	Bias        string  `json:"bias,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Passed      bool    `json:"passed"`
	Stage       string  `json:"stage,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	EntryType   string  `json:"entry_type,omitempty"`
	NotionalUSD float64 `json:"notional_usd,omitempty"`
	Leverage    int     `json:"leverage,omitempty"`
	Executed    bool    `json:"executed"`
	OrderErr    string  `json:"order_err,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// EquityDigest is the end-of-tick account mark carried on the record.
type EquityDigest struct {
	Equity        float64 `json:"equity"`
	Cash          float64 `json:"cash"`
	RealizedPnl   float64 `json:"realized_pnl"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	FeesPaid      float64 `json:"fees_paid"`
	TotalPnl      float64 `json:"total_pnl"`
}

// TickRecord captures one complete tick cycle for audit.
type TickRecord struct {
	Timestamp    time.Time        `json:"timestamp"`
	SessionID    string           `json:"session_id"`
	Mode         string           `json:"mode,omitempty"`
	Tick         int64            `json:"tick"`
	Skipped      bool             `json:"skipped,omitempty"`
	SkipReason   string           `json:"skip_reason,omitempty"`
	Exits        int              `json:"exits,omitempty"`
	Decisions    []DecisionDigest `json:"decisions,omitempty"`
	Equity       *EquityDigest    `json:"equity,omitempty"`
	Success      bool             `json:"success"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Writer appends tick records to a directory, one JSON file each.
type Writer struct {
	dir   string
	nowFn func() time.Time

	mu  sync.Mutex
	seq int
}

// Option customizes a Writer.
type Option func(*Writer)

// WithClock injects a deterministic time source for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.nowFn = now
		}
	}
}

// NewWriter constructs a journal writer rooted at dir.
func NewWriter(dir string, opts ...Option) (*Writer, error) {
	if dir == "" {
		dir = "journal"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
	}
	w := &Writer{dir: dir, nowFn: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write persists one tick record and returns the file path.
func (w *Writer) Write(rec *TickRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	name := fmt.Sprintf("tick_%s_%s_%05d.json",
		rec.SessionID, rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("journal: encode record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("journal: write %s: %w", path, err)
	}
	return path, nil
}
