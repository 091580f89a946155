package hyperliquid

import (
	"encoding/json"
	"fmt"
)

// Wire types for the subset of the Hyperliquid API this engine uses:
// IOC limit orders, cancels, leverage updates and clearinghouse reads.
// Field order matters for msgpack signing, so payload structs mirror the
// venue's abbreviated key layout exactly.

// ActionType enumerates supported exchange actions.
type ActionType string

const (
	ActionTypeOrder          ActionType = "order"
	ActionTypeCancel         ActionType = "cancel"
	ActionTypeUpdateLeverage ActionType = "updateLeverage"
)

// Action is the payload signed and sent to the exchange endpoint.
type Action struct {
	Type     ActionType      `json:"type" msgpack:"type"`
	Orders   []orderPayload  `json:"orders,omitempty" msgpack:"orders,omitempty"`
	Cancels  []cancelPayload `json:"cancels,omitempty" msgpack:"cancels,omitempty"`
	Grouping string          `json:"grouping,omitempty" msgpack:"grouping,omitempty"`
	Asset    *int            `json:"asset,omitempty" msgpack:"asset,omitempty"`
	IsCross  *bool           `json:"isCross,omitempty" msgpack:"isCross,omitempty"`
	Leverage int             `json:"leverage,omitempty" msgpack:"leverage,omitempty"`
}

type orderPayload struct {
	Asset      int              `json:"a" msgpack:"a"`
	IsBuy      bool             `json:"b" msgpack:"b"`
	LimitPx    string           `json:"p" msgpack:"p"`
	Sz         string           `json:"s" msgpack:"s"`
	ReduceOnly bool             `json:"r" msgpack:"r"`
	OrderType  orderTypePayload `json:"t" msgpack:"t"`
	Cloid      string           `json:"c,omitempty" msgpack:"c,omitempty"`
}

type orderTypePayload struct {
	Limit *limitOrderPayload `json:"limit,omitempty" msgpack:"limit,omitempty"`
}

type limitOrderPayload struct {
	TIF string `json:"tif" msgpack:"tif"` // "Alo", "Ioc" or "Gtc"
}

type cancelPayload struct {
	Asset int   `json:"a" msgpack:"a"`
	Oid   int64 `json:"o" msgpack:"o"`
}

// ExchangeRequest is the signed envelope for exchange actions.
type ExchangeRequest struct {
	Action       Action    `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress string    `json:"vaultAddress,omitempty"`
}

// Signature is an ECDSA signature in the venue's R/S/V form.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// InfoRequest targets the unauthenticated info endpoint.
type InfoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

// OrderResponse is the exchange's reply to an order action.
type OrderResponse struct {
	Status   string            `json:"status"` // "ok" or "err"
	Response OrderResponseData `json:"response"`
}

// OrderResponseData wraps the per-order statuses.
type OrderResponseData struct {
	Type string `json:"type"`
	Data struct {
		Statuses []OrderStatus `json:"statuses"`
	} `json:"data"`
}

// OrderStatus reports one order's outcome.
type OrderStatus struct {
	Resting *RestingOrder `json:"resting,omitempty"`
	Filled  *FilledOrder  `json:"filled,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// RestingOrder identifies an order left on the book.
type RestingOrder struct {
	Oid int64 `json:"oid"`
}

// FilledOrder reports a match.
type FilledOrder struct {
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
	Oid     int64  `json:"oid"`
}

// ClearinghouseState is the authoritative account snapshot.
type ClearinghouseState struct {
	MarginSummary  MarginSummary   `json:"marginSummary"`
	AssetPositions []AssetPosition `json:"assetPositions"`
}

// MarginSummary consolidates account-level margin metrics.
type MarginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalMarginUsed string `json:"totalMarginUsed"`
	TotalNtlPos     string `json:"totalNtlPos"`
	TotalRawUSD     string `json:"totalRawUsd"`
}

// AssetPosition wraps one open position.
type AssetPosition struct {
	Position RawPosition `json:"position"`
}

// RawPosition mirrors the venue's position payload; Szi is signed size.
type RawPosition struct {
	Coin          string      `json:"coin"`
	EntryPx       string      `json:"entryPx"`
	Szi           string      `json:"szi"`
	UnrealizedPnl string      `json:"unrealizedPnl"`
	Leverage      RawLeverage `json:"leverage"`
}

// RawLeverage carries leverage mode and multiplier.
type RawLeverage struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

// MetaAndAssetCtxsResponse pairs the asset universe with per-asset context.
type MetaAndAssetCtxsResponse struct {
	Universe  []AssetUniverseEntry `json:"universe"`
	AssetCtxs []AssetCtx           `json:"assetCtxs"`
}

// UnmarshalJSON accepts both the object form and the legacy two-element
// array form of the metaAndAssetCtxs payload.
func (m *MetaAndAssetCtxsResponse) UnmarshalJSON(data []byte) error {
	type alias MetaAndAssetCtxsResponse
	var object alias
	if err := json.Unmarshal(data, &object); err == nil && (len(object.Universe) > 0 || len(object.AssetCtxs) > 0) {
		m.Universe = object.Universe
		m.AssetCtxs = object.AssetCtxs
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs decode: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs empty payload")
	}
	var universeHolder struct {
		Universe []AssetUniverseEntry `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &universeHolder); err != nil {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs universe: %w", err)
	}
	m.Universe = universeHolder.Universe
	if len(raw) > 1 {
		if err := json.Unmarshal(raw[1], &m.AssetCtxs); err != nil {
			return fmt.Errorf("hyperliquid: metaAndAssetCtxs assetCtxs: %w", err)
		}
	}
	return nil
}

// AssetUniverseEntry describes one listed asset.
type AssetUniverseEntry struct {
	Name        string  `json:"name"`
	SzDecimals  int     `json:"szDecimals"`
	MaxLeverage float64 `json:"maxLeverage"`
	IsDelisted  bool    `json:"isDelisted"`
}

// AssetCtx carries per-asset pricing context.
type AssetCtx struct {
	Funding   string `json:"funding"`
	OraclePx  string `json:"oraclePx"`
	MarkPx    string `json:"markPx"`
	MidPx     string `json:"midPx"`
	PrevDayPx string `json:"prevDayPx"`
}

// AssetInfo is the cached directory entry used when building orders.
type AssetInfo struct {
	Name        string
	Index       int
	SzDecimals  int
	MaxLeverage float64
	IsDelisted  bool
	MarkPx      string
	MidPx       string
	OraclePx    string
}
