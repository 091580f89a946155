package hyperliquid

import (
	"encoding/json"
	"fmt"
)

// kline is one OHLCV bar as decoded from candleSnapshot.
type kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// infoRequest is the shared envelope for info endpoint requests. Most
// request types take a top-level coin; candleSnapshot nests its own req.
type infoRequest struct {
	Type string      `json:"type"`
	Coin string      `json:"coin,omitempty"`
	Req  interface{} `json:"req,omitempty"`
}

type candleSnapshotRequest struct {
	Coin      string `json:"coin"`
	Interval  string `json:"interval"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// candleResponse mirrors the candleSnapshot payload.
type candleResponse []struct {
	T      int64   `json:"t"`        // open timestamp (ms)
	TClose int64   `json:"T"`        // close timestamp (ms)
	S      string  `json:"s"`        // symbol
	I      string  `json:"i"`        // interval
	O      float64 `json:"o,string"` // open
	C      float64 `json:"c,string"` // close
	H      float64 `json:"h,string"` // high
	L      float64 `json:"l,string"` // low
	V      float64 `json:"v,string"` // volume
}

// l2BookResponse carries depth levels: index 0 bids, index 1 asks.
type l2BookResponse struct {
	Coin   string          `json:"coin"`
	TimeMs int64           `json:"time"`
	Levels [][]l2BookLevel `json:"levels"`
}

type l2BookLevel struct {
	Px float64 `json:"px,string"`
	Sz float64 `json:"sz,string"`
	N  int     `json:"n"`
}

// metaAndAssetCtxsResponse pairs the asset universe with market context.
type metaAndAssetCtxsResponse struct {
	Universe  []universeEntry
	AssetCtxs []assetCtx
}

type universeEntry struct {
	Name        string  `json:"name"`
	SzDecimals  int     `json:"szDecimals"`
	MaxLeverage float64 `json:"maxLeverage"`
	IsDelisted  bool    `json:"isDelisted"`
}

type assetCtx struct {
	Funding      string `json:"funding"`
	OpenInterest string `json:"openInterest"`
	PrevDayPx    string `json:"prevDayPx"`
	OraclePx     string `json:"oraclePx"`
	MarkPx       string `json:"markPx"`
	MidPx        string `json:"midPx"`
}

// UnmarshalJSON accepts both documented and live API payload shapes.
func (m *metaAndAssetCtxsResponse) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch len(raw) {
	case 0:
		return fmt.Errorf("unexpected metaAndAssetCtxs payload: empty array")
	case 1:
		var meta struct {
			Universe  []universeEntry `json:"universe"`
			AssetCtxs []assetCtx      `json:"assetCtxs"`
		}
		if err := json.Unmarshal(raw[0], &meta); err != nil {
			return err
		}
		m.Universe = meta.Universe
		m.AssetCtxs = meta.AssetCtxs
	default:
		var meta struct {
			Universe []universeEntry `json:"universe"`
		}
		if err := json.Unmarshal(raw[0], &meta); err != nil {
			return err
		}
		var ctxs []assetCtx
		if err := json.Unmarshal(raw[1], &ctxs); err != nil {
			return err
		}
		m.Universe = meta.Universe
		m.AssetCtxs = ctxs
	}
	return nil
}
