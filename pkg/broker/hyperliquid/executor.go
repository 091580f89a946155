package hyperliquid

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"arena-api/pkg/broker"
)

// Executor adapts the signed client to the broker contract. One instance
// is built per live session from that session's resolved credentials.
type Executor struct {
	client *Client
}

// NewExecutor wraps a client.
func NewExecutor(client *Client) (*Executor, error) {
	if client == nil {
		return nil, fmt.Errorf("hyperliquid: nil client")
	}
	return &Executor{client: client}, nil
}

func init() {
	broker.RegisterExecutor("hyperliquid", func(name string, cfg *broker.ExecutorConfig) (broker.Executor, error) {
		opts := []ClientOption{}
		if cfg.MainAddress != "" {
			opts = append(opts, WithMainAddress(cfg.MainAddress))
		}
		if cfg.VaultAddress != "" {
			opts = append(opts, WithVaultAddress(cfg.VaultAddress))
		}
		client, err := NewClient(cfg.PrivateKey, cfg.Testnet, opts...)
		if err != nil {
			return nil, err
		}
		return NewExecutor(client)
	})
}

// coinFor maps engine market symbols onto venue coin names: "BTCUSDT" and
// "BTC-PERP" both trade the "BTC" perp.
func coinFor(market string) string {
	coin := strings.ToUpper(strings.TrimSpace(market))
	coin = strings.TrimSuffix(coin, "-PERP")
	coin = strings.TrimSuffix(coin, "USDT")
	coin = strings.TrimSuffix(coin, "-USD")
	return coin
}

// Execute fills one order via an aggressive IOC. Entries set leverage
// first and derive base size from notional at the venue reference price;
// exits submit the exact position size reduce-only.
func (e *Executor) Execute(ctx context.Context, req broker.OrderRequest) (*broker.Fill, error) {
	coin := coinFor(req.Market)
	slippage := req.SlippageBps / 10_000

	var (
		isBuy      bool
		qty        float64
		reduceOnly bool
	)
	if req.IsExit {
		isBuy = req.Side == broker.SideShort
		qty = req.ExitSize
		reduceOnly = true
	} else {
		isBuy = req.Side == broker.SideLong
		info, err := e.client.GetAssetInfo(ctx, coin)
		if err != nil {
			return nil, err
		}
		base := firstNonEmpty(info.MidPx, info.MarkPx, info.OraclePx)
		px, perr := strconv.ParseFloat(base, 64)
		if perr != nil || px <= 0 {
			return nil, fmt.Errorf("hyperliquid: invalid reference price %q for %s", base, coin)
		}
		qty = req.NotionalUSD / px

		if lev := int(req.Leverage); lev >= 1 {
			if err := e.SetLeverage(ctx, req.Market, lev); err != nil {
				// Leverage may already be set from a previous entry; the
				// order itself is the authoritative failure signal.
				logx.WithContext(ctx).Infof("[hyperliquid] update leverage %s x%d: %v", coin, lev, err)
			}
		}
	}

	resp, err := e.client.IOCMarket(ctx, coin, isBuy, qty, slippage, reduceOnly)
	if err != nil {
		return nil, err
	}
	filled, err := firstFill(resp)
	if err != nil {
		return nil, err
	}
	avgPx, err := strconv.ParseFloat(filled.AvgPx, 64)
	if err != nil || avgPx <= 0 {
		return nil, fmt.Errorf("hyperliquid: invalid fill price %q", filled.AvgPx)
	}
	totalSz, err := strconv.ParseFloat(filled.TotalSz, 64)
	if err != nil || totalSz <= 0 {
		return nil, fmt.Errorf("hyperliquid: invalid fill size %q", filled.TotalSz)
	}
	return &broker.Fill{
		OrderID: strconv.FormatInt(filled.Oid, 10),
		Price:   avgPx,
		Size:    totalSz,
	}, nil
}

// SetLeverage applies cross leverage for the market's asset.
func (e *Executor) SetLeverage(ctx context.Context, market string, leverage int) error {
	asset, err := e.client.AssetIndex(ctx, coinFor(market))
	if err != nil {
		return err
	}
	return e.client.UpdateLeverage(ctx, asset, true, leverage)
}

// SyncAccount pulls the clearinghouse snapshot: venue equity is ground
// truth for live sessions, and open positions replace the local view.
func (e *Executor) SyncAccount(ctx context.Context) (float64, []broker.VenuePosition, error) {
	state, err := e.client.GetClearinghouseState(ctx)
	if err != nil {
		return 0, nil, err
	}
	equity, err := strconv.ParseFloat(state.MarginSummary.AccountValue, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("hyperliquid: parse account value: %w", err)
	}

	positions := make([]broker.VenuePosition, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		raw := ap.Position
		szi, err := strconv.ParseFloat(strings.TrimSpace(raw.Szi), 64)
		if err != nil || szi == 0 {
			continue
		}
		side := broker.SideLong
		if szi < 0 {
			side = broker.SideShort
			szi = -szi
		}
		entry, _ := strconv.ParseFloat(raw.EntryPx, 64)
		upnl, _ := strconv.ParseFloat(raw.UnrealizedPnl, 64)
		positions = append(positions, broker.VenuePosition{
			Market:        raw.Coin,
			Side:          side,
			Size:          szi,
			EntryPrice:    entry,
			Leverage:      float64(raw.Leverage.Value),
			UnrealizedPnl: upnl,
		})
	}
	return equity, positions, nil
}
