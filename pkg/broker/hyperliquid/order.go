package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const priceSigFigs = 5

// IOCMarket submits an aggressive IOC limit order: the reference price
// (mid, then mark, then oracle) is pushed through by the slippage fraction
// so the order crosses the book and fills like a market order.
func (c *Client) IOCMarket(ctx context.Context, coin string, isBuy bool, qty float64, slippage float64, reduceOnly bool) (*OrderResponse, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("hyperliquid: size must be positive")
	}
	if slippage <= 0 {
		slippage = 0.01
	}
	info, err := c.GetAssetInfo(ctx, coin)
	if err != nil {
		return nil, err
	}

	base := firstNonEmpty(info.MidPx, info.MarkPx, info.OraclePx)
	if base == "" {
		return nil, fmt.Errorf("hyperliquid: missing reference price for %s", coin)
	}
	px, err := strconv.ParseFloat(base, 64)
	if err != nil || px <= 0 {
		return nil, fmt.Errorf("hyperliquid: invalid reference price %q for %s", base, coin)
	}
	if isBuy {
		px *= 1 + slippage
	} else {
		px *= 1 - slippage
	}

	order := orderPayload{
		Asset:      info.Index,
		IsBuy:      isBuy,
		LimitPx:    formatPriceSigFigs(px, priceSigFigs),
		Sz:         formatSize(qty, info.SzDecimals),
		ReduceOnly: reduceOnly,
		OrderType:  orderTypePayload{Limit: &limitOrderPayload{TIF: "Ioc"}},
	}
	action := Action{Type: ActionTypeOrder, Grouping: "na", Orders: []orderPayload{order}}

	var resp OrderResponse
	if err := c.doExchangeRequest(ctx, action, &resp); err != nil {
		return nil, err
	}
	if strings.ToLower(resp.Status) != "ok" {
		if msg := firstStatusError(&resp); msg != "" {
			return &resp, fmt.Errorf("hyperliquid: order rejected: %s", msg)
		}
		return &resp, fmt.Errorf("hyperliquid: order rejected with status %q", resp.Status)
	}
	return &resp, nil
}

// firstFill extracts the fill report from an order response. IOC orders
// either fill or cancel; a resting status here means the venue ignored the
// TIF and is treated as no fill.
func firstFill(resp *OrderResponse) (*FilledOrder, error) {
	if resp == nil {
		return nil, fmt.Errorf("hyperliquid: nil order response")
	}
	for _, status := range resp.Response.Data.Statuses {
		if status.Error != "" {
			return nil, fmt.Errorf("hyperliquid: order error: %s", status.Error)
		}
		if status.Filled != nil {
			return status.Filled, nil
		}
	}
	return nil, fmt.Errorf("hyperliquid: order not filled")
}

func firstStatusError(resp *OrderResponse) string {
	for _, status := range resp.Response.Data.Statuses {
		if status.Error != "" {
			return status.Error
		}
	}
	return ""
}

// formatSize rounds a quantity to the asset's szDecimals and renders a
// plain decimal string, never scientific notation.
func formatSize(qty float64, szDecimals int) string {
	if qty < 0 {
		qty = -qty
	}
	pow := math.Pow(10, float64(szDecimals))
	v := math.Round(qty*pow) / pow
	return trimDecimal(strconv.FormatFloat(v, 'f', szDecimals, 64))
}

// formatPriceSigFigs rounds a price to the given significant figures, the
// venue's tick convention for perp limit prices.
func formatPriceSigFigs(px float64, sigFigs int) string {
	if px <= 0 {
		return "0"
	}
	if sigFigs < 1 {
		sigFigs = 1
	}
	exp := int(math.Floor(math.Log10(px)))
	decimals := sigFigs - 1 - exp
	if decimals < 0 {
		decimals = 0
	}
	if decimals > 8 {
		decimals = 8
	}
	pow := math.Pow(10, float64(decimals))
	v := math.Round(px*pow) / pow
	return trimDecimal(strconv.FormatFloat(v, 'f', decimals, 64))
}

func trimDecimal(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
