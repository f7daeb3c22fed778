package api

import (
	"context"
	"fmt"
)

// MyTrades fetches one page of account fills for a native pair, newest first.
func (c *Client) MyTrades(ctx context.Context, symbol string, q HistoryQuery) ([]Trade, error) {
	params := map[string]any{"symbol": symbol}
	if !q.Since.IsZero() {
		params["timestamp"] = FormatEpoch(q.Since)
	}
	if !q.Until.IsZero() {
		params["until"] = FormatEpoch(q.Until)
	}
	if q.Limit > 0 {
		params["limit_trades"] = q.Limit
	}

	var resp []Trade
	if err := c.post(ctx, "mytrades", params, &resp); err != nil {
		return nil, fmt.Errorf("get trades %s: %w", symbol, err)
	}
	return resp, nil
}
