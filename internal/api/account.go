package api

import (
	"context"
	"fmt"
)

// Balances fetches every wallet balance.
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	var resp []Balance
	if err := c.post(ctx, "balances", nil, &resp); err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}
	return resp, nil
}

// AccountInfos fetches the account fee schedule.
func (c *Client) AccountInfos(ctx context.Context) ([]AccountInfo, error) {
	var resp []AccountInfo
	if err := c.post(ctx, "account_infos", nil, &resp); err != nil {
		return nil, fmt.Errorf("get account infos: %w", err)
	}
	return resp, nil
}

// NewDepositAddress requests a deposit address for method ("bitcoin", "litecoin", ...)
// into the exchange wallet. renew forces a fresh address.
func (c *Client) NewDepositAddress(ctx context.Context, method string, renew bool) (*DepositAddress, error) {
	params := map[string]any{
		"method":      method,
		"wallet_name": "exchange",
		"renew":       boolFlag(renew),
	}
	var resp DepositAddress
	if err := c.post(ctx, "deposit/new", params, &resp); err != nil {
		return nil, fmt.Errorf("new deposit address %s: %w", method, err)
	}
	if resp.Result != "success" {
		return nil, &APIError{Endpoint: endpointPath("deposit/new"), StatusCode: 200, Message: resp.Result}
	}
	return &resp, nil
}

// Movements fetches one page of deposits and withdrawals for a native currency, newest first.
func (c *Client) Movements(ctx context.Context, currency string, q HistoryQuery) ([]Movement, error) {
	params := map[string]any{"currency": currency}
	if !q.Since.IsZero() {
		params["since"] = FormatEpoch(q.Since)
	}
	if !q.Until.IsZero() {
		params["until"] = FormatEpoch(q.Until)
	}
	if q.Limit > 0 {
		params["limit"] = q.Limit
	}

	var resp []Movement
	if err := c.post(ctx, "history/movements", params, &resp); err != nil {
		return nil, fmt.Errorf("get movements %s: %w", currency, err)
	}
	return resp, nil
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
