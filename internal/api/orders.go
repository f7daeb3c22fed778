package api

import (
	"context"
	"fmt"
)

// DefaultOrderType is the exchange-wallet limit order type.
const DefaultOrderType = "exchange limit"

// ActiveOrders fetches the live open orders snapshot.
func (c *Client) ActiveOrders(ctx context.Context) ([]OrderStatus, error) {
	var resp []OrderStatus
	if err := c.post(ctx, "orders", nil, &resp); err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	return resp, nil
}

// NewOrder submits a limit order.
func (c *Client) NewOrder(ctx context.Context, req NewOrderRequest) (*OrderStatus, error) {
	orderType := req.Type
	if orderType == "" {
		orderType = DefaultOrderType
	}
	params := map[string]any{
		"symbol":   req.Symbol,
		"amount":   req.Amount.String(),
		"price":    req.Price.String(),
		"side":     req.Side,
		"type":     orderType,
		"exchange": "bitfinex",
	}

	var resp OrderStatus
	if err := c.post(ctx, "order/new", params, &resp); err != nil {
		return nil, fmt.Errorf("new order %s: %w", req.Symbol, err)
	}
	return &resp, nil
}

// CancelOrder cancels one order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) (*OrderStatus, error) {
	var resp OrderStatus
	if err := c.post(ctx, "order/cancel", map[string]any{"order_id": orderID}, &resp); err != nil {
		return nil, fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return &resp, nil
}

// CancelAllOrders cancels every open order on the account.
func (c *Client) CancelAllOrders(ctx context.Context) (*CancelAllResponse, error) {
	var resp CancelAllResponse
	if err := c.post(ctx, "order/cancel/all", nil, &resp); err != nil {
		return nil, fmt.Errorf("cancel all orders: %w", err)
	}
	return &resp, nil
}
