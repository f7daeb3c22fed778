package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Ticker fetches the public ticker for a native pair.
func (c *Client) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	var resp Ticker
	if err := c.get(ctx, "pubticker/"+url.PathEscape(symbol), &resp); err != nil {
		return nil, fmt.Errorf("get ticker %s: %w", symbol, err)
	}
	return &resp, nil
}

// OrderBook fetches up to limit levels per side for a native pair. limit <= 0 uses the exchange default.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	path := "book/" + url.PathEscape(symbol)
	if limit > 0 {
		q := url.Values{}
		q.Set("limit_bids", strconv.Itoa(limit))
		q.Set("limit_asks", strconv.Itoa(limit))
		path += "?" + q.Encode()
	}

	var resp OrderBook
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("get book %s: %w", symbol, err)
	}
	return &resp, nil
}

// Symbols fetches every native pair the exchange lists.
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	var resp []string
	if err := c.get(ctx, "symbols", &resp); err != nil {
		return nil, fmt.Errorf("get symbols: %w", err)
	}
	return resp, nil
}
