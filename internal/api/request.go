package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/rickgao/bitfinex-sync/internal/version"
)

// ErrNoCredentials is returned by signed endpoints on a public-only client.
var ErrNoCredentials = errors.New("bitfinex: signed endpoint requires credentials")

var nonceTooSmall = []byte("Nonce is too small")

// TransportError means the exchange could not be reached or did not answer in time.
// The caller cannot know whether a mutating request took effect.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bitfinex %s: transport: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError represents a rejection from the Bitfinex API.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitfinex api error %d on %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// NonceRejected reports whether the exchange refused the request's nonce.
func (e *APIError) NonceRejected() bool {
	return strings.Contains(e.Message, string(nonceTooSmall)) || bytes.Contains(e.Body, nonceTooSmall)
}

// AlreadyClosed reports whether a cancel was refused because the order is no longer open.
func (e *APIError) AlreadyClosed() bool {
	return strings.Contains(strings.ToLower(e.Message), "could not be cancelled")
}

// DecodeError means the exchange answered with a body that could not be parsed.
type DecodeError struct {
	Endpoint string
	Body     []byte
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bitfinex %s: decode response: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsAlreadyClosed reports whether err is a cancel rejection for an order that is no longer open.
func IsAlreadyClosed(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.AlreadyClosed()
}

// endpointPath normalizes "balances", "/balances" and "/v1/balances" to "/v1/balances".
func endpointPath(endpoint string) string {
	if strings.Contains(endpoint, "/v1/") {
		return endpoint
	}
	return "/v1/" + strings.TrimLeft(endpoint, "/")
}

// post performs a signed call. A stale-nonce rejection is resent with a fresh nonce
// up to nonceRetries times; nothing else is retried.
func (c *Client) post(ctx context.Context, endpoint string, params map[string]any, result any) error {
	path := endpointPath(endpoint)
	if c.creds == nil {
		return ErrNoCredentials
	}

	var (
		body   []byte
		status int
	)
	for attempt := 0; ; attempt++ {
		headers, err := c.creds.SignPayload(path, params)
		if err != nil {
			return fmt.Errorf("sign %s: %w", path, err)
		}

		body, status, err = c.doRequest(ctx, http.MethodPost, path, headers)
		if err != nil {
			c.metrics.ObserveREST(path, "transport_error")
			return err
		}

		if !bytes.Contains(body, nonceTooSmall) || attempt >= c.nonceRetries {
			break
		}
		c.logger.Warn("nonce rejected, resending", "endpoint", path, "attempt", attempt+1)
	}

	return c.decode(path, status, body, result)
}

// get performs a public call.
func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	path := endpointPath(endpoint)

	body, status, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		c.metrics.ObserveREST(path, "transport_error")
		return err
	}
	return c.decode(path, status, body, result)
}

// doRequest sends one request. Every failure before a full body is read is a TransportError.
func (c *Client) doRequest(ctx context.Context, method, path string, headers map[string]string) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, &TransportError{Endpoint: path, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &TransportError{Endpoint: path, Err: fmt.Errorf("read response: %w", err)}
	}

	return body, resp.StatusCode, nil
}

// decode classifies a response: HTTP >= 400 or a {"message": ...} object is a rejection,
// anything else is unmarshaled into result.
func (c *Client) decode(path string, status int, body []byte, result any) error {
	if msg, ok := rejectionMessage(body); ok || status >= 400 {
		if msg == "" {
			msg = http.StatusText(status)
		}
		c.metrics.ObserveREST(path, "rejected")
		return &APIError{Endpoint: path, StatusCode: status, Message: msg, Body: body}
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			c.metrics.ObserveREST(path, "decode_error")
			return &DecodeError{Endpoint: path, Body: body, Err: err}
		}
	}

	c.metrics.ObserveREST(path, "ok")
	return nil
}

// rejectionMessage extracts "message" (or "error") from an object body.
func rejectionMessage(body []byte) (string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}
	var probe struct {
		Message *string `json:"message"`
		Error   *string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return "", false
	}
	switch {
	case probe.Message != nil:
		return *probe.Message, true
	case probe.Error != nil:
		return *probe.Error, true
	}
	return "", false
}
