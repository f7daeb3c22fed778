// Package auth provides Bitfinex API authentication using HMAC-SHA384 payload signatures.
package auth

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Header names carried by every authenticated REST call.
const (
	HeaderAPIKey    = "X-BFX-APIKEY"
	HeaderPayload   = "X-BFX-PAYLOAD"
	HeaderSignature = "X-BFX-SIGNATURE"
)

// NonceSource hands out strictly increasing nonces derived from the microsecond clock.
// The exchange rejects any nonce not greater than the last one it saw for the key,
// so a single source must back every authenticated call made by the process.
type NonceSource struct {
	last atomic.Int64
	now  func() time.Time
}

// NewNonceSource creates a nonce source; a nil clock uses time.Now.
func NewNonceSource(now func() time.Time) *NonceSource {
	if now == nil {
		now = time.Now
	}
	return &NonceSource{now: now}
}

// Next returns max(now_us, last+1) and records it.
func (n *NonceSource) Next() int64 {
	for {
		last := n.last.Load()
		next := n.now().UnixMicro()
		if next <= last {
			next = last + 1
		}
		if n.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Credentials holds the API key and secret for signing requests. A nil Nonces
// is replaced by a fresh source on first use. Credentials must not be copied
// after first use.
type Credentials struct {
	APIKey string
	Secret []byte
	Nonces *NonceSource

	nonceOnce sync.Once
}

// LoadCredentials validates key and secret and attaches a fresh nonce source.
func LoadCredentials(apiKey, secret string) (*Credentials, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	if secret == "" {
		return nil, errors.New("API secret is required")
	}
	return &Credentials{
		APIKey: apiKey,
		Secret: []byte(secret),
		Nonces: NewNonceSource(nil),
	}, nil
}

// LoadSecretFile reads an API secret from a file, trimming surrounding whitespace.
func LoadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// SignPayload builds the authentication headers for a v1 REST call.
// The body is params plus "request" and "nonce", JSON encoded then base64 encoded;
// the signature is the hex HMAC-SHA384 of that encoded payload.
func (c *Credentials) SignPayload(endpoint string, params map[string]any) (map[string]string, error) {
	body := make(map[string]any, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	body["request"] = endpoint
	body["nonce"] = strconv.FormatInt(c.nonces().Next(), 10)

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(raw)

	return map[string]string{
		HeaderAPIKey:    c.APIKey,
		HeaderPayload:   payload,
		HeaderSignature: c.Sign(payload),
	}, nil
}

// AuthMessage is the stream account-channel subscription.
type AuthMessage struct {
	Event       string `json:"event"`
	APIKey      string `json:"apiKey"`
	AuthSig     string `json:"authSig"`
	AuthPayload string `json:"authPayload"`
}

// SignAuth returns a signed stream auth message over a fresh "AUTH<nonce>" payload.
func (c *Credentials) SignAuth() AuthMessage {
	payload := "AUTH" + strconv.FormatInt(c.nonces().Next(), 10)
	return AuthMessage{
		Event:       "auth",
		APIKey:      c.APIKey,
		AuthSig:     c.Sign(payload),
		AuthPayload: payload,
	}
}

// Sign returns the hex HMAC-SHA384 of msg under the secret.
func (c *Credentials) Sign(msg string) string {
	mac := hmac.New(sha512.New384, c.Secret)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Credentials) nonces() *NonceSource {
	c.nonceOnce.Do(func() {
		if c.Nonces == nil {
			c.Nonces = NewNonceSource(nil)
		}
	})
	return c.Nonces
}
