package config

import (
	"errors"
	"fmt"

	"github.com/rickgao/bitfinex-sync/internal/symbol"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Exchange.validate(); err != nil {
		return err
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	if c.Stream.ReconnectMaxDelay < c.Stream.ReconnectBaseDelay {
		return errors.New("stream.reconnect_max_delay cannot be less than reconnect_base_delay")
	}

	if c.Sync.PageSize < 1 {
		return errors.New("sync.page_size must be >= 1")
	}
	if c.Sync.Concurrency < 1 {
		return errors.New("sync.concurrency must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (e *ExchangeConfig) validate() error {
	if e.APIKey == "" {
		return errors.New("exchange.api_key is required")
	}
	if e.APISecret == "" && e.APISecretPath == "" {
		return errors.New("exchange.api_secret or exchange.api_secret_path is required")
	}
	if e.RateLimit < 0 {
		return errors.New("exchange.rate_limit must be >= 0")
	}
	if e.NonceRetries < 0 {
		return errors.New("exchange.nonce_retries must be >= 0")
	}
	for _, pair := range e.LivePairs {
		if _, _, err := symbol.Default.ParseMarket(pair); err != nil {
			return fmt.Errorf("exchange.live_pairs: %w", err)
		}
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
