package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultExchangeName       = "bitfinex"
	DefaultRestURL            = "https://api.bitfinex.com"
	DefaultWSURL              = "wss://api.bitfinex.com/ws"
	DefaultAPITimeout         = 30 * time.Second
	DefaultRateLimit          = 1.0
	DefaultRateBurst          = 5
	DefaultNonceRetries       = 3
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultPingInterval       = 15 * time.Second
	DefaultReadTimeout        = 30 * time.Second
	DefaultBufferSize         = 10000
	DefaultTradesInterval     = 5 * time.Minute
	DefaultMovementsInterval  = 15 * time.Minute
	DefaultOrdersInterval     = 1 * time.Minute
	DefaultBalancesInterval   = 1 * time.Minute
	DefaultTickersInterval    = 5 * time.Minute
	DefaultMarketsInterval    = 1 * time.Hour
	DefaultPageSize           = 500
	DefaultSyncConcurrency    = 2
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
)

// DefaultLivePairs are streamed when live_pairs is empty.
var DefaultLivePairs = []string{"BTC_USD"}

func (c *Config) applyDefaults() {
	// Exchange defaults
	if c.Exchange.Name == "" {
		c.Exchange.Name = DefaultExchangeName
	}
	if c.Exchange.RestURL == "" {
		c.Exchange.RestURL = DefaultRestURL
	}
	if c.Exchange.WSURL == "" {
		c.Exchange.WSURL = DefaultWSURL
	}
	if c.Exchange.Timeout == 0 {
		c.Exchange.Timeout = DefaultAPITimeout
	}
	if c.Exchange.RateLimit == 0 {
		c.Exchange.RateLimit = DefaultRateLimit
	}
	if c.Exchange.RateBurst == 0 {
		c.Exchange.RateBurst = DefaultRateBurst
	}
	if c.Exchange.NonceRetries == 0 {
		c.Exchange.NonceRetries = DefaultNonceRetries
	}
	if len(c.Exchange.LivePairs) == 0 {
		c.Exchange.LivePairs = append([]string(nil), DefaultLivePairs...)
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Stream defaults
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.ReadTimeout == 0 {
		c.Stream.ReadTimeout = DefaultReadTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultBufferSize
	}

	// Sync defaults
	if c.Sync.TradesInterval == 0 {
		c.Sync.TradesInterval = DefaultTradesInterval
	}
	if c.Sync.MovementsInterval == 0 {
		c.Sync.MovementsInterval = DefaultMovementsInterval
	}
	if c.Sync.OrdersInterval == 0 {
		c.Sync.OrdersInterval = DefaultOrdersInterval
	}
	if c.Sync.BalancesInterval == 0 {
		c.Sync.BalancesInterval = DefaultBalancesInterval
	}
	if c.Sync.TickersInterval == 0 {
		c.Sync.TickersInterval = DefaultTickersInterval
	}
	if c.Sync.MarketsInterval == 0 {
		c.Sync.MarketsInterval = DefaultMarketsInterval
	}
	if c.Sync.PageSize == 0 {
		c.Sync.PageSize = DefaultPageSize
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = DefaultSyncConcurrency
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
