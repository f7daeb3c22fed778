package config

import "time"

// Config is the root configuration for a bitfinex-sync instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Database DBConfig       `yaml:"database"`
	Stream   StreamConfig   `yaml:"stream"`
	Sync     SyncConfig     `yaml:"sync"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ExchangeConfig holds Bitfinex API settings.
type ExchangeConfig struct {
	Name          string        `yaml:"name"`
	RestURL       string        `yaml:"rest_url"`
	WSURL         string        `yaml:"ws_url"`
	APIKey        string        `yaml:"api_key"`
	APISecret     string        `yaml:"api_secret"`
	APISecretPath string        `yaml:"api_secret_path"` // Used when api_secret is empty
	Timeout       time.Duration `yaml:"timeout"`
	RateLimit     float64       `yaml:"rate_limit"` // Requests per second
	RateBurst     int           `yaml:"rate_burst"`
	NonceRetries  int           `yaml:"nonce_retries"`

	// LivePairs are canonical markets (BTC_USD) streamed and synced.
	LivePairs []string `yaml:"live_pairs"`

	// Currencies are canonical commodities whose movements are backfilled.
	Currencies []string `yaml:"currencies"`

	// OrdersEnabled is the order submission kill-switch. Off unless set.
	OrdersEnabled bool `yaml:"orders_enabled"`
}

// DBConfig holds the postgres connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
	Migrate  bool   `yaml:"migrate"` // Apply embedded migrations on startup
}

// StreamConfig holds websocket session settings.
type StreamConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// SyncConfig holds scheduled REST job settings.
type SyncConfig struct {
	TradesInterval    time.Duration `yaml:"trades_interval"`
	MovementsInterval time.Duration `yaml:"movements_interval"`
	OrdersInterval    time.Duration `yaml:"orders_interval"`
	BalancesInterval  time.Duration `yaml:"balances_interval"`
	TickersInterval   time.Duration `yaml:"tickers_interval"`
	MarketsInterval   time.Duration `yaml:"markets_interval"`
	PageSize          int           `yaml:"page_size"`
	Concurrency       int           `yaml:"concurrency"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
}
