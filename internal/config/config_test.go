package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-sync
exchange:
  rest_url: https://api.example.test
  api_key: key
  api_secret: secret
  live_pairs: [BTC_USD, DASH_USD]
  orders_enabled: true
database:
  host: localhost
  port: 5432
  name: test_db
  user: testuser
  password: testpass
  migrate: true
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-sync" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-sync")
	}
	if cfg.Exchange.RestURL != "https://api.example.test" {
		t.Errorf("Exchange.RestURL = %q, want %q", cfg.Exchange.RestURL, "https://api.example.test")
	}
	if len(cfg.Exchange.LivePairs) != 2 || cfg.Exchange.LivePairs[1] != "DASH_USD" {
		t.Errorf("Exchange.LivePairs = %v, want [BTC_USD DASH_USD]", cfg.Exchange.LivePairs)
	}
	if !cfg.Exchange.OrdersEnabled {
		t.Error("Exchange.OrdersEnabled = false, want true")
	}
	if !cfg.Database.Migrate {
		t.Error("Database.Migrate = false, want true")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_BFX_SECRET", "bfx-secret")

	yaml := `
instance:
  id: test-sync
exchange:
  api_key: key
  api_secret: ${TEST_BFX_SECRET}
database:
  host: localhost
  name: test_db
  user: testuser
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
	if cfg.Exchange.APISecret != "bfx-secret" {
		t.Errorf("Exchange.APISecret = %q, want %q", cfg.Exchange.APISecret, "bfx-secret")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-sync
database:
  host: localhost
  name: test_db
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Exchange.RestURL != DefaultRestURL {
		t.Errorf("Exchange.RestURL = %q, want default %q", cfg.Exchange.RestURL, DefaultRestURL)
	}
	if cfg.Exchange.Timeout != DefaultAPITimeout {
		t.Errorf("Exchange.Timeout = %v, want default %v", cfg.Exchange.Timeout, DefaultAPITimeout)
	}
	if cfg.Exchange.NonceRetries != DefaultNonceRetries {
		t.Errorf("Exchange.NonceRetries = %d, want default %d", cfg.Exchange.NonceRetries, DefaultNonceRetries)
	}
	if cfg.Exchange.OrdersEnabled {
		t.Error("Exchange.OrdersEnabled should default to false")
	}
	if len(cfg.Exchange.LivePairs) != 1 || cfg.Exchange.LivePairs[0] != "BTC_USD" {
		t.Errorf("Exchange.LivePairs = %v, want default %v", cfg.Exchange.LivePairs, DefaultLivePairs)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.MaxConns != DefaultMaxConns {
		t.Errorf("Database.MaxConns = %d, want default %d", cfg.Database.MaxConns, DefaultMaxConns)
	}
	if cfg.Stream.ReadTimeout != DefaultReadTimeout {
		t.Errorf("Stream.ReadTimeout = %v, want default %v", cfg.Stream.ReadTimeout, DefaultReadTimeout)
	}
	if cfg.Sync.PageSize != DefaultPageSize {
		t.Errorf("Sync.PageSize = %d, want default %d", cfg.Sync.PageSize, DefaultPageSize)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("SlogLevel() = %v, want info", cfg.SlogLevel())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	validDB := DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}
	validExchange := ExchangeConfig{APIKey: "k", APISecret: "s", LivePairs: []string{"BTC_USD"}}
	validStream := StreamConfig{BufferSize: 100, ReconnectBaseDelay: time.Second, ReconnectMaxDelay: time.Minute}
	validSync := SyncConfig{PageSize: 100, Concurrency: 1}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing instance id",
			cfg:     Config{},
			wantErr: "instance.id is required",
		},
		{
			name: "missing api key",
			cfg: Config{
				Instance: InstanceConfig{ID: "test"},
			},
			wantErr: "exchange.api_key is required",
		},
		{
			name: "missing api secret",
			cfg: Config{
				Instance: InstanceConfig{ID: "test"},
				Exchange: ExchangeConfig{APIKey: "k"},
			},
			wantErr: "exchange.api_secret or exchange.api_secret_path is required",
		},
		{
			name: "bad live pair",
			cfg: Config{
				Instance: InstanceConfig{ID: "test"},
				Exchange: ExchangeConfig{APIKey: "k", APISecret: "s", LivePairs: []string{"BTCUSDT"}},
			},
			wantErr: "exchange.live_pairs",
		},
		{
			name: "missing database password",
			cfg: Config{
				Instance: InstanceConfig{ID: "test"},
				Exchange: validExchange,
				Database: DBConfig{Host: "localhost", Name: "db", User: "user"},
			},
			wantErr: "database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			cfg: Config{
				Instance: InstanceConfig{ID: "test"},
				Exchange: validExchange,
				Database: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10},
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "zero page size",
			cfg: Config{
				Instance: InstanceConfig{ID: "test"},
				Exchange: validExchange,
				Database: validDB,
				Stream:   validStream,
				Sync:     SyncConfig{Concurrency: 1},
			},
			wantErr: "sync.page_size must be >= 1",
		},
		{
			name: "valid config",
			cfg: Config{
				Instance: InstanceConfig{ID: "test"},
				Exchange: validExchange,
				Database: validDB,
				Stream:   validStream,
				Sync:     validSync,
				Metrics:  MetricsConfig{Port: 9090},
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestCredentials(t *testing.T) {
	secretPath := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(secretPath, []byte("from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{Exchange: ExchangeConfig{APIKey: "k", APISecretPath: secretPath}}
	creds, err := cfg.Credentials()
	if err != nil {
		t.Fatalf("Credentials failed: %v", err)
	}
	if string(creds.Secret) != "from-file" {
		t.Errorf("Secret = %q, want %q", creds.Secret, "from-file")
	}

	cfg.Exchange.APISecret = "inline"
	creds, err = cfg.Credentials()
	if err != nil {
		t.Fatalf("Credentials failed: %v", err)
	}
	if string(creds.Secret) != "inline" {
		t.Errorf("Secret = %q, want inline secret to take precedence", creds.Secret)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{Log: LogConfig{Level: tt.level}}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
