package config

// Config is the whole daemon configuration, loaded once at startup and
// partially hot-reloaded (log level, trading kill switch) on file change.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Trading  TradingConfig  `yaml:"trading"`
	Stream   StreamConfig   `yaml:"stream"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Store    StoreConfig    `yaml:"store"`
	Guard    GuardConfig    `yaml:"guard"`
	HTTP     HTTPConfig     `yaml:"http"`
}

type TradingConfig struct {
	// Enabled is the global kill switch over the decision engine.
	Enabled bool `yaml:"enabled"`
	// TestMode places real orders but leaves holdings and cash untouched.
	TestMode bool     `yaml:"test_mode"`
	Symbols  []string `yaml:"symbols"`
	// SeedFile optionally points at a YAML file of per-symbol settings
	// applied on first start.
	SeedFile string `yaml:"seed_file"`
}

type StreamConfig struct {
	Provider             string      `yaml:"provider"`
	URL                  string      `yaml:"url"`
	FallbackURL          string      `yaml:"fallback_url"`
	HeartbeatIntervalSec int         `yaml:"heartbeat_interval_sec"`
	HeartbeatTimeoutSec  int         `yaml:"heartbeat_timeout_sec"`
	BufferSize           int         `yaml:"buffer_size"`
	Retry                RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	BaseDelaySec int `yaml:"base_delay_sec"`
	MaxDelaySec  int `yaml:"max_delay_sec"`
}

type ExchangeConfig struct {
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	// BaseURL overrides the exchange REST endpoint (sandbox, tests).
	BaseURL string `yaml:"base_url"`
}

type StoreConfig struct {
	Path           string  `yaml:"path"`
	InitialCashUSD float64 `yaml:"initial_cash_usd"`
}

type GuardConfig struct {
	RateLimit          int `yaml:"rate_limit"`
	RateWindowSec      int `yaml:"rate_window_sec"`
	BreakerLimit       int `yaml:"breaker_limit"`
	BreakerCooldownSec int `yaml:"breaker_cooldown_sec"`
	ErrorWindowSec     int `yaml:"error_window_sec"`
	CacheTTLSec        int `yaml:"cache_ttl_sec"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}
