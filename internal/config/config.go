package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	Accounts  []AccountConfig `yaml:"accounts"`
	Trading   TradingConfig   `yaml:"trading"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RecvWindow      int64         `yaml:"recv_window"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// AccountConfig holds one account's credentials. They never change after load.
type AccountConfig struct {
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type TradingConfig struct {
	Symbol              string          `yaml:"symbol"`
	PositionSide        string          `yaml:"position_side"`
	OrderType           string          `yaml:"order_type"`
	HoldSeconds         int             `yaml:"hold_seconds"`
	Leverage            int             `yaml:"leverage"`
	NotionalUSDT        decimal.Decimal `yaml:"notional_usdt"`
	QuantityPrecision   int32           `yaml:"quantity_precision"`
	MinQuantity         decimal.Decimal `yaml:"min_quantity"`
	CooldownSeconds     int             `yaml:"cooldown_seconds"`
	ErrorBackoffSeconds int             `yaml:"error_backoff_seconds"`
}

func (t TradingConfig) HoldDuration() time.Duration {
	return time.Duration(t.HoldSeconds) * time.Second
}

func (t TradingConfig) Cooldown() time.Duration {
	return time.Duration(t.CooldownSeconds) * time.Second
}

func (t TradingConfig) ErrorBackoff() time.Duration {
	return time.Duration(t.ErrorBackoffSeconds) * time.Second
}

type MonitorConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	RenderInterval time.Duration `yaml:"render_interval"`
	Console        bool          `yaml:"console"`
}

type ShutdownConfig struct {
	ReconcileTimeout time.Duration `yaml:"reconcile_timeout"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

// explicitKeys records trading fields present in the file so an explicit
// zero is kept rather than replaced by the default.
type explicitKeys struct {
	Trading struct {
		QuantityPrecision *int32 `yaml:"quantity_precision"`
		CooldownSeconds   *int   `yaml:"cooldown_seconds"`
	} `yaml:"trading"`
}

// ErrorKind distinguishes a missing config file from one that cannot be used.
type ErrorKind int

const (
	NotFound ErrorKind = iota + 1
	Invalid
)

type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case NotFound:
		return fmt.Sprintf("config file not found: %s", e.Path)
	default:
		return fmt.Sprintf("invalid config file format: %s: %v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, &Error{Kind: NotFound, Err: errors.New("config path is required")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Kind: NotFound, Path: path, Err: err}
		}
		return nil, &Error{Kind: Invalid, Path: path, Err: err}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{Kind: Invalid, Path: path, Err: err}
	}
	var keys explicitKeys
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, &Error{Kind: Invalid, Path: path, Err: err}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg, keys)
	if err := validate(&cfg); err != nil {
		return nil, &Error{Kind: Invalid, Path: path, Err: err}
	}
	return &cfg, nil
}

// applyEnv lets ASTER_ACCOUNT<N>_API_KEY / _API_SECRET override file credentials.
func applyEnv(cfg *Config) {
	for i := 0; i < 2; i++ {
		prefix := fmt.Sprintf("ASTER_ACCOUNT%d_", i+1)
		key := strings.TrimSpace(os.Getenv(prefix + "API_KEY"))
		secret := strings.TrimSpace(os.Getenv(prefix + "API_SECRET"))
		if key == "" && secret == "" {
			continue
		}
		for len(cfg.Accounts) <= i {
			cfg.Accounts = append(cfg.Accounts, AccountConfig{})
		}
		if key != "" {
			cfg.Accounts[i].APIKey = key
		}
		if secret != "" {
			cfg.Accounts[i].APISecret = secret
		}
	}
}

func applyDefaults(cfg *Config, keys explicitKeys) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://fapi.asterdex.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RecvWindow == 0 {
		cfg.REST.RecvWindow = 5000
	}
	if cfg.REST.RateLimitPerSec == 0 {
		cfg.REST.RateLimitPerSec = 10
	}
	if cfg.REST.RateLimitBurst == 0 {
		cfg.REST.RateLimitBurst = 5
	}
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Name == "" {
			cfg.Accounts[i].Name = fmt.Sprintf("account%d", i+1)
		}
	}
	if cfg.Trading.PositionSide == "" {
		cfg.Trading.PositionSide = "BOTH"
	}
	if cfg.Trading.OrderType == "" {
		cfg.Trading.OrderType = "MARKET"
	}
	cfg.Trading.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Trading.Symbol))
	cfg.Trading.PositionSide = strings.ToUpper(cfg.Trading.PositionSide)
	cfg.Trading.OrderType = strings.ToUpper(cfg.Trading.OrderType)
	if keys.Trading.QuantityPrecision == nil {
		cfg.Trading.QuantityPrecision = 3
	}
	if cfg.Trading.MinQuantity.IsZero() {
		cfg.Trading.MinQuantity = decimal.New(1, -cfg.Trading.QuantityPrecision)
	}
	if keys.Trading.CooldownSeconds == nil {
		cfg.Trading.CooldownSeconds = 5
	}
	if cfg.Trading.ErrorBackoffSeconds == 0 {
		cfg.Trading.ErrorBackoffSeconds = 5
	}
	if cfg.Monitor.PollInterval == 0 {
		cfg.Monitor.PollInterval = time.Second
	}
	if cfg.Monitor.RenderInterval == 0 {
		cfg.Monitor.RenderInterval = time.Second
	}
	if cfg.Shutdown.ReconcileTimeout == 0 {
		cfg.Shutdown.ReconcileTimeout = 15 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hedge-bot.db"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9108"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if len(cfg.Accounts) != 2 {
		return fmt.Errorf("exactly two accounts are required, got %d", len(cfg.Accounts))
	}
	for i, acct := range cfg.Accounts {
		if strings.TrimSpace(acct.APIKey) == "" || strings.TrimSpace(acct.APISecret) == "" {
			return fmt.Errorf("accounts[%d]: api_key and api_secret are required", i)
		}
	}
	if cfg.Trading.Symbol == "" {
		return errors.New("trading.symbol is required")
	}
	if cfg.Trading.Leverage <= 0 {
		return errors.New("trading.leverage must be > 0")
	}
	if !cfg.Trading.NotionalUSDT.IsPositive() {
		return errors.New("trading.notional_usdt must be > 0")
	}
	if cfg.Trading.HoldSeconds < 0 {
		return errors.New("trading.hold_seconds must be >= 0")
	}
	if cfg.Trading.CooldownSeconds < 0 {
		return errors.New("trading.cooldown_seconds must be >= 0")
	}
	if cfg.Trading.QuantityPrecision < 0 {
		return errors.New("trading.quantity_precision must be >= 0")
	}
	if !cfg.Trading.MinQuantity.IsPositive() {
		return errors.New("trading.min_quantity must be > 0")
	}
	// Both legs and the residual close trade the net one-way position.
	if cfg.Trading.PositionSide != "BOTH" {
		return fmt.Errorf("trading.position_side %q is not supported, only BOTH (one-way mode)", cfg.Trading.PositionSide)
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
