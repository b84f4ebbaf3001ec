package config

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// Config is the whole process configuration. Every key can come from the
// optional YAML file or from the environment.
type Config struct {
	App     AppConfig     `toml:"app"`
	Upbit   UpbitConfig   `toml:"upbit"`
	Rules   RulesConfig   `toml:"rules"`
	Engine  EngineConfig  `toml:"engine"`
	Notify  NotifyConfig  `toml:"notify"`
	Storage StorageConfig `toml:"storage"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
	Timezone  string `toml:"timezone"`
}

// Location resolves the timezone used for "today" and expiry dates.
func (a AppConfig) Location() *time.Location {
	name := strings.TrimSpace(a.Timezone)
	if name == "" {
		name = defaultAppTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

type UpbitConfig struct {
	AccessKey           string  `toml:"access_key"`
	SecretKey           string  `toml:"secret_key"`
	BaseURL             string  `toml:"base_url"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	OrderTimeoutSeconds int     `toml:"order_timeout_seconds"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
}

func (u UpbitConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

func (u UpbitConfig) OrderTimeout() time.Duration {
	return time.Duration(u.OrderTimeoutSeconds) * time.Second
}

type RulesConfig struct {
	Path       string `toml:"path"`
	Watch      bool   `toml:"watch"`
	DebounceMS int    `toml:"debounce_ms"`
}

type EngineConfig struct {
	PollInterval     string  `toml:"poll_interval"`
	RetryCeiling     int     `toml:"retry_ceiling"`
	Workers          int     `toml:"workers"`
	PercentReference string  `toml:"percent_reference"`
	CandleExtremes   int     `toml:"candle_extremes"`
	MinNotional      float64 `toml:"min_notional"`
	DryRun           bool    `toml:"dry_run"`
	HourlyStatus     bool    `toml:"hourly_status"`
	// PollDuration is filled from PollInterval during validation.
	PollDuration time.Duration `toml:"-"`
}

const (
	PercentRefAvgBuyPrice = "avg_buy_price"
	PercentRefDailyOpen   = "daily_open"
)

type NotifyConfig struct {
	Channel   string         `toml:"channel"`
	QueueSize int            `toml:"queue_size"`
	Slack     SlackConfig    `toml:"slack"`
	Telegram  TelegramConfig `toml:"telegram"`
}

type SlackConfig struct {
	WebhookURL string `toml:"webhook_url"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

const (
	ChannelNone     = "none"
	ChannelSlack    = "slack"
	ChannelTelegram = "telegram"
)

type StorageConfig struct {
	StateDBPath string `toml:"state_db_path"`
	TickLogPath string `toml:"tick_log_path"`
}

// keySet tracks the keys the user set explicitly, in file or environment.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
