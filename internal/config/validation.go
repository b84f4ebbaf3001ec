package config

import (
	"fmt"
	"strings"

	"upbitmt/internal/scheduler"
)

func validate(c *Config) error {
	if err := c.Upbit.validate(c.Engine.DryRun); err != nil {
		return err
	}
	if err := c.Rules.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

// Credentials are needed even in dry-run for holdings, unless both are empty,
// in which case dry-run starts from an empty portfolio.
func (u *UpbitConfig) validate(dryRun bool) error {
	access := strings.TrimSpace(u.AccessKey)
	secret := strings.TrimSpace(u.SecretKey)
	if !dryRun && (access == "" || secret == "") {
		return fmt.Errorf("upbit.access_key and upbit.secret_key are required (UPBIT_ACCESS_KEY / UPBIT_SECRET_KEY)")
	}
	if (access == "") != (secret == "") {
		return fmt.Errorf("upbit.access_key and upbit.secret_key must be set together")
	}
	if strings.TrimSpace(u.BaseURL) == "" {
		return fmt.Errorf("upbit.base_url cannot be empty")
	}
	return nil
}

func (u UpbitConfig) HasCredentials() bool {
	return strings.TrimSpace(u.AccessKey) != "" && strings.TrimSpace(u.SecretKey) != ""
}

func (r *RulesConfig) validate() error {
	path := strings.TrimSpace(r.Path)
	if path == "" {
		return fmt.Errorf("rules.path cannot be empty (MONITOR_FILE)")
	}
	switch ext := strings.ToLower(path[strings.LastIndex(path, ".")+1:]); ext {
	case "xlsx", "xlsm", "yaml", "yml":
	default:
		return fmt.Errorf("rules.path must be .xlsx or .yaml, got %q", path)
	}
	return nil
}

func (e *EngineConfig) validate() error {
	d, ok := scheduler.ParseIntervalDuration(e.PollInterval)
	if !ok {
		return fmt.Errorf("engine.poll_interval must be a positive interval like 60, 30s or 1m, got %q", e.PollInterval)
	}
	e.PollDuration = d
	if e.RetryCeiling <= 0 {
		return fmt.Errorf("engine.retry_ceiling must be > 0")
	}
	if e.Workers <= 0 {
		return fmt.Errorf("engine.workers must be > 0")
	}
	if e.CandleExtremes < 0 {
		return fmt.Errorf("engine.candle_extremes must be >= 0")
	}
	switch e.PercentReference {
	case PercentRefAvgBuyPrice, PercentRefDailyOpen:
	default:
		return fmt.Errorf("engine.percent_reference must be %s or %s", PercentRefAvgBuyPrice, PercentRefDailyOpen)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	switch n.Channel {
	case ChannelNone:
	case ChannelSlack:
		if strings.TrimSpace(n.Slack.WebhookURL) == "" {
			return fmt.Errorf("notify.slack.webhook_url is required for slack (SLACK_WEBHOOK_URL)")
		}
	case ChannelTelegram:
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram.bot_token and chat_id are required for telegram (TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID)")
		}
	default:
		return fmt.Errorf("notify.channel must be slack, telegram or none, got %q", n.Channel)
	}
	return nil
}
