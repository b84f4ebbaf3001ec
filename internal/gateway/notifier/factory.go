package notifier

import (
	"fmt"
	"strings"

	"upbitmt/internal/config"
)

// New builds the channel selected in cfg. The result is synchronous; wrap it
// with NewAsync before handing it to the engine.
func New(cfg config.NotifyConfig) (TextNotifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Channel)) {
	case "", config.ChannelNone:
		return Nop{}, nil
	case config.ChannelSlack:
		return NewSlack(strings.TrimSpace(cfg.Slack.WebhookURL)), nil
	case config.ChannelTelegram:
		return NewTelegram(strings.TrimSpace(cfg.Telegram.BotToken), strings.TrimSpace(cfg.Telegram.ChatID)), nil
	default:
		return nil, fmt.Errorf("unsupported notify channel %q", cfg.Channel)
	}
}
