package config

import (
	"strings"
)

const (
	defaultAppEnv            = "prod"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultAppTimezone       = "Asia/Seoul"
	defaultUpbitBaseURL      = "https://api.upbit.com"
	defaultUpbitTimeout      = 10
	defaultUpbitOrderTimeout = 15
	defaultUpbitRPS          = 8
	defaultRulesPath         = "monitor.xlsx"
	defaultRulesDebounceMS   = 500
	defaultPollInterval      = "60"
	defaultRetryCeiling      = 3
	defaultWorkers           = 1
	defaultCandleExtremes    = 2
	defaultMinNotional       = 5000
	defaultNotifyQueueSize   = 64
	defaultStateDBPath       = "data/upbitmt-state.db"
	defaultTickLogPath       = "data/upbitmt-ticks.db"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Upbit.applyDefaults(keys)
	c.Rules.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.timezone", &a.Timezone, defaultAppTimezone),
	)
}

func (u *UpbitConfig) applyDefaults(keys keySet) {
	if u == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("upbit.base_url", &u.BaseURL, defaultUpbitBaseURL),
		fieldDefault{
			key:   "upbit.timeout_seconds",
			need:  func() bool { return u.TimeoutSeconds <= 0 },
			apply: func() { u.TimeoutSeconds = defaultUpbitTimeout },
		},
		fieldDefault{
			key:   "upbit.order_timeout_seconds",
			need:  func() bool { return u.OrderTimeoutSeconds <= 0 },
			apply: func() { u.OrderTimeoutSeconds = defaultUpbitOrderTimeout },
		},
		fieldDefault{
			key:   "upbit.requests_per_second",
			need:  func() bool { return u.RequestsPerSecond <= 0 },
			apply: func() { u.RequestsPerSecond = defaultUpbitRPS },
		},
	)
}

func (r *RulesConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("rules.path", &r.Path, defaultRulesPath),
		boolFieldDefault("rules.watch", &r.Watch, true),
		fieldDefault{
			key:   "rules.debounce_ms",
			need:  func() bool { return r.DebounceMS <= 0 },
			apply: func() { r.DebounceMS = defaultRulesDebounceMS },
		},
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("engine.poll_interval", &e.PollInterval, defaultPollInterval),
		stringFieldDefault("engine.percent_reference", &e.PercentReference, PercentRefAvgBuyPrice),
		fieldDefault{
			key:   "engine.retry_ceiling",
			need:  func() bool { return e.RetryCeiling <= 0 },
			apply: func() { e.RetryCeiling = defaultRetryCeiling },
		},
		fieldDefault{
			key:   "engine.workers",
			need:  func() bool { return e.Workers <= 0 },
			apply: func() { e.Workers = defaultWorkers },
		},
		fieldDefault{
			key:   "engine.candle_extremes",
			need:  func() bool { return true },
			apply: func() { e.CandleExtremes = defaultCandleExtremes },
		},
		fieldDefault{
			key:   "engine.min_notional",
			need:  func() bool { return e.MinNotional <= 0 },
			apply: func() { e.MinNotional = defaultMinNotional },
		},
	)
	e.PercentReference = strings.ToLower(strings.TrimSpace(e.PercentReference))
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:  "notify.channel",
			need: func() bool { return strings.TrimSpace(n.Channel) == "" },
			apply: func() {
				switch {
				case n.Telegram.BotToken != "" && n.Telegram.ChatID != "":
					n.Channel = ChannelTelegram
				case n.Slack.WebhookURL != "":
					n.Channel = ChannelSlack
				default:
					n.Channel = ChannelNone
				}
			},
		},
		fieldDefault{
			key:   "notify.queue_size",
			need:  func() bool { return n.QueueSize <= 0 },
			apply: func() { n.QueueSize = defaultNotifyQueueSize },
		},
	)
	n.Channel = strings.ToLower(strings.TrimSpace(n.Channel))
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("storage.state_db_path", &s.StateDBPath, defaultStateDBPath),
		stringFieldDefault("storage.tick_log_path", &s.TickLogPath, defaultTickLogPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
