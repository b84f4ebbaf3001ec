package app

import (
	"fmt"
	"strings"

	"upbitmt/internal/config"
	"upbitmt/internal/logger"
)

// StartupSummary is the configuration digest printed at start and included
// in the start notification.
type StartupSummary struct {
	Env          string
	RulesPath    string
	WatchRules   bool
	Markets      int
	PollInterval string
	Workers      int
	DryRun       bool
	Credentials  bool
	Notify       string
	HTTPAddr     string
	StateDB      string
	TickLog      string
}

func newStartupSummary(cfg *config.Config, markets int, credentials bool) *StartupSummary {
	return &StartupSummary{
		Env:          cfg.App.Env,
		RulesPath:    cfg.Rules.Path,
		WatchRules:   cfg.Rules.Watch,
		Markets:      markets,
		PollInterval: cfg.Engine.PollDuration.String(),
		Workers:      cfg.Engine.Workers,
		DryRun:       cfg.Engine.DryRun,
		Credentials:  credentials,
		Notify:       cfg.Notify.Channel,
		HTTPAddr:     cfg.App.HTTPAddr,
		StateDB:      cfg.Storage.StateDBPath,
		TickLog:      cfg.Storage.TickLogPath,
	}
}

// Lines is the runtime section of the start notification.
func (s *StartupSummary) Lines() []string {
	if s == nil {
		return nil
	}
	mode := "실거래"
	if s.DryRun {
		mode = "모의"
		if !s.Credentials {
			mode += " (API 키 없음, 빈 잔고)"
		}
	}
	lines := []string{
		"환경: " + s.Env,
		"규칙 파일: " + s.RulesPath,
		"주문 모드: " + mode,
		fmt.Sprintf("KRW 마켓: %d", s.Markets),
	}
	if s.HTTPAddr != "" {
		lines = append(lines, "상태 API: "+s.HTTPAddr)
	}
	return lines
}

func (s *StartupSummary) Print() {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60) + "\n")
	b.WriteString("STARTUP SUMMARY\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "  env:           %s\n", s.Env)
	fmt.Fprintf(&b, "  rules:         %s (watch=%t)\n", s.RulesPath, s.WatchRules)
	fmt.Fprintf(&b, "  markets:       %d\n", s.Markets)
	fmt.Fprintf(&b, "  poll interval: %s, workers=%d\n", s.PollInterval, s.Workers)
	fmt.Fprintf(&b, "  dry run:       %t (credentials=%t)\n", s.DryRun, s.Credentials)
	fmt.Fprintf(&b, "  notify:        %s\n", formatValue(s.Notify))
	fmt.Fprintf(&b, "  http:          %s\n", formatValue(s.HTTPAddr))
	fmt.Fprintf(&b, "  state db:      %s\n", formatValue(s.StateDB))
	fmt.Fprintf(&b, "  tick log:      %s\n", formatValue(s.TickLog))
	b.WriteString(strings.Repeat("=", 60))
	logger.InfoBlock(b.String())
}

func formatValue(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
