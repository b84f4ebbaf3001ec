package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"upbitmt/internal/gateway/database"
	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/gateway/notifier"
	"upbitmt/internal/rule"
	"upbitmt/internal/strategy/condition"

	"github.com/shopspring/decimal"
)

const (
	titleStart     = "감시 시작"
	titleHoldings  = "보유 현황"
	titleFired     = "주문 실행"
	titleFailed    = "주문 실패"
	titleReconcile = "주문 확인 필요"
	titleExpired   = "감시 만료"
	titleRejected  = "규칙 오류"
	titleBaseline  = "기준가 설정"
	titleFirstPass = "첫 감시 완료"
	titleHourly    = "정시 상태"
	titleReload    = "규칙 재적용"
	titleShutdown  = "감시 종료"
	titleHalted    = "감시 중단"
)

// upbitLink renders a Slack style link to the market page. Telegram turns it
// into an HTML anchor.
func upbitLink(market, label string) string {
	return fmt.Sprintf("<https://upbit.com/exchange?code=CRIX.UPBIT.%s|%s>", market, label)
}

func ruleLines(r rule.WatchRule, name string) []string {
	lines := []string{
		"종목: " + upbitLink(r.Asset, name),
		fmt.Sprintf("구분: %s / 조건: %s%s %s", r.TradeType, r.Target.String(), r.PriceUnit, r.Condition),
		"수량: " + r.Quantity.String(),
	}
	if reason := strings.TrimSpace(r.Reason); reason != "" {
		lines = append(lines, "사유: "+reason)
	}
	return lines
}

func countLines(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	return lines
}

func startMessage(rules []rule.WatchRule, counts map[string]int, runtime []string, s Settings, now time.Time) notifier.StructuredMessage {
	watch := make([]string, 0, len(rules))
	for _, r := range rules {
		if !r.Active || r.Runtime.State.Terminal() {
			continue
		}
		watch = append(watch, fmt.Sprintf("%s %s %s%s %s", r.Asset, r.TradeType, r.Target.String(), r.PriceUnit, r.Condition))
	}
	settings := []string{
		"주기: " + s.PollInterval.String(),
		fmt.Sprintf("동시 처리 종목: %d", max(1, s.Workers)),
	}
	if s.DryRun {
		settings = append(settings, "모의 주문 모드")
	}
	return notifier.StructuredMessage{
		Icon:  "🚀",
		Title: titleStart,
		Sections: []notifier.MessageSection{
			{Title: "규칙", Lines: countLines(counts)},
			{Title: "감시 대상", Lines: watch},
			{Title: "설정", Lines: settings},
			{Title: "실행 환경", Lines: runtime},
		},
		Timestamp: now,
	}
}

func holdingsMessage(pf exchange.Portfolio, now time.Time) notifier.StructuredMessage {
	markets := make([]string, 0, len(pf.Assets))
	for m := range pf.Assets {
		markets = append(markets, m)
	}
	sort.Strings(markets)
	lines := []string{fmt.Sprintf("KRW: %s (주문중 %s)", formatPrice(pf.Cash), formatPrice(pf.CashLocked))}
	for _, m := range markets {
		h := pf.Assets[m]
		line := fmt.Sprintf("%s: %s", h.Currency, h.Total().String())
		if h.AvgBuyPrice.IsPositive() {
			line += " @ " + formatPrice(h.AvgBuyPrice)
		}
		lines = append(lines, line)
	}
	return notifier.StructuredMessage{
		Icon:      "💰",
		Title:     titleHoldings,
		Sections:  []notifier.MessageSection{{Lines: lines}},
		Timestamp: now,
	}
}

func firedMessage(r rule.WatchRule, name string, intent exchange.OrderIntent, res exchange.OrderResult, dec condition.Decision, now time.Time) notifier.StructuredMessage {
	order := []string{
		fmt.Sprintf("%s %s", intent.Side, intent.PriceMode),
		"수량: " + intent.Quantity.String(),
		"금액: " + formatPrice(intent.Notional) + " KRW",
		"주문번호: " + res.OrderID,
	}
	return notifier.StructuredMessage{
		Icon:  "✅",
		Title: fmt.Sprintf("%s (%s)", titleFired, intent.Side),
		Sections: []notifier.MessageSection{
			{Title: "규칙", Lines: ruleLines(r, name)},
			{Title: "가격", Lines: []string{"목표: " + formatPrice(dec.Target), "현재: " + formatPrice(dec.Observed)}},
			{Title: "주문", Lines: order},
		},
		Timestamp: now,
	}
}

func failedMessage(r rule.WatchRule, name string, cause error, now time.Time) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Icon:  "❌",
		Title: titleFailed,
		Sections: []notifier.MessageSection{
			{Title: "규칙", Lines: ruleLines(r, name)},
			{Title: "오류", Lines: []string{fmt.Sprintf("%d회 시도 후 중단", r.Runtime.RetryCount), cause.Error()}},
		},
		Footer:    "규칙 파일을 확인한 뒤 다시 등록하세요.",
		Timestamp: now,
	}
}

func reconcileMessage(r rule.WatchRule, name string, intent exchange.OrderIntent, cause error, now time.Time) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Icon:  "⚠️",
		Title: titleReconcile,
		Sections: []notifier.MessageSection{
			{Title: "규칙", Lines: ruleLines(r, name)},
			{Title: "주문", Lines: []string{"identifier: " + intent.Identifier, "수량: " + intent.Quantity.String(), cause.Error()}},
		},
		Footer:    "거래소에서 주문 체결 여부를 직접 확인하세요. 이 규칙은 다시 실행되지 않습니다.",
		Timestamp: now,
	}
}

func expiredMessage(r rule.WatchRule, name string, now time.Time) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Icon:  "⌛",
		Title: titleExpired,
		Sections: []notifier.MessageSection{
			{Title: "규칙", Lines: append(ruleLines(r, name), "유효기간: "+r.Expiry.Format(time.DateOnly))},
		},
		Timestamp: now,
	}
}

func baselineMessage(r rule.WatchRule, name string, baseline decimal.Decimal, now time.Time) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Icon:  "📌",
		Title: titleBaseline,
		Sections: []notifier.MessageSection{
			{Title: "규칙", Lines: ruleLines(r, name)},
			{Title: "기준가", Lines: []string{formatPrice(baseline)}},
		},
		Timestamp: now,
	}
}

func rejectedMessage(path string, rejected []*rule.ConfigError, now time.Time) notifier.StructuredMessage {
	lines := make([]string, 0, len(rejected))
	for _, rej := range rejected {
		lines = append(lines, rej.Error())
	}
	return notifier.StructuredMessage{
		Icon:      "🚫",
		Title:     fmt.Sprintf("%s (%d건)", titleRejected, len(rejected)),
		Sections:  []notifier.MessageSection{{Title: path, Lines: lines}},
		Footer:    "위 행은 감시에서 제외되었습니다.",
		Timestamp: now,
	}
}

func firstPassMessage(rec database.TickRecord, counts map[string]int, now time.Time) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Icon:  "👀",
		Title: titleFirstPass,
		Sections: []notifier.MessageSection{
			{Title: "첫 감시", Lines: []string{
				fmt.Sprintf("평가 %d / 활성 %d", rec.Evaluated, rec.Active),
				fmt.Sprintf("주문 %d, 실패 %d, 만료 %d", rec.Fired, rec.Failed, rec.Expired),
			}},
			{Title: "규칙", Lines: countLines(counts)},
		},
		Timestamp: now,
	}
}

func hourlyMessage(st Status, counts map[string]int, now time.Time) notifier.StructuredMessage {
	prices := make([]string, 0, len(st.LastPrices))
	for market, p := range st.LastPrices {
		prices = append(prices, market+": "+p)
	}
	sort.Strings(prices)
	tick := []string{fmt.Sprintf("누적 %d회", st.Ticks)}
	if !st.LastTick.StartedAt.IsZero() {
		tick = append(tick, "마지막: "+st.LastTick.StartedAt.In(now.Location()).Format("15:04:05"))
	}
	return notifier.StructuredMessage{
		Icon:  "🕐",
		Title: titleHourly,
		Sections: []notifier.MessageSection{
			{Title: "규칙", Lines: countLines(counts)},
			{Title: "감시", Lines: tick},
			{Title: "현재가", Lines: prices},
		},
		Timestamp: now,
	}
}

func reloadMessage(path string, s rule.LoadSummary, now time.Time) notifier.StructuredMessage {
	lines := []string{
		fmt.Sprintf("전체 %d / 신규 %d / 유지 %d / 제거 %d", s.Total, s.Added, s.Kept, len(s.Removed)),
	}
	for _, r := range s.Removed {
		lines = append(lines, "제거: "+r.String())
	}
	return notifier.StructuredMessage{
		Icon:      "🔄",
		Title:     titleReload,
		Sections:  []notifier.MessageSection{{Title: path, Lines: lines}},
		Timestamp: now,
	}
}

func shutdownMessage(counts map[string]int, now time.Time) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Icon:      "🛑",
		Title:     titleShutdown,
		Sections:  []notifier.MessageSection{{Title: "규칙", Lines: countLines(counts)}},
		Timestamp: now,
	}
}

func haltedMessage(err error, now time.Time) notifier.StructuredMessage {
	return notifier.StructuredMessage{
		Icon:      "⛔",
		Title:     titleHalted,
		Sections:  []notifier.MessageSection{{Title: "오류", Lines: []string{err.Error()}}},
		Footer:    "API 키와 허용 IP를 확인한 뒤 다시 시작하세요.",
		Timestamp: now,
	}
}
