// Package rule holds watch rules and their runtime state.
package rule

import (
	"fmt"
	"strings"
	"time"

	"upbitmt/internal/gateway/exchange"

	"github.com/shopspring/decimal"
)

type TradeType int

const (
	TradeBuy TradeType = iota + 1
	TradeSell
	// TradeBaselineTakeProfit sells when price clears a recorded baseline plus a delta.
	TradeBaselineTakeProfit
)

func (t TradeType) String() string {
	switch t {
	case TradeBuy:
		return "매수"
	case TradeSell:
		return "매도"
	case TradeBaselineTakeProfit:
		return "기준봉익절"
	default:
		return fmt.Sprintf("TradeType(%d)", int(t))
	}
}

// Side maps the trade type onto an order direction.
func (t TradeType) Side() exchange.Side {
	if t == TradeBuy {
		return exchange.SideBuy
	}
	return exchange.SideSell
}

func ParseTradeType(raw string) (TradeType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "매수", "buy":
		return TradeBuy, true
	case "매도", "sell":
		return TradeSell, true
	case "기준봉익절", "baseline_take_profit", "baseline":
		return TradeBaselineTakeProfit, true
	default:
		return 0, false
	}
}

type PriceUnit int

const (
	UnitAbsolute PriceUnit = iota
	UnitPercentage
)

func (u PriceUnit) String() string {
	if u == UnitPercentage {
		return "%"
	}
	return "KRW"
}

type Condition int

const (
	GreaterOrEqual Condition = iota + 1
	LessOrEqual
)

func (c Condition) String() string {
	switch c {
	case GreaterOrEqual:
		return "이상"
	case LessOrEqual:
		return "이하"
	default:
		return fmt.Sprintf("Condition(%d)", int(c))
	}
}

func ParseCondition(raw string) (Condition, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "이상", ">=", "gte", "greater_or_equal":
		return GreaterOrEqual, true
	case "이하", "<=", "lte", "less_or_equal":
		return LessOrEqual, true
	default:
		return 0, false
	}
}

// Holds reports whether observed satisfies the condition against target.
func (c Condition) Holds(observed, target decimal.Decimal) bool {
	switch c {
	case GreaterOrEqual:
		return observed.GreaterThanOrEqual(target)
	case LessOrEqual:
		return observed.LessThanOrEqual(target)
	default:
		return false
	}
}

type QuantityKind int

const (
	// QuantityUnset is only valid for baseline take-profit rules and means the
	// whole current holding.
	QuantityUnset QuantityKind = iota
	QuantityUnits
	QuantityCurrency
	QuantityPercent
)

func (k QuantityKind) String() string {
	switch k {
	case QuantityUnits:
		return "개"
	case QuantityCurrency:
		return "KRW"
	case QuantityPercent:
		return "%"
	default:
		return "전량"
	}
}

func ParseQuantityKind(raw string) (QuantityKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "개", "UNITS", "UNIT", "EA":
		return QuantityUnits, true
	case "KRW", "원", "CURRENCY":
		return QuantityCurrency, true
	case "%", "PERCENT", "PCT":
		return QuantityPercent, true
	default:
		return QuantityUnset, false
	}
}

type QuantitySpec struct {
	Kind   QuantityKind
	Amount decimal.Decimal
}

func Units(v decimal.Decimal) QuantitySpec    { return QuantitySpec{Kind: QuantityUnits, Amount: v} }
func Currency(v decimal.Decimal) QuantitySpec { return QuantitySpec{Kind: QuantityCurrency, Amount: v} }
func Percent(v decimal.Decimal) QuantitySpec  { return QuantitySpec{Kind: QuantityPercent, Amount: v} }

func (q QuantitySpec) String() string {
	if q.Kind == QuantityUnset {
		return q.Kind.String()
	}
	return q.Amount.String() + q.Kind.String()
}

type State int

const (
	StatePending State = iota
	StateFired
	StateExpired
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFired:
		return "fired"
	case StateExpired:
		return "expired"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func ParseState(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fired":
		return StateFired
	case "expired":
		return StateExpired
	case "failed":
		return StateFailed
	default:
		return StatePending
	}
}

func (s State) Terminal() bool {
	return s == StateFired || s == StateExpired || s == StateFailed
}

// Runtime is the engine-owned part of a rule. It never comes from the rule
// file and survives reloads for rules with the same identity.
type Runtime struct {
	State          State
	RetryCount     int
	Baseline       decimal.Decimal
	HasBaseline    bool
	OrderID        string
	LastError      string
	NeedsReconcile bool
	UpdatedAt      time.Time
}

type WatchRule struct {
	ID        string
	Row       int
	Alias     string // asset as written in the source
	Asset     string // canonical market code, e.g. KRW-BTC
	Reason    string
	TradeType TradeType
	Target    decimal.Decimal
	PriceUnit PriceUnit
	Condition Condition
	Quantity  QuantitySpec
	PriceMode exchange.PriceMode
	Expiry    time.Time // calendar date, midnight in the engine time zone
	Active    bool
	// BaselineFrom is the first day whose candles define the baseline low.
	// Zero means the baseline is captured from the live price.
	BaselineFrom time.Time

	Runtime Runtime
}

// IsBaseline reports whether the rule needs a baseline before it can trigger.
func (r WatchRule) IsBaseline() bool {
	return r.TradeType == TradeBaselineTakeProfit
}

// Identity is the reload key: asset, reason, trade type and target with its unit.
func (r WatchRule) Identity() string {
	return strings.Join([]string{
		r.Asset,
		strings.TrimSpace(r.Reason),
		r.TradeType.String(),
		r.Target.String(),
		r.PriceUnit.String(),
	}, "|")
}

// ExpiredOn reports whether the rule's last valid day is before today.
func (r WatchRule) ExpiredOn(today time.Time) bool {
	if r.Expiry.IsZero() {
		return false
	}
	return DateOf(r.Expiry).Before(DateOf(today))
}

func (r WatchRule) String() string {
	return fmt.Sprintf("%s %s %s%s %s qty=%s price=%s", r.Asset, r.TradeType, r.Target.String(), r.PriceUnit, r.Condition, r.Quantity, r.PriceMode)
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
