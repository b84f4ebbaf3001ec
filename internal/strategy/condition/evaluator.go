// Package condition decides whether a watch rule fires on the current tick.
package condition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/logger"
	"upbitmt/internal/pkg/trading"
	"upbitmt/internal/rule"

	"github.com/shopspring/decimal"
)

// ErrNoReference is returned when a percentage target has nothing to be a
// percentage of (no average buy price and no daily open).
var ErrNoReference = errors.New("no reference price for percentage target")

// BaselineRecorder persists the one-time baseline of a take-profit rule.
type BaselineRecorder interface {
	SetBaseline(id string, price decimal.Decimal) (rule.WatchRule, error)
}

// Observation is what the evaluator needs from the tick for one rule.
type Observation struct {
	Price exchange.PriceSnapshot
	// Reference is the base of percentage targets, chosen by the caller.
	Reference decimal.Decimal
}

type Decision struct {
	Trigger     bool
	Expired     bool
	BaselineSet bool
	Baseline    decimal.Decimal
	Target      decimal.Decimal
	Observed    decimal.Decimal
}

type Evaluator struct {
	recorder BaselineRecorder
	candles  exchange.CandleSource
}

func NewEvaluator(recorder BaselineRecorder, candles exchange.CandleSource) *Evaluator {
	return &Evaluator{recorder: recorder, candles: candles}
}

// Evaluate checks expiry first, then establishes a missing baseline (never
// triggering on that tick), then compares the observed price to the target.
func (e *Evaluator) Evaluate(ctx context.Context, r rule.WatchRule, obs Observation, today time.Time) (Decision, error) {
	if r.ExpiredOn(today) {
		return Decision{Expired: true}, nil
	}
	if r.IsBaseline() && !r.Runtime.HasBaseline {
		baseline, err := e.establishBaseline(ctx, r, obs.Price)
		if err != nil {
			return Decision{}, err
		}
		return Decision{BaselineSet: true, Baseline: baseline}, nil
	}

	target, err := EffectiveTarget(r, obs.Reference)
	if err != nil {
		return Decision{}, err
	}
	observed := Observed(r.Condition, obs.Price)
	if !observed.IsPositive() {
		return Decision{}, fmt.Errorf("%w: no price for %s", exchange.ErrMarketUnavailable, r.Asset)
	}
	return Decision{
		Trigger:  r.Condition.Holds(observed, target),
		Target:   target,
		Observed: observed,
		Baseline: r.Runtime.Baseline,
	}, nil
}

// ShouldTrigger is Evaluate without the side effects, for callers that only
// need the comparison. A rule without a baseline never triggers.
func ShouldTrigger(r rule.WatchRule, price exchange.PriceSnapshot, reference decimal.Decimal) bool {
	if r.IsBaseline() && !r.Runtime.HasBaseline {
		return false
	}
	target, err := EffectiveTarget(r, reference)
	if err != nil {
		return false
	}
	observed := Observed(r.Condition, price)
	return observed.IsPositive() && r.Condition.Holds(observed, target)
}

// EffectiveTarget resolves the price the rule compares against.
func EffectiveTarget(r rule.WatchRule, reference decimal.Decimal) (decimal.Decimal, error) {
	if r.IsBaseline() {
		if !r.Runtime.HasBaseline {
			return decimal.Zero, fmt.Errorf("rule %s has no baseline", r.ID)
		}
		if r.PriceUnit == rule.UnitPercentage {
			return trading.ApplyPercent(r.Runtime.Baseline, r.Target), nil
		}
		return r.Runtime.Baseline.Add(r.Target), nil
	}
	if r.PriceUnit == rule.UnitPercentage {
		if !reference.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrNoReference, r.Asset)
		}
		return trading.ApplyPercent(reference, r.Target), nil
	}
	return r.Target, nil
}

// Observed picks the recent high for >= rules and the recent low for <=
// rules when candle extremes are present, else the last price.
func Observed(c rule.Condition, p exchange.PriceSnapshot) decimal.Decimal {
	if !p.HasExtremes() {
		return p.Price
	}
	if c == rule.GreaterOrEqual {
		return decimal.Max(p.High, p.Price)
	}
	return decimal.Min(p.Low, p.Price)
}

func (e *Evaluator) establishBaseline(ctx context.Context, r rule.WatchRule, p exchange.PriceSnapshot) (decimal.Decimal, error) {
	baseline := p.Price
	if e.candles != nil && !r.BaselineFrom.IsZero() {
		low, err := lowestLow(ctx, e.candles, r.Asset, r.BaselineFrom)
		switch {
		case err != nil:
			logger.Warnf("baseline candles for %s unavailable, using live price: %v", r.Asset, err)
		case low.IsPositive():
			baseline = low
		}
	}
	if !baseline.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no price to set baseline for %s", exchange.ErrMarketUnavailable, r.Asset)
	}
	if e.recorder != nil {
		updated, err := e.recorder.SetBaseline(r.ID, baseline)
		if err != nil {
			return decimal.Zero, err
		}
		baseline = updated.Runtime.Baseline
	}
	return baseline, nil
}

func lowestLow(ctx context.Context, src exchange.CandleSource, market string, since time.Time) (decimal.Decimal, error) {
	candles, err := src.DayCandles(ctx, market, since)
	if err != nil {
		return decimal.Zero, err
	}
	low := decimal.Zero
	for _, c := range candles {
		if !c.Low.IsPositive() {
			continue
		}
		if low.IsZero() || c.Low.LessThan(low) {
			low = c.Low
		}
	}
	return low, nil
}
