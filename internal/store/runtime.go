package store

import (
	"encoding/json"
	"time"

	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/rule"
	"upbitmt/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type ruleSnapshot struct {
	Asset     string `json:"asset"`
	Reason    string `json:"reason"`
	TradeType string `json:"trade_type"`
	Target    string `json:"target"`
	Unit      string `json:"unit"`
	Condition string `json:"condition"`
	Quantity  string `json:"quantity"`
	PriceMode string `json:"price_mode"`
	Expiry    string `json:"expiry"`
	Active    bool   `json:"active"`
}

// RuleStateFromRule builds the row that persists r's runtime.
func RuleStateFromRule(r rule.WatchRule) *model.RuleStateModel {
	snap, _ := json.Marshal(ruleSnapshot{
		Asset:     r.Asset,
		Reason:    r.Reason,
		TradeType: r.TradeType.String(),
		Target:    r.Target.String(),
		Unit:      r.PriceUnit.String(),
		Condition: r.Condition.String(),
		Quantity:  r.Quantity.String(),
		PriceMode: r.PriceMode.String(),
		Expiry:    r.Expiry.Format(time.DateOnly),
		Active:    r.Active,
	})
	rt := r.Runtime
	m := &model.RuleStateModel{
		RuleID:         r.ID,
		Market:         r.Asset,
		TradeType:      r.TradeType.String(),
		State:          rt.State.String(),
		RetryCount:     rt.RetryCount,
		HasBaseline:    rt.HasBaseline,
		OrderID:        rt.OrderID,
		LastError:      rt.LastError,
		NeedsReconcile: rt.NeedsReconcile,
		RuleJSON:       datatypes.JSON(snap),
		UpdatedAt:      rt.UpdatedAt,
	}
	if rt.HasBaseline {
		m.Baseline = rt.Baseline.String()
	}
	return m
}

// RuntimeFromModel is the inverse of RuleStateFromRule for the runtime part.
func RuntimeFromModel(m model.RuleStateModel) rule.Runtime {
	rt := rule.Runtime{
		State:          rule.ParseState(m.State),
		RetryCount:     m.RetryCount,
		HasBaseline:    m.HasBaseline,
		OrderID:        m.OrderID,
		LastError:      m.LastError,
		NeedsReconcile: m.NeedsReconcile,
	}
	if m.UpdatedAtUnix > 0 {
		rt.UpdatedAt = time.Unix(m.UpdatedAtUnix, 0)
	}
	if m.HasBaseline {
		if v, err := decimal.NewFromString(m.Baseline); err == nil {
			rt.Baseline = v
		} else {
			rt.HasBaseline = false
		}
	}
	return rt
}

// RuntimesByRule indexes persisted states for rule.Store.Restore.
func RuntimesByRule(states []model.RuleStateModel) map[string]rule.Runtime {
	out := make(map[string]rule.Runtime, len(states))
	for _, st := range states {
		out[st.RuleID] = RuntimeFromModel(st)
	}
	return out
}

// OrderFromIntent builds the order row for a submission attempt.
func OrderFromIntent(intent exchange.OrderIntent, trigger decimal.Decimal, status model.OrderStatus, res exchange.OrderResult, submitErr error) *model.OrderModel {
	m := &model.OrderModel{
		Identifier:   intent.Identifier,
		RuleID:       intent.RuleID,
		Market:       intent.Market,
		Side:         string(intent.Side),
		Quantity:     intent.Quantity.String(),
		Notional:     intent.Notional.String(),
		PriceMode:    "market",
		TriggerPrice: trigger.String(),
		Status:       status,
		ExchangeID:   res.OrderID,
	}
	if !intent.PriceMode.IsMarket() {
		m.PriceMode = "limit"
		m.LimitPrice = intent.PriceMode.Limit.String()
	}
	if submitErr != nil {
		m.Error = submitErr.Error()
	}
	if json.Valid(res.Raw) {
		m.RawResponse = datatypes.JSON(res.Raw)
	}
	if !res.AcceptedAt.IsZero() {
		m.SubmittedUnix = res.AcceptedAt.Unix()
	} else {
		m.SubmittedUnix = time.Now().Unix()
	}
	return m
}
