package livehttp

import (
	"time"

	"upbitmt/internal/rule"
	"upbitmt/internal/store/model"
)

// RuleView is one watch rule with its runtime as exposed by the API.
type RuleView struct {
	ID             string    `json:"id"`
	Row            int       `json:"row,omitempty"`
	Asset          string    `json:"asset"`
	Name           string    `json:"name,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	TradeType      string    `json:"trade_type"`
	Target         string    `json:"target"`
	Unit           string    `json:"unit"`
	Condition      string    `json:"condition"`
	Quantity       string    `json:"quantity"`
	PriceMode      string    `json:"price_mode"`
	Expiry         string    `json:"expiry"`
	Active         bool      `json:"active"`
	State          string    `json:"state"`
	RetryCount     int       `json:"retry_count"`
	Baseline       string    `json:"baseline,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	NeedsReconcile bool      `json:"needs_reconcile,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newRuleView(r rule.WatchRule, name string) RuleView {
	v := RuleView{
		ID:             r.ID,
		Row:            r.Row,
		Asset:          r.Asset,
		Name:           name,
		Reason:         r.Reason,
		TradeType:      r.TradeType.String(),
		Target:         r.Target.String(),
		Unit:           r.PriceUnit.String(),
		Condition:      r.Condition.String(),
		Quantity:       r.Quantity.String(),
		PriceMode:      r.PriceMode.String(),
		Expiry:         r.Expiry.Format(time.DateOnly),
		Active:         r.Active,
		State:          r.Runtime.State.String(),
		RetryCount:     r.Runtime.RetryCount,
		OrderID:        r.Runtime.OrderID,
		LastError:      r.Runtime.LastError,
		NeedsReconcile: r.Runtime.NeedsReconcile,
		UpdatedAt:      r.Runtime.UpdatedAt,
	}
	if r.Runtime.HasBaseline {
		v.Baseline = r.Runtime.Baseline.String()
	}
	return v
}

// OrderView is a persisted order record.
type OrderView struct {
	Identifier   string            `json:"identifier"`
	RuleID       string            `json:"rule_id"`
	Market       string            `json:"market"`
	Side         string            `json:"side"`
	Quantity     string            `json:"quantity"`
	Notional     string            `json:"notional"`
	PriceMode    string            `json:"price_mode"`
	LimitPrice   string            `json:"limit_price,omitempty"`
	TriggerPrice string            `json:"trigger_price,omitempty"`
	Status       model.OrderStatus `json:"status"`
	ExchangeID   string            `json:"exchange_id,omitempty"`
	Error        string            `json:"error,omitempty"`
	SubmittedAt  time.Time         `json:"submitted_at"`
}

func newOrderView(o model.OrderModel) OrderView {
	return OrderView{
		Identifier:   o.Identifier,
		RuleID:       o.RuleID,
		Market:       o.Market,
		Side:         o.Side,
		Quantity:     o.Quantity,
		Notional:     o.Notional,
		PriceMode:    o.PriceMode,
		LimitPrice:   o.LimitPrice,
		TriggerPrice: o.TriggerPrice,
		Status:       o.Status,
		ExchangeID:   o.ExchangeID,
		Error:        o.Error,
		SubmittedAt:  time.Unix(o.SubmittedUnix, 0),
	}
}
