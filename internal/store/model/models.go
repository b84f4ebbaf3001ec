package model

import (
	"time"

	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusAccepted OrderStatus = "accepted"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusUnknown  OrderStatus = "unknown"
	OrderStatusPaper    OrderStatus = "paper"
)

// RuleStateModel is the persisted runtime of one watch rule. Decimal values
// are stored as strings to keep exact digits.
type RuleStateModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	RuleID         string         `gorm:"column:rule_id;uniqueIndex"`
	Market         string         `gorm:"column:market;index"`
	TradeType      string         `gorm:"column:trade_type"`
	State          string         `gorm:"column:state"`
	RetryCount     int            `gorm:"column:retry_count"`
	Baseline       string         `gorm:"column:baseline"`
	HasBaseline    bool           `gorm:"column:has_baseline"`
	OrderID        string         `gorm:"column:order_id"`
	LastError      string         `gorm:"column:last_error"`
	NeedsReconcile bool           `gorm:"column:needs_reconcile"`
	RuleJSON       datatypes.JSON `gorm:"column:rule_json;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`

	UpdatedAt time.Time `gorm:"-"`
}

func (RuleStateModel) TableName() string { return "rule_states" }

// OrderModel records one submission and what the exchange said about it.
type OrderModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Identifier    string         `gorm:"column:identifier;uniqueIndex"`
	RuleID        string         `gorm:"column:rule_id;index"`
	Market        string         `gorm:"column:market"`
	Side          string         `gorm:"column:side"`
	Quantity      string         `gorm:"column:quantity"`
	Notional      string         `gorm:"column:notional"`
	PriceMode     string         `gorm:"column:price_mode"`
	LimitPrice    string         `gorm:"column:limit_price"`
	TriggerPrice  string         `gorm:"column:trigger_price"`
	Status        OrderStatus    `gorm:"column:status"`
	ExchangeID    string         `gorm:"column:exchange_id"`
	Error         string         `gorm:"column:error"`
	RawResponse   datatypes.JSON `gorm:"column:raw_response;type:TEXT"`
	SubmittedUnix int64          `gorm:"column:submitted_at"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }
