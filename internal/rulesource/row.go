// Package rulesource reads watch rules from the user's spreadsheet or YAML
// file. Both formats produce generic rows that go through one parser.
package rulesource

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/rule"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type Field string

const (
	FieldAsset        Field = "asset"
	FieldReason       Field = "reason"
	FieldTradeType    Field = "trade_type"
	FieldTarget       Field = "target"
	FieldCondition    Field = "condition"
	FieldQuantity     Field = "quantity"
	FieldQuantityUnit Field = "quantity_unit"
	FieldOrderPrice   Field = "order_price"
	FieldExpiry       Field = "expiry"
	FieldActive       Field = "active"
	FieldBaselineFrom Field = "baseline_from"
)

// headerFields maps spreadsheet headers (and their English keys) to fields.
var headerFields = map[string]Field{
	"종목명":  FieldAsset,
	"감시사유": FieldReason,
	"매매구분": FieldTradeType,
	"감시가격": FieldTarget,
	"감시조건": FieldCondition,
	"매매수량": FieldQuantity,
	"매매단위": FieldQuantityUnit,
	"매매가격": FieldOrderPrice,
	"유효기간": FieldExpiry,
	"감시중":  FieldActive,
	"기준일":  FieldBaselineFrom,
}

func fieldForHeader(h string) (Field, bool) {
	h = strings.TrimSpace(h)
	if f, ok := headerFields[h]; ok {
		return f, true
	}
	f := Field(strings.ToLower(h))
	switch f {
	case FieldAsset, FieldReason, FieldTradeType, FieldTarget, FieldCondition, FieldQuantity,
		FieldQuantityUnit, FieldOrderPrice, FieldExpiry, FieldActive, FieldBaselineFrom:
		return f, true
	}
	return "", false
}

// Cell is a raw value plus its display number format, if any.
type Cell struct {
	Value  string
	Format string
}

func (c Cell) blank() bool { return strings.TrimSpace(c.Value) == "" }

func (c Cell) percentFormatted() bool { return strings.Contains(c.Format, "%") }

type Row struct {
	Number int
	Cells  map[Field]Cell
}

func (r Row) get(f Field) Cell { return r.Cells[f] }

func (r Row) empty() bool {
	for _, c := range r.Cells {
		if !c.blank() {
			return false
		}
	}
	return true
}

// AssetResolver maps a free-form asset name onto a market code.
type AssetResolver interface {
	Resolve(alias string) (string, error)
}

type Parser struct {
	source   string
	resolver AssetResolver
	loc      *time.Location
	now      func() time.Time
}

func NewParser(source string, resolver AssetResolver, loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{source: source, resolver: resolver, loc: loc, now: time.Now}
}

// ParseRows parses every non-empty row. Bad rows come back as ConfigErrors
// and do not stop the rest.
func (p *Parser) ParseRows(rows []Row) ([]rule.WatchRule, []*rule.ConfigError) {
	var (
		rules    []rule.WatchRule
		rejected []*rule.ConfigError
	)
	for _, row := range rows {
		if row.empty() {
			continue
		}
		r, cerr := p.ParseRow(row)
		if cerr != nil {
			rejected = append(rejected, cerr)
			continue
		}
		rules = append(rules, r)
	}
	return rules, rejected
}

func (p *Parser) ParseRow(row Row) (rule.WatchRule, *rule.ConfigError) {
	fail := func(f Field, c Cell, format string, args ...any) (rule.WatchRule, *rule.ConfigError) {
		return rule.WatchRule{}, &rule.ConfigError{
			Source: p.source,
			Row:    row.Number,
			Field:  string(f),
			Value:  strings.TrimSpace(c.Value),
			Reason: fmt.Sprintf(format, args...),
		}
	}
	r := rule.WatchRule{Row: row.Number}

	assetCell := row.get(FieldAsset)
	r.Alias = strings.TrimSpace(assetCell.Value)
	if r.Alias == "" {
		return fail(FieldAsset, assetCell, "asset is required")
	}
	market, err := p.resolver.Resolve(r.Alias)
	if err != nil {
		return fail(FieldAsset, assetCell, "%v", err)
	}
	r.Asset = market
	r.Reason = strings.TrimSpace(row.get(FieldReason).Value)

	ttCell := row.get(FieldTradeType)
	tt, ok := rule.ParseTradeType(ttCell.Value)
	if !ok {
		return fail(FieldTradeType, ttCell, "trade type must be 매수, 매도 or 기준봉익절")
	}
	r.TradeType = tt

	targetCell := row.get(FieldTarget)
	target, unit, err := parseTarget(targetCell)
	if err != nil {
		return fail(FieldTarget, targetCell, "%v", err)
	}
	if !r.IsBaseline() && !target.IsPositive() && unit == rule.UnitAbsolute {
		return fail(FieldTarget, targetCell, "target price must be positive")
	}
	r.Target, r.PriceUnit = target, unit

	condCell := row.get(FieldCondition)
	if r.IsBaseline() {
		// the condition column carries the baseline start date for take-profit rows
		r.Condition = rule.GreaterOrEqual
		fromCell := row.get(FieldBaselineFrom)
		if fromCell.blank() {
			fromCell = condCell
		}
		if _, isCond := rule.ParseCondition(fromCell.Value); isCond || fromCell.blank() {
			r.BaselineFrom = rule.DateOf(p.now().In(p.loc))
		} else {
			from, err := parseDate(fromCell.Value, p.loc)
			if err != nil {
				return fail(FieldBaselineFrom, fromCell, "%v", err)
			}
			r.BaselineFrom = from
		}
	} else {
		cond, ok := rule.ParseCondition(condCell.Value)
		if !ok {
			return fail(FieldCondition, condCell, "condition must be 이상 or 이하")
		}
		r.Condition = cond
	}

	qtyCell := row.get(FieldQuantity)
	unitCell := row.get(FieldQuantityUnit)
	qty, err := parseQuantity(qtyCell, unitCell, r.IsBaseline())
	if err != nil {
		return fail(FieldQuantity, qtyCell, "%v", err)
	}
	r.Quantity = qty

	priceCell := row.get(FieldOrderPrice)
	mode, err := parseOrderPrice(priceCell)
	if err != nil {
		return fail(FieldOrderPrice, priceCell, "%v", err)
	}
	r.PriceMode = mode

	expCell := row.get(FieldExpiry)
	if expCell.blank() {
		return fail(FieldExpiry, expCell, "expiry date is required")
	}
	exp, err := parseDate(expCell.Value, p.loc)
	if err != nil {
		return fail(FieldExpiry, expCell, "%v", err)
	}
	r.Expiry = exp
	r.Active = parseActive(row.get(FieldActive).Value)
	return r, nil
}

func parseTarget(c Cell) (decimal.Decimal, rule.PriceUnit, error) {
	raw := strings.TrimSpace(c.Value)
	if raw == "" {
		return decimal.Zero, 0, fmt.Errorf("target is required")
	}
	explicitPct := strings.Contains(raw, "%")
	v, err := parseNumber(raw)
	if err != nil {
		return decimal.Zero, 0, err
	}
	switch {
	case explicitPct:
		return v, rule.UnitPercentage, nil
	case c.percentFormatted():
		return v.Mul(decimal.NewFromInt(100)), rule.UnitPercentage, nil
	default:
		return v, rule.UnitAbsolute, nil
	}
}

func parseQuantity(qty, unit Cell, baseline bool) (rule.QuantitySpec, error) {
	if qty.blank() {
		if baseline {
			return rule.QuantitySpec{}, nil
		}
		return rule.QuantitySpec{}, fmt.Errorf("quantity is required")
	}
	raw := strings.TrimSpace(qty.Value)
	explicitPct := strings.Contains(raw, "%")
	v, err := parseNumber(raw)
	if err != nil {
		return rule.QuantitySpec{}, err
	}
	if !v.IsPositive() {
		return rule.QuantitySpec{}, fmt.Errorf("quantity must be positive")
	}

	kind, ok := rule.ParseQuantityKind(unit.Value)
	if !ok {
		switch {
		case !unit.blank():
			return rule.QuantitySpec{}, fmt.Errorf("unit %q must be 개, KRW or %%", unit.Value)
		case explicitPct || qty.percentFormatted():
			kind = rule.QuantityPercent
		case strings.Contains(qty.Format, "₩") || strings.Contains(strings.ToUpper(qty.Format), "KRW"):
			kind = rule.QuantityCurrency
		default:
			kind = rule.QuantityUnits
		}
	}
	if kind == rule.QuantityPercent {
		// 0.5 in a percent-formatted cell, or a bare 0.5 with unit %, means 50%
		if !explicitPct && (qty.percentFormatted() || v.LessThanOrEqual(decimal.NewFromInt(1))) {
			v = v.Mul(decimal.NewFromInt(100))
		}
		if v.GreaterThan(decimal.NewFromInt(100)) {
			return rule.QuantitySpec{}, fmt.Errorf("percentage %s%% exceeds 100%%", v)
		}
	}
	return rule.QuantitySpec{Kind: kind, Amount: v}, nil
}

func parseOrderPrice(c Cell) (exchange.PriceMode, error) {
	raw := strings.ToLower(strings.TrimSpace(c.Value))
	switch raw {
	case "", "market", "시장가":
		return exchange.MarketPrice(), nil
	}
	v, err := parseNumber(raw)
	if err != nil {
		return exchange.PriceMode{}, fmt.Errorf("order price must be market or a number")
	}
	if !v.IsPositive() {
		return exchange.PriceMode{}, fmt.Errorf("limit price must be positive")
	}
	return exchange.LimitPrice(v), nil
}

func parseActive(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "o", "y", "yes", "true", "1", "on":
		return true
	default:
		return false
	}
}

func parseNumber(raw string) (decimal.Decimal, error) {
	s := strings.NewReplacer(",", "", "%", "", "₩", "", " ", "").Replace(strings.TrimSpace(raw))
	s = strings.TrimSuffix(strings.ToUpper(s), "KRW")
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a number", raw)
	}
	return v, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006.01.02",
	"2006/01/02",
	"20060102",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// parseDate accepts spreadsheet serial numbers and common date spellings and
// returns midnight of that calendar day in loc.
func parseDate(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 1 && serial < 200000 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad spreadsheet date %q: %w", raw, err)
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a date", raw)
}
