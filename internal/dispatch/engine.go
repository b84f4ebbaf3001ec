// Package dispatch runs the watch loop: every tick it snapshots prices and
// holdings, evaluates the active rules in load order, sizes and submits the
// orders that trigger, and records the outcome on each rule.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"upbitmt/internal/config"
	"upbitmt/internal/gateway/database"
	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/gateway/notifier"
	"upbitmt/internal/logger"
	"upbitmt/internal/pkg/circuit"
	"upbitmt/internal/rule"
	"upbitmt/internal/rulesource"
	"upbitmt/internal/scheduler"
	"upbitmt/internal/store"
	"upbitmt/internal/strategy/condition"
	"upbitmt/internal/strategy/quantity"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Settings are the engine knobs taken from configuration.
type Settings struct {
	PollInterval     time.Duration
	Workers          int
	PercentReference string
	CandleExtremes   int
	OrderTimeout     time.Duration
	HourlyStatus     bool
	DryRun           bool
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PollInterval:     cfg.Engine.PollDuration,
		Workers:          cfg.Engine.Workers,
		PercentReference: cfg.Engine.PercentReference,
		CandleExtremes:   cfg.Engine.CandleExtremes,
		OrderTimeout:     cfg.Upbit.OrderTimeout(),
		HourlyStatus:     cfg.Engine.HourlyStatus,
		DryRun:           cfg.Engine.DryRun,
	}
}

// MarketNamer gives markets a human name for messages.
type MarketNamer interface {
	DisplayName(market string) string
}

// Params lists the engine collaborators. Extremes, Lookup, States, Ticks and
// Namer are optional.
type Params struct {
	Settings  Settings
	Rules     *rule.Store
	Source    rulesource.Source
	Evaluator *condition.Evaluator
	Resolver  *quantity.Resolver
	Prices    exchange.PriceSource
	Extremes  exchange.ExtremesSource
	Holdings  exchange.HoldingsSource
	Executor  exchange.OrderExecutor
	Lookup    exchange.OrderLookup
	Notifier  notifier.TextNotifier
	States    store.Store
	Ticks     *database.TickLog
	Namer     MarketNamer
	Location  *time.Location
	Runtime   []string
}

type Engine struct {
	settings  Settings
	rules     *rule.Store
	source    rulesource.Source
	evaluator *condition.Evaluator
	resolver  *quantity.Resolver
	prices    exchange.PriceSource
	extremes  exchange.ExtremesSource
	holdings  exchange.HoldingsSource
	executor  exchange.OrderExecutor
	lookup    exchange.OrderLookup
	notifier  notifier.TextNotifier
	states    store.Store
	ticks     *database.TickLog
	namer     MarketNamer
	loc       *time.Location
	runtime   []string

	now   func() time.Time
	newID func() string

	// tickMu keeps ticks and reloads from interleaving.
	tickMu    sync.Mutex
	restored  bool
	firstPass bool

	breakerMu sync.Mutex
	breakers  map[string]*circuit.CircuitBreaker

	statusMu sync.RWMutex
	status   Status
}

// Status is the engine's view of itself for the status API.
type Status struct {
	StartedAt  time.Time           `json:"started_at"`
	LastTick   database.TickRecord `json:"last_tick"`
	Ticks      int64               `json:"ticks"`
	LastPrices map[string]string   `json:"last_prices,omitempty"`
	Counts     map[string]int      `json:"counts"`
	DryRun     bool                `json:"dry_run"`
	Halted     string              `json:"halted,omitempty"`
	Rejected   []string            `json:"rejected,omitempty"`
	LastLoad   LoadView            `json:"last_load"`
}

// LoadView is a rule.LoadSummary reduced to counters.
type LoadView struct {
	At       time.Time `json:"at"`
	Total    int       `json:"total"`
	Added    int       `json:"added"`
	Kept     int       `json:"kept"`
	Removed  int       `json:"removed"`
	Terminal int       `json:"terminal"`
	Rejected int       `json:"rejected"`
}

func New(p Params) (*Engine, error) {
	switch {
	case p.Rules == nil:
		return nil, fmt.Errorf("dispatch: rule store is required")
	case p.Source == nil:
		return nil, fmt.Errorf("dispatch: rule source is required")
	case p.Prices == nil || p.Holdings == nil || p.Executor == nil:
		return nil, fmt.Errorf("dispatch: price, holdings and order collaborators are required")
	}
	if p.Evaluator == nil {
		p.Evaluator = condition.NewEvaluator(p.Rules, nil)
	}
	if p.Resolver == nil {
		p.Resolver = quantity.NewResolver()
	}
	if p.Notifier == nil {
		p.Notifier = notifier.Nop{}
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	if p.Settings.Workers <= 0 {
		p.Settings.Workers = 1
	}
	if p.Settings.OrderTimeout <= 0 {
		p.Settings.OrderTimeout = 15 * time.Second
	}
	if p.Settings.PercentReference == "" {
		p.Settings.PercentReference = config.PercentRefAvgBuyPrice
	}
	return &Engine{
		settings:  p.Settings,
		rules:     p.Rules,
		source:    p.Source,
		evaluator: p.Evaluator,
		resolver:  p.Resolver,
		prices:    p.Prices,
		extremes:  p.Extremes,
		holdings:  p.Holdings,
		executor:  p.Executor,
		lookup:    p.Lookup,
		notifier:  p.Notifier,
		states:    p.States,
		ticks:     p.Ticks,
		namer:     p.Namer,
		loc:       p.Location,
		runtime:   p.Runtime,
		now:       time.Now,
		newID:     uuid.NewString,
		breakers:  make(map[string]*circuit.CircuitBreaker),
		status:    Status{DryRun: p.Settings.DryRun},
	}, nil
}

// Run loads the rules, announces the start and ticks until ctx is cancelled
// or a fatal exchange error halts the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.setStatus(func(s *Status) { s.StartedAt = e.now() })
	if _, err := e.LoadRules(ctx); err != nil {
		return err
	}
	if err := e.announceStart(ctx); err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	if e.settings.HourlyStatus {
		group.Go(func() error {
			sched := scheduler.NewAlignedScheduler(gctx, time.Hour, 0)
			sched.Start(e.sendHourlyStatus)
			return nil
		})
	}
	group.Go(func() error {
		return scheduler.NewIntervalScheduler("dispatch", e.settings.PollInterval).Run(gctx, e.runTick)
	})
	err := group.Wait()
	if err != nil {
		e.setStatus(func(s *Status) { s.Halted = err.Error() })
		e.send(haltedMessage(err, e.now()))
	} else {
		e.send(shutdownMessage(e.rules.Counts(), e.now()))
	}
	return err
}

func (e *Engine) runTick(ctx context.Context) error {
	rec, err := e.Tick(ctx)
	if err != nil {
		return err
	}
	if rec.Active > 0 || rec.Expired > 0 {
		logger.Infof("tick active=%d evaluated=%d triggered=%d fired=%d failed=%d expired=%d price_errors=%d took=%s",
			rec.Active, rec.Evaluated, rec.Triggered, rec.Fired, rec.Failed, rec.Expired, rec.PriceErrors, rec.Duration.Truncate(time.Millisecond))
	}
	if !e.firstPass && ctx.Err() == nil {
		e.firstPass = true
		e.send(firstPassMessage(rec, e.rules.Counts(), e.now()))
	}
	return nil
}

// LoadRules reads the rule source into the store. Runtime saved by a
// previous process is restored on the first load only; afterwards the
// in-memory state is authoritative.
func (e *Engine) LoadRules(ctx context.Context) (rule.LoadSummary, error) {
	res, err := e.source.LoadRules(ctx)
	if err != nil {
		return rule.LoadSummary{}, fmt.Errorf("load rules from %s: %w", e.source.Path(), err)
	}

	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	summary := e.rules.Load(res.Rules)
	if !e.restored && e.states != nil {
		saved, err := e.states.RuleStates().List(ctx)
		if err != nil {
			logger.Warnf("restore rule states: %v", err)
		} else if n := e.rules.Restore(store.RuntimesByRule(saved)); n > 0 {
			logger.Infof("restored runtime state for %d rules", n)
		}
	}
	e.restored = true

	for _, r := range summary.Removed {
		logger.Infof("rule removed from %s: %s", e.source.Path(), r)
	}
	for _, rej := range res.Rejected {
		logger.Warnf("rule rejected: %v", rej)
	}
	if len(res.Rejected) > 0 {
		e.send(rejectedMessage(e.source.Path(), res.Rejected, e.now()))
	}
	for _, r := range e.rules.All() {
		e.saveRule(ctx, r)
	}
	e.setStatus(func(s *Status) {
		s.Rejected = make([]string, 0, len(res.Rejected))
		for _, rej := range res.Rejected {
			s.Rejected = append(s.Rejected, rej.Error())
		}
		s.LastLoad = LoadView{
			At:       e.now(),
			Total:    summary.Total,
			Added:    summary.Added,
			Kept:     summary.Kept,
			Removed:  len(summary.Removed),
			Terminal: summary.Terminal,
			Rejected: len(res.Rejected),
		}
		s.Counts = e.rules.Counts()
	})
	logger.Infof("rules loaded from %s: total=%d added=%d kept=%d removed=%d terminal=%d rejected=%d",
		e.source.Path(), summary.Total, summary.Added, summary.Kept, len(summary.Removed), summary.Terminal, len(res.Rejected))
	return summary, nil
}

// Reload re-reads the rule source mid-run and reports what changed.
func (e *Engine) Reload(ctx context.Context) (rule.LoadSummary, error) {
	summary, err := e.LoadRules(ctx)
	if err != nil {
		logger.Errorf("reload failed, keeping previous rules: %v", err)
		return summary, err
	}
	e.send(reloadMessage(e.source.Path(), summary, e.now()))
	return summary, nil
}

// OnRuleFileChange is the file watcher callback.
func (e *Engine) OnRuleFileChange(ctx context.Context) rulesource.ChangeListener {
	return func(path string) {
		logger.Infof("rule file changed: %s", path)
		_, _ = e.Reload(ctx)
	}
}

func (e *Engine) announceStart(ctx context.Context) error {
	pf, err := e.holdings.Portfolio(ctx)
	if err != nil {
		if exchange.IsFatal(err) {
			return fmt.Errorf("read holdings at start: %w", err)
		}
		logger.Warnf("holdings unavailable at start: %v", err)
	}
	e.send(startMessage(e.rules.All(), e.rules.Counts(), e.runtime, e.settings, e.now()))
	if err == nil {
		msg := holdingsMessage(pf, e.now())
		logger.InfoBlock(msg.Render())
		e.send(msg)
	}
	return nil
}

func (e *Engine) sendHourlyStatus() {
	st := e.Status()
	e.send(hourlyMessage(st, e.rules.Counts(), e.now()))
}

// Rules returns every loaded rule in load order.
func (e *Engine) Rules() []rule.WatchRule {
	return e.rules.All()
}

func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	st := e.status
	st.Counts = e.rules.Counts()
	return st
}

func (e *Engine) setStatus(fn func(s *Status)) {
	e.statusMu.Lock()
	fn(&e.status)
	e.statusMu.Unlock()
}

func (e *Engine) breaker(market string) *circuit.CircuitBreaker {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()
	cb, ok := e.breakers[market]
	if !ok {
		cb = circuit.NewCircuitBreaker("price:"+market, 5, 2*time.Minute)
		e.breakers[market] = cb
	}
	return cb
}

func (e *Engine) send(msg notifier.StructuredMessage) {
	if e.settings.DryRun {
		msg.Title = "[모의] " + msg.Title
	}
	if err := e.notifier.SendText(msg.Render()); err != nil {
		logger.Warnf("notification failed: %v", err)
	}
}

func (e *Engine) displayName(market string) string {
	if e.namer != nil {
		if name := e.namer.DisplayName(market); name != "" {
			return name
		}
	}
	return market
}

// saveRule persists r's runtime. Persistence errors are logged, never fatal.
func (e *Engine) saveRule(ctx context.Context, r rule.WatchRule) {
	if e.states == nil {
		return
	}
	if err := e.states.RuleStates().Save(context.WithoutCancel(ctx), store.RuleStateFromRule(r)); err != nil {
		logger.Warnf("persist rule %s: %v", r.ID, err)
	}
}

func (e *Engine) today() time.Time {
	return rule.DateOf(e.now().In(e.loc))
}

func formatPrice(d decimal.Decimal) string {
	if d.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return d.Round(0).StringFixed(0)
	}
	return d.String()
}
