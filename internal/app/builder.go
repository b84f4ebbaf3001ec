package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"upbitmt/internal/config"
	"upbitmt/internal/dispatch"
	"upbitmt/internal/executor"
	"upbitmt/internal/gateway/database"
	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/gateway/notifier"
	"upbitmt/internal/gateway/upbit"
	"upbitmt/internal/logger"
	"upbitmt/internal/pkg/symbol"
	"upbitmt/internal/rule"
	"upbitmt/internal/rulesource"
	"upbitmt/internal/store"
	"upbitmt/internal/store/sqlite"
	"upbitmt/internal/strategy/condition"
	"upbitmt/internal/strategy/quantity"
	livehttp "upbitmt/internal/transport/http/live"

	"github.com/shopspring/decimal"
)

// Exchange is everything the engine needs from the venue.
type Exchange interface {
	exchange.PriceSource
	exchange.ExtremesSource
	exchange.HoldingsSource
	exchange.OrderExecutor
	exchange.OrderLookup
	exchange.CandleSource
	exchange.MarketLister
	Authenticated() bool
}

type AppBuilder struct {
	cfg *config.Config

	exchangeFn func(config.UpbitConfig, *time.Location) (Exchange, error)
	notifierFn func(config.NotifyConfig) (notifier.TextNotifier, error)
	storeFn    func(path string) (store.Store, error)
	tickLogFn  func(path string) (*database.TickLog, error)
}

type AppBuilderOption func(*AppBuilder)

// WithExchange replaces the Upbit client, mainly for tests.
func WithExchange(ex Exchange) AppBuilderOption {
	return func(b *AppBuilder) {
		b.exchangeFn = func(config.UpbitConfig, *time.Location) (Exchange, error) { return ex, nil }
	}
}

func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(config.NotifyConfig) (notifier.TextNotifier, error) { return n, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		exchangeFn: newUpbitExchange,
		notifierFn: notifier.New,
		storeFn:    newStateStore,
		tickLogFn:  database.NewTickLog,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func newUpbitExchange(cfg config.UpbitConfig, loc *time.Location) (Exchange, error) {
	return upbit.NewClient(cfg, loc)
}

func newStateStore(path string) (store.Store, error) {
	return sqlite.NewSqliteStore(path)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	loc := cfg.App.Location()
	app := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	ex, err := b.exchangeFn(cfg.Upbit, loc)
	if err != nil {
		return nil, fmt.Errorf("init exchange client: %w", err)
	}

	catalog, err := loadCatalog(ctx, ex)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ market catalog loaded: %d KRW markets", catalog.Len())

	source, err := rulesource.Open(cfg.Rules.Path, catalog, loc)
	if err != nil {
		return nil, fmt.Errorf("open rule source: %w", err)
	}

	base, err := b.notifierFn(cfg.Notify)
	if err != nil {
		return nil, err
	}
	async := notifier.NewAsync(base, cfg.Notify.QueueSize)
	app.notifier = async

	var states store.Store
	if path := strings.TrimSpace(cfg.Storage.StateDBPath); path != "" {
		if states, err = b.storeFn(path); err != nil {
			return nil, fmt.Errorf("open state db: %w", err)
		}
		app.closers = append(app.closers, states.Close)
	}
	var ticks *database.TickLog
	if path := strings.TrimSpace(cfg.Storage.TickLogPath); path != "" {
		if ticks, err = b.tickLogFn(path); err != nil {
			return nil, fmt.Errorf("open tick log: %w", err)
		}
		app.closers = append(app.closers, ticks.Close)
	}

	var (
		exec   exchange.OrderExecutor = ex
		lookup exchange.OrderLookup   = ex
	)
	if cfg.Engine.DryRun {
		paper := executor.NewPaper()
		exec, lookup = paper, paper
	}
	var holdings exchange.HoldingsSource = ex
	if !ex.Authenticated() {
		holdings = executor.EmptyHoldings{}
	}

	summary := newStartupSummary(cfg, catalog.Len(), ex.Authenticated())
	rules := rule.NewStore(cfg.Engine.RetryCeiling)
	engine, err := dispatch.New(dispatch.Params{
		Settings:  dispatch.SettingsFromConfig(cfg),
		Rules:     rules,
		Source:    source,
		Evaluator: condition.NewEvaluator(rules, ex),
		Resolver:  quantity.NewResolver(quantity.WithMinNotional(decimal.NewFromFloat(cfg.Engine.MinNotional))),
		Prices:    ex,
		Extremes:  ex,
		Holdings:  holdings,
		Executor:  exec,
		Lookup:    lookup,
		Notifier:  async,
		States:    states,
		Ticks:     ticks,
		Namer:     catalog,
		Location:  loc,
		Runtime:   summary.Lines(),
	})
	if err != nil {
		return nil, err
	}
	app.engine = engine
	app.Summary = summary

	if cfg.Rules.Watch {
		app.watcher = rulesource.NewWatcher(cfg.Rules.Path, time.Duration(cfg.Rules.DebounceMS)*time.Millisecond)
	}
	if addr := strings.TrimSpace(cfg.App.HTTPAddr); addr != "" {
		var orders store.OrderRepository
		if states != nil {
			orders = states.Orders()
		}
		app.liveHTTP, err = livehttp.NewServer(livehttp.ServerConfig{
			Addr:   addr,
			Engine: engine,
			Orders: orders,
			Ticks:  ticks,
			Namer:  catalog,
		})
		if err != nil {
			return nil, err
		}
	}
	ok = true
	return app, nil
}

// loadCatalog builds the alias table rule files are resolved against.
func loadCatalog(ctx context.Context, lister exchange.MarketLister) (*symbol.Catalog, error) {
	markets, err := lister.Markets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load market catalog: %w", err)
	}
	listings := make([]symbol.Listing, 0, len(markets))
	for _, m := range markets {
		listings = append(listings, symbol.Listing{Market: m.Market, KoreanName: m.KoreanName, EnglishName: m.EnglishName})
	}
	catalog := symbol.NewCatalog(symbol.DefaultQuote)
	for _, alias := range catalog.Replace(listings) {
		logger.Warnf("ambiguous market alias dropped: %s", alias)
	}
	if catalog.Len() == 0 {
		return nil, fmt.Errorf("load market catalog: no %s markets listed", symbol.DefaultQuote)
	}
	return catalog, nil
}

func provideAppBuilder(cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}

func provideApp(ctx context.Context, b *AppBuilder) (*App, error) {
	return b.Build(ctx)
}
