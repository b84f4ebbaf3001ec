package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"upbitmt/internal/config"
	"upbitmt/internal/gateway/database"
	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/logger"
	"upbitmt/internal/pkg/circuit"
	"upbitmt/internal/rule"
	"upbitmt/internal/store"
	"upbitmt/internal/store/model"
	"upbitmt/internal/strategy/condition"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// tickState is the shared view of one tick. Markets run in their own
// goroutine when workers > 1, so counters and the portfolio are guarded.
type tickState struct {
	today  time.Time
	prices map[string]exchange.PriceSnapshot

	mu        sync.Mutex
	portfolio exchange.Portfolio
	rec       database.TickRecord
}

func (st *tickState) holdings() exchange.Portfolio {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.portfolio
}

func (st *tickState) setHoldings(pf exchange.Portfolio) {
	st.mu.Lock()
	st.portfolio = pf
	st.mu.Unlock()
}

func (st *tickState) count(fn func(rec *database.TickRecord)) {
	st.mu.Lock()
	fn(&st.rec)
	st.mu.Unlock()
}

// Tick runs one full pass. Only fatal errors (bad credentials) are returned;
// everything else is recorded on the rule and retried next tick.
func (e *Engine) Tick(ctx context.Context) (database.TickRecord, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	started := e.now()
	st := &tickState{
		today:  e.today(),
		prices: make(map[string]exchange.PriceSnapshot),
	}
	st.rec.StartedAt = started

	err := e.tick(ctx, st)
	if err != nil {
		st.rec.Error = err.Error()
	}
	st.rec.Duration = e.now().Sub(started)
	e.finishTick(ctx, st)
	return st.rec, err
}

func (e *Engine) tick(ctx context.Context, st *tickState) error {
	for _, r := range e.rules.Sweep(st.today) {
		st.rec.Expired++
		e.saveRule(ctx, r)
		logger.Infof("rule expired: %s (expiry %s)", r, r.Expiry.Format(time.DateOnly))
		e.send(expiredMessage(r, e.displayName(r.Asset), e.now()))
	}

	// Group by market in load order; rules of one market run sequentially.
	groups := make(map[string][]rule.WatchRule)
	var markets []string
	for r := range e.rules.ActiveRules(st.today) {
		if _, ok := groups[r.Asset]; !ok {
			markets = append(markets, r.Asset)
		}
		groups[r.Asset] = append(groups[r.Asset], r)
		st.rec.Active++
	}
	if len(markets) == 0 {
		return nil
	}

	if err := e.snapshotPrices(ctx, st, markets); err != nil {
		return err
	}
	if len(st.prices) == 0 {
		return nil
	}
	pf, err := e.holdings.Portfolio(ctx)
	if err != nil {
		if exchange.IsFatal(err) {
			return err
		}
		logger.Warnf("holdings unavailable, skipping tick: %v", err)
		st.rec.Error = err.Error()
		return nil
	}
	st.setHoldings(pf)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.settings.Workers)
	for _, market := range markets {
		if _, ok := st.prices[market]; !ok {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		rules := groups[market]
		group.Go(func() error {
			for _, r := range rules {
				if gctx.Err() != nil {
					return nil
				}
				if err := e.processRule(gctx, st, r); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return group.Wait()
}

// snapshotPrices fetches one ticker per market, plus recent candle extremes
// when configured. A market whose price fails is skipped for this tick.
func (e *Engine) snapshotPrices(ctx context.Context, st *tickState, markets []string) error {
	for _, market := range markets {
		if ctx.Err() != nil {
			return nil
		}
		var snap exchange.PriceSnapshot
		err := e.breaker(market).Do(func() error {
			var err error
			snap, err = e.prices.CurrentPrice(ctx, market)
			return err
		}, exchange.IsTransient)
		if err != nil {
			if exchange.IsFatal(err) {
				return err
			}
			st.rec.PriceErrors++
			if !errors.Is(err, circuit.ErrOpen) {
				logger.Warnf("price for %s unavailable: %v", market, err)
			}
			continue
		}
		if e.settings.CandleExtremes > 0 && e.extremes != nil {
			ext, err := e.extremes.RecentExtremes(ctx, market, e.settings.CandleExtremes)
			if err != nil {
				logger.Debugf("candle extremes for %s unavailable: %v", market, err)
			} else {
				snap.High, snap.Low = ext.High, ext.Low
			}
		}
		st.prices[market] = snap
	}
	return nil
}

func (e *Engine) processRule(ctx context.Context, st *tickState, r rule.WatchRule) error {
	snap := st.prices[r.Asset]
	pf := st.holdings()
	obs := condition.Observation{Price: snap, Reference: e.reference(r, snap, pf)}

	dec, err := e.evaluator.Evaluate(ctx, r, obs, st.today)
	if err != nil {
		if exchange.IsFatal(err) {
			return err
		}
		logger.Warnf("evaluate %s: %v", r, err)
		return nil
	}
	st.count(func(rec *database.TickRecord) { rec.Evaluated++ })

	switch {
	case dec.Expired:
		updated, err := e.rules.MarkExpired(r.ID)
		if err != nil {
			return nil
		}
		st.count(func(rec *database.TickRecord) { rec.Expired++ })
		e.saveRule(ctx, updated)
		e.send(expiredMessage(updated, e.displayName(r.Asset), e.now()))
		return nil
	case dec.BaselineSet:
		if updated, ok := e.rules.Get(r.ID); ok {
			e.saveRule(ctx, updated)
		}
		logger.Infof("baseline set for %s: %s", r, formatPrice(dec.Baseline))
		e.send(baselineMessage(r, e.displayName(r.Asset), dec.Baseline, e.now()))
		return nil
	case !dec.Trigger:
		logger.Debugf("no trigger %s observed=%s target=%s", r.ID, dec.Observed, dec.Target)
		return nil
	}

	st.count(func(rec *database.TickRecord) { rec.Triggered++ })
	logger.Infof("triggered %s observed=%s target=%s", r, formatPrice(dec.Observed), formatPrice(dec.Target))

	intent, err := e.resolver.Resolve(r, snap, pf)
	if err != nil {
		e.fail(ctx, st, r, err)
		return nil
	}
	intent.Identifier = e.newID()

	res, err := e.submit(ctx, intent)
	if errors.Is(err, exchange.ErrOutcomeUnknown) {
		got, found, lerr := e.reconcile(ctx, intent)
		switch {
		case found:
			res, err = got, nil
		case lerr == nil:
			// The exchange has no order under this identifier; retry as a
			// normal attempt with a fresh identifier.
			err = fmt.Errorf("%w; no order with identifier %s", err, intent.Identifier)
		default:
			e.needsReconcile(ctx, st, r, intent, dec.Observed, fmt.Errorf("%w; lookup: %v", err, lerr))
			return nil
		}
	}
	if err != nil {
		e.saveOrder(ctx, intent, dec.Observed, model.OrderStatusRejected, exchange.OrderResult{}, err)
		if exchange.IsFatal(err) {
			return err
		}
		e.fail(ctx, st, r, err)
		return nil
	}

	e.fired(ctx, st, r, intent, res, dec)
	return nil
}

// submit sends the order on a context detached from shutdown, bounded by the
// order timeout, so a cancelled tick never abandons an order in flight.
func (e *Engine) submit(ctx context.Context, intent exchange.OrderIntent) (exchange.OrderResult, error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settings.OrderTimeout)
	defer cancel()
	res, err := e.executor.Submit(sctx, intent)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, exchange.ErrOutcomeUnknown) {
		err = fmt.Errorf("%w: %v", exchange.ErrOutcomeUnknown, err)
	}
	return res, err
}

// reconcile looks the order up by identifier. found=false with a nil error
// is a definitive answer; an error means the exchange could not be asked.
func (e *Engine) reconcile(ctx context.Context, intent exchange.OrderIntent) (exchange.OrderResult, bool, error) {
	if e.lookup == nil {
		return exchange.OrderResult{}, false, errors.New("order lookup not configured")
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settings.OrderTimeout)
	defer cancel()
	res, found, err := e.lookup.LookupOrder(lctx, intent.Identifier)
	if err != nil {
		logger.Warnf("reconcile %s: %v", intent.Identifier, err)
		return exchange.OrderResult{}, false, err
	}
	if found {
		logger.Infof("reconciled order %s -> %s (%s)", intent.Identifier, res.OrderID, res.State)
	} else {
		logger.Warnf("reconcile %s: exchange has no such order", intent.Identifier)
	}
	return res, found, nil
}

func (e *Engine) fired(ctx context.Context, st *tickState, r rule.WatchRule, intent exchange.OrderIntent, res exchange.OrderResult, dec condition.Decision) {
	status := model.OrderStatusAccepted
	if e.settings.DryRun {
		status = model.OrderStatusPaper
	}
	updated, err := e.rules.MarkFired(r.ID, res.OrderID)
	if err != nil {
		logger.Errorf("mark fired %s: %v", r.ID, err)
	}
	e.persistOutcome(ctx, updated, intent, dec.Observed, status, res, nil)
	st.count(func(rec *database.TickRecord) { rec.Fired++ })
	logger.Infof("order placed %s %s qty=%s notional=%s id=%s", intent.Market, intent.Side, intent.Quantity, intent.Notional, res.OrderID)
	e.send(firedMessage(updated, e.displayName(r.Asset), intent, res, dec, e.now()))

	pf, err := e.holdings.Portfolio(ctx)
	if err != nil {
		logger.Warnf("refresh holdings after fill: %v", err)
		return
	}
	st.setHoldings(pf)
	msg := holdingsMessage(pf, e.now())
	logger.InfoBlock(msg.Render())
	e.send(msg)
}

// fail counts one attempt against the retry ceiling. The user hears about it
// only when the rule becomes terminal.
func (e *Engine) fail(ctx context.Context, st *tickState, r rule.WatchRule, cause error) {
	updated, terminal, err := e.rules.MarkFailed(r.ID, cause.Error())
	if err != nil {
		logger.Errorf("mark failed %s: %v", r.ID, err)
		return
	}
	e.saveRule(ctx, updated)
	if !terminal {
		logger.Warnf("attempt %d/%d failed for %s: %v", updated.Runtime.RetryCount, e.rules.RetryCeiling(), r, cause)
		return
	}
	st.count(func(rec *database.TickRecord) { rec.Failed++ })
	logger.Errorf("rule failed after %d attempts: %s: %v", updated.Runtime.RetryCount, r, cause)
	e.send(failedMessage(updated, e.displayName(r.Asset), cause, e.now()))
}

func (e *Engine) needsReconcile(ctx context.Context, st *tickState, r rule.WatchRule, intent exchange.OrderIntent, trigger decimal.Decimal, cause error) {
	updated, err := e.rules.MarkNeedsReconcile(r.ID, cause.Error())
	if err != nil {
		logger.Errorf("mark reconcile %s: %v", r.ID, err)
	}
	e.persistOutcome(ctx, updated, intent, trigger, model.OrderStatusUnknown, exchange.OrderResult{}, cause)
	st.count(func(rec *database.TickRecord) { rec.Failed++ })
	logger.Errorf("order outcome unknown, manual check needed: %s identifier=%s: %v", r, intent.Identifier, cause)
	e.send(reconcileMessage(updated, e.displayName(r.Asset), intent, cause, e.now()))
}

func (e *Engine) persistOutcome(ctx context.Context, r rule.WatchRule, intent exchange.OrderIntent, trigger decimal.Decimal, status model.OrderStatus, res exchange.OrderResult, cause error) {
	if e.states == nil {
		return
	}
	dctx := context.WithoutCancel(ctx)
	err := store.WithTx(dctx, e.states, func(uow store.UnitOfWork) error {
		if r.ID != "" {
			if err := uow.RuleStates().Save(dctx, store.RuleStateFromRule(r)); err != nil {
				return err
			}
		}
		return uow.Orders().Save(dctx, store.OrderFromIntent(intent, trigger, status, res, cause))
	})
	if err != nil {
		logger.Warnf("persist order %s: %v", intent.Identifier, err)
	}
}

func (e *Engine) saveOrder(ctx context.Context, intent exchange.OrderIntent, trigger decimal.Decimal, status model.OrderStatus, res exchange.OrderResult, cause error) {
	e.persistOutcome(ctx, rule.WatchRule{}, intent, trigger, status, res, cause)
}

// reference is the base of a percentage target: the average buy price of the
// holding or the daily open, depending on configuration.
func (e *Engine) reference(r rule.WatchRule, snap exchange.PriceSnapshot, pf exchange.Portfolio) decimal.Decimal {
	if r.PriceUnit != rule.UnitPercentage || r.IsBaseline() {
		return decimal.Zero
	}
	if e.settings.PercentReference == config.PercentRefAvgBuyPrice {
		if avg := pf.Holding(r.Asset).AvgBuyPrice; avg.IsPositive() {
			return avg
		}
	}
	return snap.Open
}

func (e *Engine) finishTick(ctx context.Context, st *tickState) {
	rec := st.rec
	rec.Prices = make(map[string]string, len(st.prices))
	for market, snap := range st.prices {
		rec.Prices[market] = snap.Price.String()
	}
	if e.ticks != nil {
		id, err := e.ticks.Insert(context.WithoutCancel(ctx), rec)
		if err != nil {
			logger.Warnf("tick log: %v", err)
		}
		rec.ID = id
	}
	st.rec = rec
	e.setStatus(func(s *Status) {
		s.LastTick = rec
		s.Ticks++
		if len(rec.Prices) > 0 {
			s.LastPrices = rec.Prices
		}
	})
}
