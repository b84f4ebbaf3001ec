// Package app wires configuration into a running watch engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"upbitmt/internal/config"
	"upbitmt/internal/dispatch"
	"upbitmt/internal/gateway/notifier"
	"upbitmt/internal/logger"
	"upbitmt/internal/rulesource"
	livehttp "upbitmt/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg      *config.Config
	engine   *dispatch.Engine
	watcher  *rulesource.Watcher
	liveHTTP *livehttp.Server
	notifier *notifier.Async
	closers  []func() error
	Summary  *StartupSummary

	closeOnce sync.Once
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(ctx, cfg)
}

// Run starts the engine, the rule file watcher and the status API, and
// blocks until ctx is cancelled or the engine halts. Resources are released
// on return.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, gctx := errgroup.WithContext(ctx)
	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(gctx); err != nil {
				return fmt.Errorf("status http server error: %w", err)
			}
			return nil
		})
	}
	if a.watcher != nil {
		a.watcher.Subscribe(a.engine.OnRuleFileChange(gctx))
		group.Go(func() error {
			if err := a.watcher.Run(gctx); err != nil {
				logger.Warnf("rule file watcher stopped: %v", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.engine.Run(gctx)
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Engine exposes the dispatch engine (for tests and tooling).
func (a *App) Engine() *dispatch.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Close flushes pending notifications and closes the stores.
func (a *App) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		if a.notifier != nil {
			a.notifier.Close()
			if n := a.notifier.Dropped(); n > 0 {
				logger.Warnf("%d notifications dropped (queue full)", n)
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				logger.Warnf("close: %v", err)
			}
		}
	})
}
