//go:build wireinject

package app

import (
	"context"

	"upbitmt/internal/config"

	"github.com/google/wire"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, error) {
	wire.Build(provideAppBuilder, provideApp)
	return nil, nil
}
