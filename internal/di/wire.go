//go:build wireinject
// +build wireinject

package di

import (
	"KellyMux/pkg/config"
	"KellyMux/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Engine
		ProvideMultiplexer,
		ProvideAdminService,

		// Adapters
		ProvideIngest,
		ProvideOutput,
		ProvidePortfolioCollector,
		ProvideAdminHandler,
		ProvideAdminServer,

		// Application server
		ProvideLifecycle,
		ProvideStateSource,
		ProvideApp,
	)
	return &server.App{}, nil
}
