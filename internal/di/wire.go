//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SabrLSM/pkg/config"
	"SabrLSM/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisClient,
		ProvideClickHouseClient,

		// Repositories and middleware
		ProvideCache,
		ProvideRunStore,
		ProvideJobQueue,
		ProvideResultPipeline,

		// Pricing
		ProvideEngine,
		ProvidePricingUseCase,

		// HTTP
		ProvideLimiter,
		ProvidePricingHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
