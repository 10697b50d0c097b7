// Package di provides dependency injection configuration for the StoryLingo progress server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/storylingo/storylingo-server/internal/config"
	"github.com/storylingo/storylingo-server/internal/di/providers"
	"github.com/storylingo/storylingo-server/internal/service"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Database layer
	do.Provide(injector, providers.ProvideStore)

	// Business services
	do.Provide(injector, providers.ProvideProgressService)
	do.Provide(injector, providers.ProvideStatsService)

	// Workers
	do.Provide(injector, providers.ProvideScheduler)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services so that configuration and connection
// errors surface before the server starts accepting requests.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.LoggerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}

	if _, err := do.Invoke[*service.ProgressService](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*service.StatsService](injector); err != nil {
		return err
	}

	if _, err := do.Invoke[*providers.SchedulerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}

	return nil
}
