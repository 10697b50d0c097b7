package providers

import (
	"github.com/samber/do/v2"

	"github.com/storylingo/storylingo-server/internal/service"
)

// ProvideProgressService provides the story progress service.
func ProvideProgressService(i do.Injector) (*service.ProgressService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)
	return service.NewProgressService(storeHandle.Store, log.Logger.Logger), nil
}

// ProvideStatsService provides the statistics service.
func ProvideStatsService(i do.Injector) (*service.StatsService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*LoggerHandle](i)
	return service.NewStatsService(storeHandle.Store, log.Logger.Logger), nil
}
