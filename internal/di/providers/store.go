package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/samber/do/v2"

	"github.com/storylingo/storylingo-server/internal/config"
	"github.com/storylingo/storylingo-server/internal/store"
	"github.com/storylingo/storylingo-server/internal/store/badgerstore"
	"github.com/storylingo/storylingo-server/internal/store/sqlstore"
)

// StoreHandle wraps the progress store with shutdown capability.
type StoreHandle struct {
	store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the configured storage backend.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Backend {
	case config.BackendBadger:
		if err := os.MkdirAll(cfg.Store.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data path: %w", err)
		}
		st, err = badgerstore.Open(cfg.Store.BadgerDir(), log.Logger.Logger)
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Store.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data path: %w", err)
		}
		st, err = sqlstore.OpenSQLite(cfg.Store.SQLitePath(), log.Logger.Logger)
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		st, err = sqlstore.OpenPostgres(ctx, cfg.Store.DSN, log.Logger.Logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	log.Info("Progress store ready", "backend", cfg.Store.Backend)

	return &StoreHandle{Store: st}, nil
}
