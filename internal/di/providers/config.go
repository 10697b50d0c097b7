// Package providers contains dependency injection providers for the StoryLingo progress server.
package providers

import (
	"os"

	"github.com/samber/do/v2"

	"github.com/storylingo/storylingo-server/internal/config"
	"github.com/storylingo/storylingo-server/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(_ do.Injector) (*config.Config, error) {
	return config.LoadConfig(os.Args[1:])
}

// LoggerHandle wraps the logger so the rotating log file is closed on shutdown.
type LoggerHandle struct {
	*logger.Logger
}

// Shutdown implements do.Shutdownable.
func (h *LoggerHandle) Shutdown() error {
	return h.Close()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*LoggerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
		File:        cfg.Logger.File,
		MaxSizeMB:   cfg.Logger.MaxSizeMB,
		MaxBackups:  cfg.Logger.MaxBackups,
		MaxAgeDays:  cfg.Logger.MaxAgeDays,
	})

	log.Info("Starting StoryLingo progress server",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"log_file", cfg.Logger.File,
		"store", cfg.Store.Backend,
	)

	return &LoggerHandle{Logger: log}, nil
}
