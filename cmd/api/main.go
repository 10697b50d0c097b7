// Package main provides the entry point for the StoryLingo progress server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/storylingo/storylingo-server/internal/di"
	"github.com/storylingo/storylingo-server/internal/di/providers"
)

func main() {
	injector := di.NewContainer()

	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap server: %v\n", err)
		_ = injector.Shutdown()
		os.Exit(1)
	}

	log := do.MustInvoke[*providers.LoggerHandle](injector)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server gracefully...")

	// The container stops the HTTP server and scheduler before closing the
	// store, and closes the log file last.
	if report := injector.Shutdown(); report != nil && !report.Succeed {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", report)
		os.Exit(1)
	}
}
