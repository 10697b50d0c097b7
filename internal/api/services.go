package api

import "github.com/storylingo/storylingo-server/internal/service"

// Services groups the business services used by the API server.
type Services struct {
	Progress *service.ProgressService
	Stats    *service.StatsService
}
