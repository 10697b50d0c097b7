package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// storePingTimeout bounds the store check so a stuck database cannot hang probes.
const storePingTimeout = 2 * time.Second

// Health states, worst last.
const (
	healthOK       = "healthy"
	healthDegraded = "degraded"
	healthDown     = "unhealthy"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports server uptime and whether the progress store answers",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth is the result of probing one dependency.
type ComponentHealth struct {
	Status  string `json:"status" doc:"healthy, degraded or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Probe round trip"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Worst status across components"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"database": s.probeStore(ctx),
	}

	overall := healthOK
	for _, c := range components {
		overall = worse(overall, c.Status)
	}

	return &HealthOutput{Body: HealthResponse{
		Status:     overall,
		Version:    apiVersion,
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Components: components,
	}}, nil
}

func (s *Server) probeStore(ctx context.Context) ComponentHealth {
	if s.store == nil {
		return ComponentHealth{Status: healthDegraded, Message: "no store configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()

	start := time.Now()
	err := s.store.Ping(ctx)
	latency := time.Since(start).String()
	if err != nil {
		s.logger.Warn("store health check failed", "error", err)
		return ComponentHealth{Status: healthDown, Latency: latency, Message: "store ping failed"}
	}
	return ComponentHealth{Status: healthOK, Latency: latency}
}

func worse(a, b string) string {
	rank := func(s string) int {
		switch s {
		case healthOK:
			return 0
		case healthDegraded:
			return 1
		default:
			return 2
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
