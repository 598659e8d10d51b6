// Package server hosts the HTTP surface: the v1 API, health probe, and
// Prometheus metrics endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/havenloop/attune/ai/metrics"
	"github.com/havenloop/attune/internal/profile"
	apiv1 "github.com/havenloop/attune/server/router/api/v1"
)

type Server struct {
	Profile *profile.Profile

	echoServer *echo.Echo
}

// NewServer assembles the echo instance and mounts all routes.
func NewServer(_ context.Context, instanceProfile *profile.Profile, api *apiv1.APIV1Service, exporter *metrics.PrometheusExporter) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	s := &Server{
		Profile:    instanceProfile,
		echoServer: e,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	api.RegisterRoutes(e.Group("/api/v1"))

	return s, nil
}

func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "address", address)
	return s.echoServer.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	slog.Info("server stopped")
}
