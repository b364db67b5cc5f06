package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/arborfs/arbor/internal/metrics"
	"github.com/arborfs/arbor/internal/session"
)

// Server holds the API server dependencies.
type Server struct {
	echo    *echo.Echo
	manager *session.Manager
	log     *zap.Logger
}

// NewServer creates a new API server with all routes configured.
func NewServer(mgr *session.Manager, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		manager: mgr,
		log:     log,
	}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// One websocket connection per session.
	e.GET("/ws", s.serveSession)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	return s.echo.Close()
}
