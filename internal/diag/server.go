package diag

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/rageval/harness/internal/metrics"
	"github.com/rageval/harness/pkg/logger"
)

// Server exposes /health and /metrics while a run is in flight. It is
// optional: with an empty listen address nothing is started.
type Server struct {
	app  *fiber.App
	addr string
}

func NewServer(addr string) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.MetricsHandler())

	return &Server{app: app, addr: addr}
}

// Start listens in a background goroutine. Listen errors are logged, not
// fatal: diagnostics must never take the run down.
func (s *Server) Start() {
	if s.addr == "" {
		return
	}

	go func() {
		logger.Info("Diagnostics server listening", zap.String("addr", s.addr))
		if err := s.app.Listen(s.addr); err != nil {
			logger.Error("Diagnostics server stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown() error {
	if s.addr == "" {
		return nil
	}
	return s.app.Shutdown()
}
