package server

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/profilehub/profilehub/internal/apierror"
	"github.com/profilehub/profilehub/internal/config"
	"github.com/profilehub/profilehub/internal/metrics"
	"github.com/profilehub/profilehub/internal/routes"
)

// multipart framing on top of the image itself
const bodyLimitSlack = 64 << 10

// Backends holds the store handles main opened for the configured driver.
// Unused handles stay nil.
type Backends struct {
	Postgres *pgxpool.Pool
	SQLite   *sql.DB
	Cache    *redis.Client
}

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, b Backends, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             cfg.MaxUploadBytes + bodyLimitSlack,
		ErrorHandler:          apierror.Handler(logger),
		DisableStartupMessage: !cfg.IsDev(),
	})

	err := routes.Setup(app, routes.Deps{
		Cfg:     cfg,
		DB:      b.Postgres,
		SQLite:  b.SQLite,
		Cache:   b.Cache,
		Logger:  logger,
		Metrics: metrics.New(),
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// App exposes the underlying Fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
