package routes

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/profilehub/profilehub/internal/config"
	"github.com/profilehub/profilehub/internal/credential"
	"github.com/profilehub/profilehub/internal/identity"
	"github.com/profilehub/profilehub/internal/imagestore"
	"github.com/profilehub/profilehub/internal/metrics"
	"github.com/profilehub/profilehub/internal/middleware"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	SQLite  *sql.DB
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
	}

	repo, err := profileStore(d)
	if err != nil {
		return err
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDev() {
		// [HH:MM:SS] 201 -  145ms POST /api/v1/signup
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger, "/healthz", "/metrics"))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(middleware.IdempotencyConfig{
			Cache:    d.Cache,
			TTL:      d.Cfg.IdempotencyTTL,
			Required: d.Cfg.IdempotencyRequired,
			Skip:     []string{"/api/v1/login"},
			Logger:   d.Logger,
		}))
	}

	RegisterHealthRoutes(app, repo, d.Cache)
	app.Get("/metrics", d.Metrics.Handler())

	// Services and handlers
	profiles := identity.NewService(repo, credential.NewHasher(d.Cfg.BcryptCost),
		identity.WithStoreTimeout(d.Cfg.StoreTimeout),
		identity.WithLogger(d.Logger),
		identity.WithRecorder(d.Metrics),
	)

	var backend imagestore.Backend
	if d.Cache != nil {
		backend = imagestore.NewRedisBackend(d.Cache)
	} else {
		backend = imagestore.NewMemoryBackend()
	}
	images := imagestore.New(backend, d.Cfg.PublicBaseURL, d.Cfg.MaxUploadBytes)

	api := app.Group("/api/v1")
	RegisterIdentityRoutes(api, identity.NewHandler(profiles))
	RegisterImageRoutes(app, api, imagestore.NewHandler(images, d.Logger))

	return nil
}

func profileStore(d Deps) (identity.Repository, error) {
	switch d.Cfg.StoreDriver {
	case config.DriverPostgres:
		if d.DB == nil {
			return nil, fmt.Errorf("postgres pool is required for STORE_DRIVER=%s", d.Cfg.StoreDriver)
		}
		return identity.NewPostgresRepository(d.DB), nil
	case config.DriverSQLite:
		if d.SQLite == nil {
			return nil, fmt.Errorf("sqlite handle is required for STORE_DRIVER=%s", d.Cfg.StoreDriver)
		}
		return identity.NewSQLiteRepository(context.Background(), d.SQLite)
	case config.DriverMemory, "":
		return identity.NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", d.Cfg.StoreDriver)
	}
}
