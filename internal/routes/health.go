package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/profilehub/profilehub/internal/identity"
)

const healthTimeout = 2 * time.Second

// RegisterHealthRoutes adds a readiness endpoint covering the profile store
// and, when configured, Redis.
func RegisterHealthRoutes(app *fiber.App, repo identity.Repository, cache *redis.Client) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		storeStatus := "ok"
		redisStatus := "disabled"

		ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			storeStatus = "unavailable"
		}
		if cache != nil {
			redisStatus = "ok"
			if err := cache.Ping(ctx).Err(); err != nil {
				redisStatus = "unavailable"
			}
		}

		status := http.StatusOK
		if storeStatus != "ok" || redisStatus == "unavailable" {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"store": storeStatus, "redis": redisStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
