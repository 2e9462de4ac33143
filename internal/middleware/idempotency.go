package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/profilehub/profilehub/internal/apierror"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyReplayed  = "Idempotent-Replayed"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	maxIdempotencyKeyLen = 128
	cacheOpTimeout       = 2 * time.Second
)

// IdempotencyConfig controls replay of unsafe requests.
type IdempotencyConfig struct {
	Cache *redis.Client
	TTL   time.Duration
	// Required rejects unsafe requests that carry no Idempotency-Key.
	// When false such requests pass straight through.
	Required bool
	// Skip lists paths that always run, such as credential checks whose
	// outcome must never come from a cache.
	Skip   []string
	Logger *slog.Logger
}

type storedResponse struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

// Idempotency replays the first successful response for a repeated
// Idempotency-Key. Keys are scoped per method and path, so the same key sent
// to signup and upload does not collide. A replay whose body differs from the
// original is refused with 422. Failed requests release the key.
func Idempotency(cfg IdempotencyConfig) fiber.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	skipped := make(map[string]struct{}, len(cfg.Skip))
	for _, p := range cfg.Skip {
		skipped[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		if _, ok := skipped[c.Path()]; ok {
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			if cfg.Required {
				return apierror.New(http.StatusBadRequest, "missing Idempotency-Key header")
			}
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return apierror.New(http.StatusBadRequest, "Idempotency-Key too long")
		}

		cacheKey := idempotencyPrefix + c.Method() + ":" + c.Path() + ":" + key
		requestHash := hashBody(c.Body())

		ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		defer cancel()

		reserved, err := cfg.Cache.SetNX(ctx, cacheKey, inProgressMarker, cfg.TTL).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return apierror.New(http.StatusInternalServerError, "server error")
		}
		if !reserved {
			return replay(c, cfg.Cache, cacheKey, key, requestHash, logger)
		}

		if err := c.Next(); err != nil {
			release(cfg.Cache, cacheKey)
			return err
		}

		status := c.Response().StatusCode()
		if status >= http.StatusBadRequest {
			release(cfg.Cache, cacheKey)
			return nil
		}

		payload, err := json.Marshal(storedResponse{
			RequestHash: requestHash,
			Status:      status,
			Body:        append([]byte(nil), c.Response().Body()...),
			ContentType: string(c.Response().Header.ContentType()),
		})
		if err != nil {
			logger.Error("encode idempotent response", slog.String("key", key), slog.Any("error", err))
			release(cfg.Cache, cacheKey)
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		defer persistCancel()
		if err := cfg.Cache.Set(persistCtx, cacheKey, payload, cfg.TTL).Err(); err != nil {
			logger.Error("persist idempotent response", slog.String("key", key), slog.Any("error", err))
			cfg.Cache.Del(persistCtx, cacheKey)
		}

		return nil
	}
}

func replay(c *fiber.Ctx, cache *redis.Client, cacheKey, key, requestHash string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	cached, err := cache.Get(ctx, cacheKey).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// Released between SetNX and Get; the caller may retry.
		return apierror.New(http.StatusConflict, "duplicate request currently processing")
	case err != nil:
		logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
		return apierror.New(http.StatusInternalServerError, "server error")
	}

	if string(cached) == inProgressMarker {
		return apierror.New(http.StatusConflict, "duplicate request currently processing")
	}

	var stored storedResponse
	if err := json.Unmarshal(cached, &stored); err != nil {
		logger.Warn("decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
		return apierror.New(http.StatusConflict, "duplicate request")
	}
	if stored.RequestHash != requestHash {
		return apierror.New(http.StatusUnprocessableEntity, "Idempotency-Key reused with a different request body")
	}

	if stored.ContentType != "" {
		c.Set(fiber.HeaderContentType, stored.ContentType)
	}
	c.Set(idempotencyReplayed, "true")
	return c.Status(stored.Status).Send(stored.Body)
}

func release(cache *redis.Client, cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	cache.Del(ctx, cacheKey) // best effort
}

func hashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
