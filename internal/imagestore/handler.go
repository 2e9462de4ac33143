package imagestore

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/profilehub/profilehub/internal/apierror"
)

// Handler exposes upload and download endpoints.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler builds an image handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Upload accepts a multipart "file" field and returns {"url": ref}.
func (h *Handler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apierror.New(http.StatusBadRequest, ErrEmpty.Error())
	}
	if h.store.maxBytes > 0 && fh.Size > int64(h.store.maxBytes) {
		return apierror.New(http.StatusBadRequest, ErrTooLarge.Error())
	}
	f, err := fh.Open()
	if err != nil {
		return apierror.New(http.StatusBadRequest, "unreadable file")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return apierror.New(http.StatusBadRequest, "unreadable file")
	}

	ref, err := h.store.Store(c.UserContext(), data)
	switch {
	case err == nil:
		return c.Status(http.StatusOK).JSON(fiber.Map{"url": ref})
	case errors.Is(err, ErrEmpty), errors.Is(err, ErrTooLarge), errors.Is(err, ErrUnsupportedType):
		return apierror.New(http.StatusBadRequest, err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("image upload failed", slog.Any("error", err))
		}
		return apierror.New(http.StatusBadGateway, ErrUploadFailed.Error())
	}
}

// Serve writes the stored bytes for :key.
func (h *Handler) Serve(c *fiber.Ctx) error {
	img, err := h.store.Load(c.UserContext(), c.Params("key"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return apierror.New(http.StatusNotFound, ErrNotFound.Error())
		}
		return apierror.New(http.StatusBadGateway, "image store unavailable")
	}
	c.Set(fiber.HeaderContentType, img.ContentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	return c.Status(http.StatusOK).Send(img.Data)
}
