package imagestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/profilehub/profilehub/internal/apierror"
	"github.com/profilehub/profilehub/internal/logging"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x01}, 32)...)

func newRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisBackend(client)
}

func TestStoreRoundTrip(t *testing.T) {
	backends := map[string]Backend{
		"memory": NewMemoryBackend(),
		"redis":  newRedisBackend(t),
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			store := New(backend, "http://cdn.test/", 1024)
			ctx := context.Background()

			ref, err := store.Store(ctx, pngBytes)
			if err != nil {
				t.Fatalf("store: %v", err)
			}
			if !strings.HasPrefix(ref, "http://cdn.test/images/") {
				t.Fatalf("unexpected reference %q", ref)
			}

			key := strings.TrimPrefix(ref, "http://cdn.test/images/")
			img, err := store.Load(ctx, key)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if img.ContentType != "image/png" || !bytes.Equal(img.Data, pngBytes) {
				t.Fatalf("unexpected image: %s %d bytes", img.ContentType, len(img.Data))
			}

			other, err := store.Store(ctx, pngBytes)
			if err != nil {
				t.Fatalf("store again: %v", err)
			}
			if other == ref {
				t.Fatal("expected distinct references per upload")
			}
		})
	}
}

func TestStoreRejections(t *testing.T) {
	store := New(NewMemoryBackend(), "http://cdn.test", 16)
	ctx := context.Background()

	if _, err := store.Store(ctx, nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := store.Store(ctx, pngBytes); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := store.Store(ctx, []byte("plain text")); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := store.Load(ctx, "../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type failingBackend struct{}

func (failingBackend) Put(context.Context, string, Image) error { return errors.New("redis down") }

func (failingBackend) Get(context.Context, string) (Image, error) {
	return Image{}, errors.New("redis down")
}

func TestStoreUploadFailed(t *testing.T) {
	store := New(failingBackend{}, "http://cdn.test", 1024)
	if _, err := store.Store(context.Background(), pngBytes); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
}

func multipartRequest(t *testing.T, field string, payload []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if payload != nil {
		part, err := w.CreateFormFile(field, "avatar.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(payload); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func TestHandlerUploadAndServe(t *testing.T) {
	h := NewHandler(New(NewMemoryBackend(), "", 1024), logging.Discard())
	app := fiber.New(fiber.Config{ErrorHandler: apierror.Handler(logging.Discard())})
	app.Post("/upload", h.Upload)
	app.Get("/images/:key", h.Serve)

	resp, err := app.Test(multipartRequest(t, "file", pngBytes))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.StatusCode, raw)
	}
	start := strings.Index(string(raw), "/images/")
	if start < 0 {
		t.Fatalf("no reference in %s", raw)
	}
	path := strings.TrimSuffix(string(raw)[start:], `"}`)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	served, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get(fiber.HeaderContentType) != "image/png" || !bytes.Equal(served, pngBytes) {
		t.Fatalf("unexpected serve response %d %q", resp.StatusCode, resp.Header.Get(fiber.HeaderContentType))
	}

	resp, err = app.Test(multipartRequest(t, "file", nil))
	if err != nil {
		t.Fatalf("empty upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing file, got %d", resp.StatusCode)
	}
}
