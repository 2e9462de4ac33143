package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/profilehub/profilehub/internal/config"
	"github.com/profilehub/profilehub/internal/infra"
	"github.com/profilehub/profilehub/internal/logging"
)

func testConfig(driver string) config.Config {
	return config.Config{
		AppName:        "ProfileHub",
		Env:            "test",
		Port:           "0",
		LogLevel:       "error",
		StoreDriver:    driver,
		StoreTimeout:   2 * time.Second,
		BcryptCost:     bcrypt.MinCost,
		ShutdownPeriod: time.Second,
		IdempotencyTTL: time.Minute,
		MaxUploadBytes: 1 << 20,
		PublicBaseURL:  "http://localhost:8080",
	}
}

func newTestServer(t *testing.T, cfg config.Config, b Backends) *fiber.App {
	t.Helper()
	srv, err := New(cfg, b, logging.Discard())
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv.App()
}

func withRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func call(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) (int, http.Header, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, resp.Header, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

type profileBody struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	About       string `json:"about"`
}

type errorBody struct {
	Message string `json:"message"`
	Field   string `json:"field"`
}

func TestProfileDirectoryFlow(t *testing.T) {
	app := newTestServer(t, testConfig(config.DriverMemory), Backends{Cache: withRedis(t)})

	status, _, raw := call(t, app, fiber.MethodPost, "/api/v1/signup", map[string]string{
		"displayName": "Ada", "secret": "s3cret!", "identifierMode": "email", "identifier": "ada@example.com",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("signup: %d %s", status, raw)
	}
	if strings.Contains(string(raw), "s3cret") || strings.Contains(strings.ToLower(string(raw)), "hash") {
		t.Fatalf("signup leaked secret material: %s", raw)
	}
	ada := decode[profileBody](t, raw)
	if ada.Email != "ada@example.com" || ada.Phone != "" {
		t.Fatalf("unexpected identifiers %+v", ada)
	}

	status, _, raw = call(t, app, fiber.MethodPost, "/api/v1/signup", map[string]string{
		"displayName": "Imposter", "secret": "other", "identifierMode": "email", "identifier": "ada@example.com",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("duplicate signup: %d %s", status, raw)
	}
	if eb := decode[errorBody](t, raw); eb.Field != "email" || eb.Message != "email already registered" {
		t.Fatalf("unexpected duplicate body %+v", eb)
	}

	status, _, raw = call(t, app, fiber.MethodPost, "/api/v1/signup", map[string]string{
		"displayName": "Grace", "secret": "hopper", "identifierMode": "phone", "identifier": "+15550100",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("phone signup: %d %s", status, raw)
	}
	grace := decode[profileBody](t, raw)

	_, _, wrongSecret := call(t, app, fiber.MethodPost, "/api/v1/login", map[string]string{
		"identifierMode": "email", "identifier": "ada@example.com", "secret": "nope",
	}, nil)
	status, _, unknown := call(t, app, fiber.MethodPost, "/api/v1/login", map[string]string{
		"identifierMode": "email", "identifier": "nobody@example.com", "secret": "nope",
	}, nil)
	if status != http.StatusUnauthorized || string(wrongSecret) != string(unknown) {
		t.Fatalf("login rejections differ: %d %s vs %s", status, wrongSecret, unknown)
	}

	status, _, raw = call(t, app, fiber.MethodPost, "/api/v1/login", map[string]string{
		"identifierMode": "email", "identifier": "ada@example.com", "secret": "s3cret!",
	}, nil)
	if status != http.StatusOK || decode[profileBody](t, raw).ID != ada.ID {
		t.Fatalf("login: %d %s", status, raw)
	}

	status, _, raw = call(t, app, fiber.MethodPut, "/api/v1/profiles/"+ada.ID, map[string]string{"about": "analyst"}, nil)
	if status != http.StatusOK {
		t.Fatalf("update: %d %s", status, raw)
	}
	if updated := decode[profileBody](t, raw); updated.About != "analyst" || updated.Email != ada.Email || updated.DisplayName != "Ada" {
		t.Fatalf("update did not merge: %+v", updated)
	}

	status, _, raw = call(t, app, fiber.MethodPut, "/api/v1/profiles/"+grace.ID, map[string]string{"email": "ada@example.com"}, nil)
	if status != http.StatusBadRequest || decode[errorBody](t, raw).Field != "email" {
		t.Fatalf("update collision: %d %s", status, raw)
	}

	status, _, _ = call(t, app, fiber.MethodPut, "/api/v1/profiles/missing", map[string]string{"about": "x"}, nil)
	if status != http.StatusNotFound {
		t.Fatalf("update missing: %d", status)
	}

	status, _, raw = call(t, app, fiber.MethodGet, "/api/v1/profiles", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d", status)
	}
	list := decode[[]profileBody](t, raw)
	if len(list) != 2 || list[0].ID != grace.ID || list[1].ID != ada.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}

	status, _, raw = call(t, app, fiber.MethodGet, "/api/v1/profiles/"+grace.ID, nil, nil)
	if status != http.StatusOK || decode[profileBody](t, raw).Phone != "+15550100" {
		t.Fatalf("get: %d %s", status, raw)
	}
}

func TestSignupIdempotentReplay(t *testing.T) {
	app := newTestServer(t, testConfig(config.DriverMemory), Backends{Cache: withRedis(t)})

	body := map[string]string{
		"displayName": "Ada", "secret": "s3cret!", "identifierMode": "email", "identifier": "ada@example.com",
	}
	headers := map[string]string{"Idempotency-Key": "signup-1"}

	status, _, first := call(t, app, fiber.MethodPost, "/api/v1/signup", body, headers)
	if status != http.StatusCreated {
		t.Fatalf("first: %d %s", status, first)
	}
	status, hdr, second := call(t, app, fiber.MethodPost, "/api/v1/signup", body, headers)
	if status != http.StatusCreated || hdr.Get("Idempotent-Replayed") != "true" {
		t.Fatalf("replay: %d %v", status, hdr)
	}
	if string(first) != string(second) {
		t.Fatalf("replayed body differs: %s vs %s", first, second)
	}
}

func TestLoginIsNeverReplayed(t *testing.T) {
	app := newTestServer(t, testConfig(config.DriverMemory), Backends{Cache: withRedis(t)})

	call(t, app, fiber.MethodPost, "/api/v1/signup", map[string]string{
		"displayName": "Alice", "secret": "pw1", "identifierMode": "email", "identifier": "alice@example.com",
	}, nil)
	headers := map[string]string{"Idempotency-Key": "k1"}

	status, _, raw := call(t, app, fiber.MethodPost, "/api/v1/login", map[string]string{
		"identifierMode": "email", "identifier": "alice@example.com", "secret": "pw1",
	}, headers)
	if status != http.StatusOK {
		t.Fatalf("login: %d %s", status, raw)
	}

	status, hdr, raw := call(t, app, fiber.MethodPost, "/api/v1/login", map[string]string{
		"identifierMode": "email", "identifier": "alice@example.com", "secret": "wrong",
	}, headers)
	if status != http.StatusUnauthorized || hdr.Get("Idempotent-Replayed") != "" {
		t.Fatalf("wrong secret with reused key: %d replayed=%q %s", status, hdr.Get("Idempotent-Replayed"), raw)
	}
	if eb := decode[errorBody](t, raw); eb.Message != "invalid credentials" {
		t.Fatalf("unexpected body %+v", eb)
	}
}

func TestUpdateReplayWithDifferentBodyIsRejected(t *testing.T) {
	app := newTestServer(t, testConfig(config.DriverMemory), Backends{Cache: withRedis(t)})

	_, _, raw := call(t, app, fiber.MethodPost, "/api/v1/signup", map[string]string{
		"displayName": "Alice", "secret": "pw1", "identifierMode": "email", "identifier": "alice@example.com",
	}, nil)
	alice := decode[profileBody](t, raw)
	path := "/api/v1/profiles/" + alice.ID
	headers := map[string]string{"Idempotency-Key": "u1"}

	if status, _, raw := call(t, app, fiber.MethodPut, path, map[string]string{"location": "NYC"}, headers); status != http.StatusOK {
		t.Fatalf("first update: %d %s", status, raw)
	}

	status, _, raw := call(t, app, fiber.MethodPut, path, map[string]string{"about": "new"}, headers)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for reused key with new body, got %d %s", status, raw)
	}

	status, hdr, _ := call(t, app, fiber.MethodPut, path, map[string]string{"location": "NYC"}, headers)
	if status != http.StatusOK || hdr.Get("Idempotent-Replayed") != "true" {
		t.Fatalf("identical retry: %d replayed=%q", status, hdr.Get("Idempotent-Replayed"))
	}

	status, _, raw = call(t, app, fiber.MethodPut, path, map[string]string{"about": "new"}, map[string]string{"Idempotency-Key": "u2"})
	if status != http.StatusOK || decode[profileBody](t, raw).About != "new" {
		t.Fatalf("fresh key update: %d %s", status, raw)
	}
}

func TestUploadAndServeImage(t *testing.T) {
	app := newTestServer(t, testConfig(config.DriverMemory), Backends{Cache: withRedis(t)})

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x02}, 64)...)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "avatar.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write(png)
	w.Close()

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: %d %s", resp.StatusCode, raw)
	}
	ref := decode[map[string]string](t, raw)["url"]
	u, err := url.Parse(ref)
	if err != nil || !strings.HasPrefix(u.Path, "/images/") {
		t.Fatalf("unexpected reference %q", ref)
	}

	status, hdr, data := call(t, app, fiber.MethodGet, u.Path, nil, nil)
	if status != http.StatusOK || hdr.Get(fiber.HeaderContentType) != "image/png" || !bytes.Equal(data, png) {
		t.Fatalf("serve: %d %s", status, hdr.Get(fiber.HeaderContentType))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestServer(t, testConfig(config.DriverMemory), Backends{Cache: withRedis(t)})

	status, _, raw := call(t, app, fiber.MethodGet, "/healthz", nil, nil)
	if status != http.StatusOK || !strings.Contains(string(raw), `"store":"ok"`) {
		t.Fatalf("healthz: %d %s", status, raw)
	}

	call(t, app, fiber.MethodPost, "/api/v1/login", map[string]string{
		"identifierMode": "phone", "identifier": "+1555", "secret": "x",
	}, nil)

	status, _, raw = call(t, app, fiber.MethodGet, "/metrics", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("metrics: %d", status)
	}
	if !strings.Contains(string(raw), `profilehub_identity_operations_total{op="Authenticate",outcome="invalid_credentials"} 1`) {
		t.Fatalf("expected authenticate counter in:\n%s", raw)
	}
}

func TestSQLiteDriver(t *testing.T) {
	cfg := testConfig(config.DriverSQLite)
	db, err := infra.NewSQLiteDB(context.Background(), filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	app := newTestServer(t, cfg, Backends{SQLite: db})

	body := map[string]string{
		"displayName": "Ada", "secret": "s3cret!", "identifierMode": "phone", "identifier": "+15550100",
	}
	if status, _, raw := call(t, app, fiber.MethodPost, "/api/v1/signup", body, nil); status != http.StatusCreated {
		t.Fatalf("signup: %d %s", status, raw)
	}
	status, _, raw := call(t, app, fiber.MethodPost, "/api/v1/signup", body, nil)
	if status != http.StatusBadRequest || decode[errorBody](t, raw).Field != "phone" {
		t.Fatalf("duplicate: %d %s", status, raw)
	}
}

func TestNewRejectsMissingBackends(t *testing.T) {
	if _, err := New(testConfig(config.DriverPostgres), Backends{}, logging.Discard()); err == nil {
		t.Fatal("expected error without a postgres pool")
	}

	cfg := testConfig(config.DriverMemory)
	cfg.Env = "production"
	if _, err := New(cfg, Backends{}, logging.Discard()); err == nil {
		t.Fatal("expected error without redis outside dev")
	}
}
