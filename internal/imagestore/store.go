// Package imagestore keeps avatar images and hands out stable reference URLs.
package imagestore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "image:v1:"

var (
	// ErrUploadFailed wraps backend failures while storing bytes.
	ErrUploadFailed = errors.New("upload failed")
	// ErrNotFound is returned for unknown image keys.
	ErrNotFound = errors.New("image not found")
	// ErrEmpty is returned when no bytes were provided.
	ErrEmpty = errors.New("no file provided")
	// ErrTooLarge is returned when the payload exceeds the configured cap.
	ErrTooLarge = errors.New("file too large")
	// ErrUnsupportedType is returned for payloads that are not images.
	ErrUnsupportedType = errors.New("file is not an image")
)

// Image is a stored payload.
type Image struct {
	ContentType string
	Data        []byte
}

// Backend persists images by key.
type Backend interface {
	Put(ctx context.Context, key string, img Image) error
	Get(ctx context.Context, key string) (Image, error)
}

// Store validates uploads, assigns keys and builds reference URLs.
type Store struct {
	backend  Backend
	baseURL  string
	maxBytes int
}

// New creates a Store. baseURL prefixes every returned reference.
func New(backend Backend, baseURL string, maxBytes int) *Store {
	return &Store{backend: backend, baseURL: strings.TrimRight(baseURL, "/"), maxBytes: maxBytes}
}

// Store saves data and returns its reference URL.
func (s *Store) Store(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if s.maxBytes > 0 && len(data) > s.maxBytes {
		return "", ErrTooLarge
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", ErrUnsupportedType
	}

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	key := strings.ToLower(id.String())
	if err := s.backend.Put(ctx, key, Image{ContentType: contentType, Data: data}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return s.baseURL + "/images/" + key, nil
}

// Load returns a stored image by key.
func (s *Store) Load(ctx context.Context, key string) (Image, error) {
	if _, err := ulid.ParseStrict(strings.ToUpper(key)); err != nil {
		return Image{}, ErrNotFound
	}
	return s.backend.Get(ctx, key)
}

// RedisBackend stores images as Redis hashes.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps a Redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Put writes the image under key.
func (b *RedisBackend) Put(ctx context.Context, key string, img Image) error {
	return b.client.HSet(ctx, keyPrefix+key, map[string]any{
		"content_type": img.ContentType,
		"data":         img.Data,
	}).Err()
}

// Get reads the image under key.
func (b *RedisBackend) Get(ctx context.Context, key string) (Image, error) {
	fields, err := b.client.HGetAll(ctx, keyPrefix+key).Result()
	if err != nil {
		return Image{}, err
	}
	data, ok := fields["data"]
	if !ok {
		return Image{}, ErrNotFound
	}
	return Image{ContentType: fields["content_type"], Data: []byte(data)}, nil
}

// MemoryBackend keeps images in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	images map[string]Image
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{images: make(map[string]Image)}
}

// Put stores a copy of img.
func (b *MemoryBackend) Put(_ context.Context, key string, img Image) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	img.Data = append([]byte(nil), img.Data...)
	b.images[key] = img
	return nil
}

// Get returns a stored image.
func (b *MemoryBackend) Get(_ context.Context, key string) (Image, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	img, ok := b.images[key]
	if !ok {
		return Image{}, ErrNotFound
	}
	return img, nil
}
