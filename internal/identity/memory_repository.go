package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRepository struct {
	mu      sync.RWMutex
	seq     int64
	byID    map[string]Identity
	order   map[string]int64
	byEmail map[string]string
	byPhone map[string]string
	now     func() time.Time
}

// NewMemoryRepository builds an in-memory identity store for development and
// tests. Uniqueness checks and writes happen under one lock.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:    make(map[string]Identity),
		order:   make(map[string]int64),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return Identity{}, notFound("identity.FindByEmail")
	}
	return clone(r.byID[id]), nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPhone[phone]
	if !ok {
		return Identity{}, notFound("identity.FindByPhone")
	}
	return clone(r.byID[id]), nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return Identity{}, notFound("identity.FindByID")
	}
	return clone(rec), nil
}

func (r *memoryRepository) ListAll(_ context.Context) ([]Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Identity, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, clone(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return r.order[out[i].ID] > r.order[out[j].ID]
	})
	return out, nil
}

func (r *memoryRepository) Insert(_ context.Context, rec Identity) (Identity, error) {
	const op = "identity.Insert"
	r.mu.Lock()
	defer r.mu.Unlock()

	if fields := r.collisions("", rec.Email, rec.Phone); len(fields) > 0 {
		return Identity{}, DuplicateKeyError{Op: op, Fields: fields}
	}

	now := r.now()
	rec = clone(rec)
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	r.seq++
	r.byID[rec.ID] = rec
	r.order[rec.ID] = r.seq
	if rec.Email != nil {
		r.byEmail[*rec.Email] = rec.ID
	}
	if rec.Phone != nil {
		r.byPhone[*rec.Phone] = rec.ID
	}
	return clone(rec), nil
}

func (r *memoryRepository) UpdateByID(_ context.Context, id string, patch Patch) (Identity, error) {
	const op = "identity.UpdateByID"
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return Identity{}, notFound(op)
	}
	if fields := r.collisions(id, patch.Email, patch.Phone); len(fields) > 0 {
		return Identity{}, DuplicateKeyError{Op: op, Fields: fields}
	}

	if patch.Email != nil {
		if rec.Email != nil {
			delete(r.byEmail, *rec.Email)
		}
		rec.Email = strPtr(*patch.Email)
		r.byEmail[*rec.Email] = id
	}
	if patch.Phone != nil {
		if rec.Phone != nil {
			delete(r.byPhone, *rec.Phone)
		}
		rec.Phone = strPtr(*patch.Phone)
		r.byPhone[*rec.Phone] = id
	}
	if patch.DisplayName != nil {
		rec.DisplayName = *patch.DisplayName
	}
	if patch.SecretHash != nil {
		rec.SecretHash = *patch.SecretHash
	}
	if patch.About != nil {
		rec.About = *patch.About
	}
	if patch.Location != nil {
		rec.Location = *patch.Location
	}
	if patch.AvatarRef != nil {
		rec.AvatarRef = *patch.AvatarRef
	}
	rec.UpdatedAt = r.now()
	r.byID[id] = rec
	return clone(rec), nil
}

func (r *memoryRepository) Ping(context.Context) error { return nil }

// collisions must be called with the write lock held. self is the id allowed
// to already own the values.
func (r *memoryRepository) collisions(self string, email, phone *string) []string {
	var fields []string
	if email != nil {
		if owner, ok := r.byEmail[*email]; ok && owner != self {
			fields = append(fields, "email")
		}
	}
	if phone != nil {
		if owner, ok := r.byPhone[*phone]; ok && owner != self {
			fields = append(fields, "phone")
		}
	}
	return fields
}

func clone(rec Identity) Identity {
	if rec.Email != nil {
		rec.Email = strPtr(*rec.Email)
	}
	if rec.Phone != nil {
		rec.Phone = strPtr(*rec.Phone)
	}
	return rec
}
