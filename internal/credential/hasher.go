// Package credential hashes and verifies user secrets with bcrypt.
package credential

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the work factor used for interactive signup and login.
	DefaultCost = 10
	// MaxCost bounds the work factor so a single verify stays sub-second.
	MaxCost = 14
)

// ErrEmptySecret is returned when hashing an empty secret.
var ErrEmptySecret = errors.New("credential: empty secret")

// Hasher hashes and verifies secrets. Plaintext secrets are never logged or
// persisted by this type.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher returns a Hasher with the given bcrypt cost clamped to
// [bcrypt.MinCost, MaxCost]. A non-positive cost selects DefaultCost.
func NewHasher(cost int) *Hasher {
	cost = clampCost(cost)
	h := &Hasher{cost: cost}
	// Fixed digest used to spend the same work when no stored digest exists.
	h.dummy, _ = bcrypt.GenerateFromPassword([]byte("profilehub-dummy-secret"), cost)
	return h
}

func clampCost(cost int) int {
	if cost <= 0 {
		return DefaultCost
	}
	if cost < bcrypt.MinCost {
		return bcrypt.MinCost
	}
	if cost > MaxCost {
		return MaxCost
	}
	return cost
}

// Cost reports the configured work factor.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns a bcrypt digest of secret. Each call draws a fresh salt, which
// is embedded in the returned digest.
func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether secret matches digest. Malformed or empty digests
// yield false.
func (h *Hasher) Verify(secret, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}

// Burn runs a comparison against a fixed digest and discards the result.
func (h *Hasher) Burn(secret string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(secret))
}
