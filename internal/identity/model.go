package identity

import (
	"errors"
	"strings"
	"time"
)

// IdentifierMode selects which uniqueness domain an identifier belongs to.
type IdentifierMode string

const (
	ModeEmail IdentifierMode = "email"
	ModePhone IdentifierMode = "phone"
)

// ErrUnknownMode is returned by ParseIdentifierMode for any other tag.
var ErrUnknownMode = errors.New("identifier mode must be email or phone")

// ParseIdentifierMode validates a caller supplied mode tag.
func ParseIdentifierMode(s string) (IdentifierMode, error) {
	switch IdentifierMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeEmail:
		return ModeEmail, nil
	case ModePhone:
		return ModePhone, nil
	default:
		return "", ErrUnknownMode
	}
}

// Field returns the store field name backing the mode.
func (m IdentifierMode) Field() string { return string(m) }

// Identity is the stored profile record. It carries the secret hash and must
// be passed through Sanitize before leaving the package boundary.
type Identity struct {
	ID          string
	DisplayName string
	Email       *string
	Phone       *string
	SecretHash  string `json:"-"`
	About       string
	Location    string
	AvatarRef   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Patch lists the fields UpdateByID overwrites. Nil fields are left unchanged.
type Patch struct {
	DisplayName *string
	Email       *string
	Phone       *string
	SecretHash  *string
	About       *string
	Location    *string
	AvatarRef   *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.DisplayName == nil && p.Email == nil && p.Phone == nil && p.SecretHash == nil &&
		p.About == nil && p.Location == nil && p.AvatarRef == nil
}

// RegisterInput is a signup request.
type RegisterInput struct {
	DisplayName    string
	Secret         string
	IdentifierMode IdentifierMode
	Identifier     string
	AvatarRef      string
	About          string
	Location       string
}

// Credentials is a login request.
type Credentials struct {
	IdentifierMode IdentifierMode
	Identifier     string
	Secret         string
}

// UpdateInput is a partial profile update. Empty strings mean "leave as is".
type UpdateInput struct {
	DisplayName string
	Email       string
	Phone       string
	About       string
	Location    string
	AvatarRef   string
	Secret      string
}

func strPtr(s string) *string { return &s }

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
