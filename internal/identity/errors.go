package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Callers match with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("not found")
	ErrStoreUnavailable   = errors.New("store unavailable")
)

// OpError is a typed operation error. Msg may carry human readable context
// but never secrets; Err keeps the underlying cause for logging.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// DuplicateKeyError reports which unique field(s) collided on a write.
type DuplicateKeyError struct {
	Op     string
	Fields []string
}

func (e DuplicateKeyError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, ErrDuplicateKey)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrDuplicateKey, strings.Join(e.Fields, ","))
}

func (e DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// Field returns the first colliding field.
func (e DuplicateKeyError) Field() string {
	if len(e.Fields) == 0 {
		return ""
	}
	return e.Fields[0]
}

// Message is the caller facing description of the collision.
func (e DuplicateKeyError) Message() string {
	switch e.Field() {
	case "email":
		return "email already registered"
	case "phone":
		return "phone already registered"
	default:
		return "duplicate value"
	}
}

func invalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

func notFound(op string) error {
	return OpError{Op: op, Kind: ErrNotFound, Msg: "profile not found"}
}

func unavailable(op string, cause error) error {
	return OpError{Op: op, Kind: ErrStoreUnavailable, Err: cause}
}

// AsDuplicateKey extracts a DuplicateKeyError from err.
func AsDuplicateKey(err error) (DuplicateKeyError, bool) {
	var de DuplicateKeyError
	if errors.As(err, &de) {
		return de, true
	}
	return DuplicateKeyError{}, false
}

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsInvalidCredentials reports whether err represents ErrInvalidCredentials.
func IsInvalidCredentials(err error) bool { return errors.Is(err, ErrInvalidCredentials) }

func fieldList(fields ...string) []string {
	var out []string
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
