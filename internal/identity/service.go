package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

const defaultStoreTimeout = 3 * time.Second

// Hasher is the credential primitive the service depends on.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) bool
	Burn(secret string)
}

// Recorder observes operation outcomes.
type Recorder interface {
	Observe(op, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) Observe(string, string) {}

// Service implements registration, authentication, profile updates and the
// directory listing. It holds no per-request state.
type Service struct {
	repo     Repository
	hasher   Hasher
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used for infrastructure failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder attaches an outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewService creates a new identity service.
func NewService(repo Repository, hasher Hasher, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		hasher:   hasher,
		timeout:  defaultStoreTimeout,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register creates a new identity bound to either an email or a phone.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Profile, error) {
	const op = "identity.Register"

	displayName := strings.TrimSpace(in.DisplayName)
	identifier := strings.TrimSpace(in.Identifier)
	switch {
	case displayName == "":
		return s.fail(op, invalid(op, "display name is required"))
	case in.Secret == "":
		return s.fail(op, invalid(op, "secret is required"))
	case identifier == "":
		return s.fail(op, invalid(op, "email or phone is required"))
	}
	if in.IdentifierMode != ModeEmail && in.IdentifierMode != ModePhone {
		return s.fail(op, invalid(op, "identifier mode must be email or phone"))
	}

	hash, err := s.hasher.Hash(in.Secret)
	if err != nil {
		return s.fail(op, OpError{Op: op, Kind: ErrStoreUnavailable, Msg: "hash secret", Err: err})
	}

	rec := Identity{
		DisplayName: displayName,
		SecretHash:  hash,
		About:       in.About,
		Location:    in.Location,
		AvatarRef:   in.AvatarRef,
	}
	if in.IdentifierMode == ModeEmail {
		rec.Email = strPtr(identifier)
	} else {
		rec.Phone = strPtr(identifier)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	created, err := s.repo.Insert(ctx, rec)
	if err != nil {
		return s.fail(op, s.storeErr(op, err))
	}

	s.logger.Info("identity registered", slog.String("id", created.ID), slog.String("mode", string(in.IdentifierMode)))
	s.recorder.Observe(op, "ok")
	return Sanitize(created), nil
}

// Authenticate checks a secret against the identity found under the given
// identifier. Every refusal is the same ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (Profile, error) {
	const op = "identity.Authenticate"

	identifier := strings.TrimSpace(creds.Identifier)
	if identifier == "" || creds.Secret == "" {
		return s.fail(op, invalid(op, "provide email/phone and secret"))
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		rec Identity
		err error
	)
	switch creds.IdentifierMode {
	case ModeEmail:
		rec, err = s.repo.FindByEmail(lookupCtx, identifier)
	case ModePhone:
		rec, err = s.repo.FindByPhone(lookupCtx, identifier)
	default:
		return s.fail(op, invalid(op, "identifier mode must be email or phone"))
	}
	if err != nil {
		if IsNotFound(err) {
			s.hasher.Burn(creds.Secret)
			return s.fail(op, OpError{Op: op, Kind: ErrInvalidCredentials})
		}
		return s.fail(op, s.storeErr(op, err))
	}

	if rec.SecretHash == "" {
		s.hasher.Burn(creds.Secret)
		return s.fail(op, OpError{Op: op, Kind: ErrInvalidCredentials})
	}
	if !s.hasher.Verify(creds.Secret, rec.SecretHash) {
		return s.fail(op, OpError{Op: op, Kind: ErrInvalidCredentials})
	}

	s.recorder.Observe(op, "ok")
	return Sanitize(rec), nil
}

// Update applies the non-empty fields of in to the identity with the given id.
// Empty fields leave the stored value untouched; this call cannot clear a field.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (Profile, error) {
	const op = "identity.Update"

	id = strings.TrimSpace(id)
	if id == "" {
		return s.fail(op, invalid(op, "id is required"))
	}

	var patch Patch
	if v := strings.TrimSpace(in.DisplayName); v != "" {
		patch.DisplayName = strPtr(v)
	}
	if v := strings.TrimSpace(in.Email); v != "" {
		patch.Email = strPtr(v)
	}
	if v := strings.TrimSpace(in.Phone); v != "" {
		patch.Phone = strPtr(v)
	}
	if strings.TrimSpace(in.About) != "" {
		patch.About = strPtr(in.About)
	}
	if strings.TrimSpace(in.Location) != "" {
		patch.Location = strPtr(in.Location)
	}
	if strings.TrimSpace(in.AvatarRef) != "" {
		patch.AvatarRef = strPtr(in.AvatarRef)
	}
	if in.Secret != "" {
		hash, err := s.hasher.Hash(in.Secret)
		if err != nil {
			return s.fail(op, OpError{Op: op, Kind: ErrStoreUnavailable, Msg: "hash secret", Err: err})
		}
		patch.SecretHash = strPtr(hash)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		rec Identity
		err error
	)
	if patch.Empty() {
		rec, err = s.repo.FindByID(ctx, id)
	} else {
		rec, err = s.repo.UpdateByID(ctx, id, patch)
	}
	if err != nil {
		return s.fail(op, s.storeErr(op, err))
	}

	s.recorder.Observe(op, "ok")
	return Sanitize(rec), nil
}

// Get returns a single sanitized profile.
func (s *Service) Get(ctx context.Context, id string) (Profile, error) {
	const op = "identity.Get"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rec, err := s.repo.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return s.fail(op, s.storeErr(op, err))
	}
	s.recorder.Observe(op, "ok")
	return Sanitize(rec), nil
}

// List returns every profile, newest first.
func (s *Service) List(ctx context.Context) ([]Profile, error) {
	const op = "identity.List"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	recs, err := s.repo.ListAll(ctx)
	if err != nil {
		_, err = s.fail(op, s.storeErr(op, err))
		return nil, err
	}
	s.recorder.Observe(op, "ok")
	return SanitizeAll(recs), nil
}

// storeErr passes typed store errors through and collapses everything else
// into ErrStoreUnavailable.
func (s *Service) storeErr(op string, err error) error {
	if _, ok := AsDuplicateKey(err); ok {
		return err
	}
	if IsNotFound(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OpError{Op: op, Kind: ErrStoreUnavailable, Msg: "store timeout", Err: err}
	}
	return unavailable(op, err)
}

func (s *Service) fail(op string, err error) (Profile, error) {
	s.recorder.Observe(op, outcome(err))
	if errors.Is(err, ErrStoreUnavailable) {
		s.logger.Error("identity store failure", slog.String("op", op), slog.Any("error", err))
	}
	return Profile{}, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "store_unavailable"
	}
}
