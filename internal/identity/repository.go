package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists identities. Insert and UpdateByID enforce email and
// phone uniqueness atomically and report collisions as DuplicateKeyError.
// Missing records are reported with ErrNotFound.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (Identity, error)
	FindByPhone(ctx context.Context, phone string) (Identity, error)
	FindByID(ctx context.Context, id string) (Identity, error)
	ListAll(ctx context.Context) ([]Identity, error)
	Insert(ctx context.Context, rec Identity) (Identity, error)
	UpdateByID(ctx context.Context, id string, patch Patch) (Identity, error)
	Ping(ctx context.Context) error
}

const profileColumns = `id, display_name, email, phone, secret_hash, about, location, avatar_ref, created_at, updated_at`

// PostgresRepository implements Repository using PostgreSQL. Uniqueness is
// enforced by the uq_profiles_email and uq_profiles_phone constraints.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByEmail fetches an identity by email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Identity, error) {
	const op = "identity.FindByEmail"
	row := r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email = $1`, email)
	return scanPostgres(op, row)
}

// FindByPhone fetches an identity by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Identity, error) {
	const op = "identity.FindByPhone"
	row := r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE phone = $1`, phone)
	return scanPostgres(op, row)
}

// FindByID fetches an identity by id. Ids that are not UUIDs cannot exist.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Identity, error) {
	const op = "identity.FindByID"
	pid, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, notFound(op)
	}
	row := r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, pid)
	return scanPostgres(op, row)
}

// ListAll returns every identity, newest first.
func (r *PostgresRepository) ListAll(ctx context.Context) ([]Identity, error) {
	const op = "identity.ListAll"
	rows, err := r.db.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		rec, err := scanPostgres(op, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Insert creates a record. The id and timestamps are assigned here.
func (r *PostgresRepository) Insert(ctx context.Context, rec Identity) (Identity, error) {
	const op = "identity.Insert"
	row := r.db.QueryRow(ctx, `INSERT INTO profiles
        (id, display_name, email, phone, secret_hash, about, location, avatar_ref, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
        RETURNING `+profileColumns,
		uuid.New(), rec.DisplayName, rec.Email, rec.Phone, rec.SecretHash, rec.About, rec.Location, rec.AvatarRef)
	out, err := scanPostgres(op, row)
	if err != nil {
		if field, ok := pgUniqueViolation(err); ok {
			return Identity{}, DuplicateKeyError{Op: op, Fields: fieldList(field)}
		}
		return Identity{}, err
	}
	return out, nil
}

// UpdateByID applies the non-nil patch fields in a single statement.
func (r *PostgresRepository) UpdateByID(ctx context.Context, id string, patch Patch) (Identity, error) {
	const op = "identity.UpdateByID"
	pid, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, notFound(op)
	}
	row := r.db.QueryRow(ctx, `UPDATE profiles SET
            display_name = COALESCE($2, display_name),
            email        = COALESCE($3, email),
            phone        = COALESCE($4, phone),
            secret_hash  = COALESCE($5, secret_hash),
            about        = COALESCE($6, about),
            location     = COALESCE($7, location),
            avatar_ref   = COALESCE($8, avatar_ref),
            updated_at   = now()
        WHERE id = $1
        RETURNING `+profileColumns,
		pid, patch.DisplayName, patch.Email, patch.Phone, patch.SecretHash, patch.About, patch.Location, patch.AvatarRef)
	out, err := scanPostgres(op, row)
	if err != nil {
		if field, ok := pgUniqueViolation(err); ok {
			return Identity{}, DuplicateKeyError{Op: op, Fields: fieldList(field)}
		}
		return Identity{}, err
	}
	return out, nil
}

// Ping checks connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanPostgres(op string, row pgx.Row) (Identity, error) {
	var (
		id  uuid.UUID
		rec Identity
	)
	if err := row.Scan(&id, &rec.DisplayName, &rec.Email, &rec.Phone, &rec.SecretHash,
		&rec.About, &rec.Location, &rec.AvatarRef, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, notFound(op)
		}
		return Identity{}, err
	}
	rec.ID = id.String()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// pgUniqueViolation maps a 23505 error to the logical field it guards.
func pgUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	c := strings.ToLower(pgErr.ConstraintName)
	switch {
	case c == "uq_profiles_email", strings.Contains(c, "email"):
		return "email", true
	case c == "uq_profiles_phone", strings.Contains(c, "phone"):
		return "phone", true
	default:
		return "", true
	}
}
