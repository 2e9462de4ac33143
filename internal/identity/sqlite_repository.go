package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
    id           TEXT PRIMARY KEY,
    display_name TEXT NOT NULL CHECK (trim(display_name) <> ''),
    email        TEXT,
    phone        TEXT,
    secret_hash  TEXT NOT NULL,
    about        TEXT NOT NULL DEFAULT '',
    location     TEXT NOT NULL DEFAULT '',
    avatar_ref   TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    CHECK (email IS NOT NULL OR phone IS NOT NULL)
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_profiles_email ON profiles (email)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_profiles_phone ON profiles (phone)`,
	`CREATE INDEX IF NOT EXISTS idx_profiles_created_at ON profiles (created_at DESC)`,
}

// SQLiteRepository implements Repository over a single SQLite database.
// Uniqueness is enforced by the uq_profiles_email and uq_profiles_phone indexes.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository ensures the schema exists and returns the repository.
// The caller owns db.
func NewSQLiteRepository(ctx context.Context, db *sql.DB) (*SQLiteRepository, error) {
	if db == nil {
		return nil, errors.New("identity: nil sqlite db")
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// FindByEmail fetches an identity by email.
func (r *SQLiteRepository) FindByEmail(ctx context.Context, email string) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email = ?`, email)
	return scanSQLite("identity.FindByEmail", row)
}

// FindByPhone fetches an identity by phone number.
func (r *SQLiteRepository) FindByPhone(ctx context.Context, phone string) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE phone = ?`, phone)
	return scanSQLite("identity.FindByPhone", row)
}

// FindByID fetches an identity by id.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	return scanSQLite("identity.FindByID", row)
}

// ListAll returns every identity, newest first.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]Identity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		rec, err := scanSQLite("identity.ListAll", rows)
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
func (r *SQLiteRepository) Insert(ctx context.Context, rec Identity) (Identity, error) {
	const op = "identity.Insert"
	now := toMillis(r.now())
	row := r.db.QueryRowContext(ctx, `INSERT INTO profiles
        (id, display_name, email, phone, secret_hash, about, location, avatar_ref, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING `+profileColumns,
		uuid.NewString(), rec.DisplayName, rec.Email, rec.Phone, rec.SecretHash, rec.About, rec.Location, rec.AvatarRef, now, now)
	out, err := scanSQLite(op, row)
	if err != nil {
		if field, ok := sqliteUniqueViolation(err); ok {
			return Identity{}, DuplicateKeyError{Op: op, Fields: fieldList(field)}
		}
		return Identity{}, err
	}
	return out, nil
}

// UpdateByID applies the non-nil patch fields in a single statement.
func (r *SQLiteRepository) UpdateByID(ctx context.Context, id string, patch Patch) (Identity, error) {
	const op = "identity.UpdateByID"
	row := r.db.QueryRowContext(ctx, `UPDATE profiles SET
            display_name = COALESCE(?2, display_name),
            email        = COALESCE(?3, email),
            phone        = COALESCE(?4, phone),
            secret_hash  = COALESCE(?5, secret_hash),
            about        = COALESCE(?6, about),
            location     = COALESCE(?7, location),
            avatar_ref   = COALESCE(?8, avatar_ref),
            updated_at   = ?9
        WHERE id = ?1
        RETURNING `+profileColumns,
		id, patch.DisplayName, patch.Email, patch.Phone, patch.SecretHash, patch.About, patch.Location, patch.AvatarRef, toMillis(r.now()))
	out, err := scanSQLite(op, row)
	if err != nil {
		if field, ok := sqliteUniqueViolation(err); ok {
			return Identity{}, DuplicateKeyError{Op: op, Fields: fieldList(field)}
		}
		return Identity{}, err
	}
	return out, nil
}

// Ping checks the database handle.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(op string, row sqliteScanner) (Identity, error) {
	var (
		rec       Identity
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.DisplayName, &rec.Email, &rec.Phone, &rec.SecretHash,
		&rec.About, &rec.Location, &rec.AvatarRef, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, notFound(op)
		}
		return Identity{}, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// sqliteUniqueViolation maps a unique index failure to the logical field.
func sqliteUniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	unique := false
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			unique = true
		}
	}
	message := strings.ToLower(err.Error())
	if !unique && !strings.Contains(message, "unique constraint failed") {
		return "", false
	}
	switch {
	case strings.Contains(message, "profiles.email"):
		return "email", true
	case strings.Contains(message, "profiles.phone"):
		return "phone", true
	default:
		return "", true
	}
}
