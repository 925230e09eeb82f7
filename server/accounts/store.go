// Package accounts persists storefront accounts and their linked identities
// in SQLite.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brandmart/storeauth/password"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDisabled           = errors.New("account disabled")
	ErrEmailTaken         = errors.New("email already registered")
	ErrEmailUnverified    = errors.New("identity email must be verified to link an existing account")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidInput       = errors.New("invalid account input")
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account is a storefront account.
type Account struct {
	ID            string
	UserName      string
	Email         string
	PasswordHash  string
	Role          string
	Disabled      bool
	EmailVerified bool
	CreatedAt     time.Time
}

// Identity is a verified external identity presented for sign-in.
type Identity struct {
	Provider      string
	ProviderUID   string
	Email         string
	EmailVerified bool
	DisplayName   string
}

// Store manages accounts persisted in SQLite.
type Store struct {
	db     *sql.DB
	hasher *password.Argon2
	now    func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	user_name      TEXT NOT NULL,
	email          TEXT NOT NULL UNIQUE,
	password_hash  TEXT NOT NULL DEFAULT '',
	role           TEXT NOT NULL CHECK (role IN ('user', 'admin')),
	disabled       INTEGER NOT NULL DEFAULT 0,
	email_verified INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS identities (
	provider     TEXT NOT NULL,
	provider_uid TEXT NOT NULL,
	user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (provider, provider_uid)
);
CREATE INDEX IF NOT EXISTS idx_identities_user ON identities(user_id);
`

// Open opens (or creates) the database at dsn and migrates the schema. Use
// ":memory:" for an ephemeral store.
func Open(dsn string, hasher *password.Argon2) (*Store, error) {
	if hasher == nil {
		return nil, errors.New("password hasher required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open accounts db: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" alive.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate accounts schema: %w", err)
	}

	return &Store{db: db, hasher: hasher, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a password account with the user role.
func (s *Store) Register(ctx context.Context, userName, email, pw string) (*Account, error) {
	userName = strings.TrimSpace(userName)
	email = NormalizeEmail(email)
	if userName == "" || email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidInput
	}
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	a := &Account{
		ID:           uuid.NewString(),
		UserName:     userName,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUser,
		CreatedAt:    s.now().UTC(),
	}
	if err := insertAccount(ctx, s.db, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Authenticate checks email and password. Unknown emails and wrong passwords
// are indistinguishable to the caller.
func (s *Store) Authenticate(ctx context.Context, email, pw string) (*Account, error) {
	a, err := s.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.hasher.VerifyDummy(pw)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if a.PasswordHash == "" {
		s.hasher.VerifyDummy(pw)
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(pw, a.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if a.Disabled {
		return nil, ErrDisabled
	}

	if upgrade, _ := s.hasher.NeedsUpgrade(a.PasswordHash); upgrade {
		if hash, err := s.hasher.Hash(pw); err == nil {
			_, _ = s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, a.ID)
		}
	}
	return a, nil
}

// Get fetches an account by id.
func (s *Store) Get(ctx context.Context, id string) (*Account, error) {
	return queryOne(ctx, s.db, `SELECT `+accountColumns+` FROM users WHERE id = ?`, id)
}

// GetByEmail fetches an account by email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return queryOne(ctx, s.db, `SELECT `+accountColumns+` FROM users WHERE email = ?`, NormalizeEmail(email))
}

// SetRole changes an account's role.
func (s *Store) SetRole(ctx context.Context, id, role string) error {
	if role != RoleUser && role != RoleAdmin {
		return ErrInvalidRole
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return checkRowsAffected(res, ErrNotFound)
}

// SetDisabled enables or disables an account.
func (s *Store) SetDisabled(ctx context.Context, id string, disabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET disabled = ? WHERE id = ?`, boolInt(disabled), id)
	if err != nil {
		return fmt.Errorf("set disabled: %w", err)
	}
	return checkRowsAffected(res, ErrNotFound)
}

// Resolve finds or creates the account for a verified identity.
//
// Lookup order is the linked identity, then an account with the same email,
// then a new account. An existing email is linked only when the identity's
// email is verified. The whole resolution runs in one transaction, so the
// same identity always resolves to the same account.
func (s *Store) Resolve(ctx context.Context, id Identity) (*Account, bool, error) {
	if id.Provider == "" || id.ProviderUID == "" {
		return nil, false, ErrInvalidInput
	}
	id.Email = NormalizeEmail(id.Email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin resolve: %w", err)
	}
	defer tx.Rollback()

	a, created, err := s.resolveTx(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit resolve: %w", err)
	}
	return a, created, nil
}

func (s *Store) resolveTx(ctx context.Context, tx *sql.Tx, id Identity) (*Account, bool, error) {
	a, err := queryOne(ctx, tx, `SELECT `+prefixedColumns+` FROM users u
		JOIN identities i ON i.user_id = u.id
		WHERE i.provider = ? AND i.provider_uid = ?`, id.Provider, id.ProviderUID)
	if err == nil {
		if id.EmailVerified && !a.EmailVerified && a.Email == id.Email {
			if _, err := tx.ExecContext(ctx, `UPDATE users SET email_verified = 1 WHERE id = ?`, a.ID); err != nil {
				return nil, false, fmt.Errorf("mark email verified: %w", err)
			}
			a.EmailVerified = true
		}
		return a, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if id.Email == "" {
		return nil, false, ErrInvalidInput
	}

	created := false
	a, err = queryOne(ctx, tx, `SELECT `+accountColumns+` FROM users WHERE email = ?`, id.Email)
	switch {
	case err == nil:
		if !id.EmailVerified {
			return nil, false, ErrEmailUnverified
		}
	case errors.Is(err, ErrNotFound):
		a = &Account{
			ID:            uuid.NewString(),
			UserName:      userNameFor(id),
			Email:         id.Email,
			Role:          RoleUser,
			EmailVerified: id.EmailVerified,
			CreatedAt:     s.now().UTC(),
		}
		if err := insertAccount(ctx, tx, a); err != nil {
			return nil, false, err
		}
		created = true
	default:
		return nil, false, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO identities (provider, provider_uid, user_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider, provider_uid) DO NOTHING`,
		id.Provider, id.ProviderUID, a.ID, s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return nil, false, fmt.Errorf("link identity: %w", err)
	}
	return a, created, nil
}

func userNameFor(id Identity) string {
	if n := strings.TrimSpace(id.DisplayName); n != "" {
		return n
	}
	if i := strings.Index(id.Email, "@"); i > 0 {
		return id.Email[:i]
	}
	return id.Email
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const accountColumns = `id, user_name, email, password_hash, role, disabled, email_verified, created_at`

const prefixedColumns = `u.id, u.user_name, u.email, u.password_hash, u.role, u.disabled, u.email_verified, u.created_at`

func insertAccount(ctx context.Context, db execQuerier, a *Account) error {
	_, err := db.ExecContext(ctx, `INSERT INTO users (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserName, a.Email, a.PasswordHash, a.Role, boolInt(a.Disabled), boolInt(a.EmailVerified),
		a.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.email") {
			return ErrEmailTaken
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func queryOne(ctx context.Context, db execQuerier, query string, args ...any) (*Account, error) {
	var (
		a         Account
		disabled  int
		verified  int
		createdAt string
	)
	err := db.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.UserName, &a.Email, &a.PasswordHash, &a.Role, &disabled, &verified, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query account: %w", err)
	}
	a.Disabled = disabled == 1
	a.EmailVerified = verified == 1
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		a.CreatedAt = t
	}
	return &a, nil
}

func checkRowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
