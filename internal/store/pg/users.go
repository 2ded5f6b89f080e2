package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"daleel.org/internal/auth"
)

const pgErrUniqueViolation = "23505"

var _ auth.UserDirectory = (*Users)(nil)

// Open returns a pooled *sql.DB backed by the pgx driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Users implements auth.UserDirectory on top of the users table.
type Users struct {
	db  *sql.DB
	now func() time.Time
}

func NewUsers(db *sql.DB) *Users {
	return &Users{db: db, now: time.Now}
}

// WithClock overrides the clock used for UpdatedAt.
func (s *Users) WithClock(fn func() time.Time) *Users {
	if fn != nil {
		s.now = fn
	}
	return s
}

const userColumns = `id, username, email, password_hash, role, is_active, last_login, created_at, updated_at, deleted_at`

func (s *Users) Create(ctx context.Context, u *auth.User) error {
	if u == nil || u.ID == "" || u.Username == "" {
		return fmt.Errorf("%w: id and username are required", auth.ErrInvalidInput)
	}
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(`+userColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.ID, u.Username, nullIfEmpty(u.Email), u.PasswordHash, string(u.Role), u.IsActive,
		u.LastLogin, u.CreatedAt, u.UpdatedAt, u.DeletedAt,
	)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: username %q", auth.ErrConflict, u.Username)
	}
	return err
}

func (s *Users) GetByID(ctx context.Context, id string, includeDeleted bool) (*auth.User, error) {
	return s.getOne(ctx, `id = $1`, id, includeDeleted)
}

func (s *Users) GetByUsername(ctx context.Context, username string, includeDeleted bool) (*auth.User, error) {
	return s.getOne(ctx, `username = $1`, username, includeDeleted)
}

func (s *Users) getOne(ctx context.Context, where string, arg string, includeDeleted bool) (*auth.User, error) {
	query := `select ` + userColumns + ` from users where ` + where
	if !includeDeleted {
		query += ` and deleted_at is null`
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Update writes every mutable column. Username and created_at never change.
func (s *Users) Update(ctx context.Context, u *auth.User) error {
	if u == nil {
		return fmt.Errorf("%w: user is required", auth.ErrInvalidInput)
	}
	updated := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		update users
		set email=$2, password_hash=$3, role=$4, is_active=$5, last_login=$6, deleted_at=$7, updated_at=$8
		where id=$1`,
		u.ID, nullIfEmpty(u.Email), u.PasswordHash, string(u.Role), u.IsActive, u.LastLogin, u.DeletedAt, updated,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	u.UpdatedAt = updated
	return nil
}

// RecordLogin touches last_login alone so concurrent admin changes survive.
func (s *Users) RecordLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set last_login=$2, updated_at=$3
		where id=$1 and is_active and deleted_at is null`,
		id, at.UTC(), s.now().UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Users) List(ctx context.Context, includeDeleted bool) ([]*auth.User, error) {
	query := `select ` + userColumns + ` from users`
	if !includeDeleted {
		query += ` where deleted_at is null`
	}
	query += ` order by created_at asc, id asc`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u         auth.User
		email     sql.NullString
		role      string
		lastLogin sql.NullTime
		deletedAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &role, &u.IsActive,
		&lastLogin, &u.CreatedAt, &u.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Role = auth.Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLogin = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		u.DeletedAt = &t
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
