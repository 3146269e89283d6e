package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clevy11/bytebites-orders/internal/domain/user"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create persists a new user, mapping a duplicate email to user.ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, u *user.User) (*user.User, error) {
	saved := *u
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, password_hash, role)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		u.Email, u.Name, u.PasswordHash, u.Role,
	).Scan(&saved.ID, &saved.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, user.ErrEmailTaken
		}
		return nil, errors.Wrap(err, "insert user")
	}
	return &saved, nil
}

// FindByEmail returns the user with the given email or user.ErrNotFound.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.findOne(ctx, `WHERE email = $1`, email)
}

// FindByID returns the user with the given ID or user.ErrNotFound.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	return r.findOne(ctx, `WHERE id = $1`, id)
}

func (r *UserRepository) findOne(ctx context.Context, where string, arg any) (*user.User, error) {
	var u user.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, role, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrap(err, "query user")
	}
	return &u, nil
}
