package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Sentinel errors for user lookup and registration.
var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

// User is a registered account. PasswordHash is a bcrypt hash; the clear-text
// password never leaves the auth service.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Repository defines persistence operations for users.
type Repository interface {
	Create(ctx context.Context, u *User) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
}
