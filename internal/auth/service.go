package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/clevy11/bytebites-orders/internal/domain/user"
)

// ErrInvalidCredentials covers both unknown email and wrong password so the
// login response does not reveal which one failed.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Session is the outcome of a successful register, login, or refresh.
type Session struct {
	Token  string
	UserID int64
	Email  string
	Name   string
	Role   string
}

// Service issues tokens for registered users. It owns the only write path to
// the user store; everything downstream trusts tokens, not this service.
type Service struct {
	users user.Repository
	codec *Codec
	ttl   time.Duration
}

// NewService creates an auth Service issuing tokens valid for ttl.
func NewService(users user.Repository, codec *Codec, ttl time.Duration) *Service {
	return &Service{
		users: users,
		codec: codec,
		ttl:   ttl,
	}
}

// Register creates a new account and returns a session for it. An
// unrecognized role falls back to ROLE_CUSTOMER rather than failing, matching
// the registration contract: the role field is a hint, not a privilege claim.
func (s *Service) Register(ctx context.Context, email, password, name, role string) (*Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	switch role {
	case RoleCustomer, RoleRestaurantOwner, RoleAdmin:
	default:
		role = RoleCustomer
	}

	created, err := s.users.Create(ctx, &user.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create user")
	}

	return s.session(created)
}

// Login verifies credentials and returns a fresh session.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "find user")
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return s.session(u)
}

// Refresh verifies an existing token and issues a new one for the same user.
// The user record is re-read so a role change takes effect on refresh.
func (s *Service) Refresh(ctx context.Context, token string) (*Session, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}

	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "find user")
	}
	return s.session(u)
}

func (s *Service) session(u *user.User) (*Session, error) {
	token, err := s.codec.Issue(strconv.FormatInt(u.ID, 10), []string{u.Role}, s.ttl)
	if err != nil {
		return nil, errors.Wrap(err, "issue token")
	}
	return &Session{
		Token:  token,
		UserID: u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Role:   u.Role,
	}, nil
}
