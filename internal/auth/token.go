package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for token verification. The gate maps all three to 401;
// they stay distinct so tests and logs can tell the failure modes apart.
var (
	ErrMalformed    = errors.New("token malformed")
	ErrBadSignature = errors.New("token signature invalid")
	ErrExpired      = errors.New("token expired")
)

// Claims is the verified content of a token. Roles are already normalized;
// an empty Roles slice is a valid outcome and is NOT a verification failure.
type Claims struct {
	Subject   string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// tokenClaims is the wire shape of the JWT payload. The roles claim is a
// tagged union (single string or list) decoded by RoleClaim.
type tokenClaims struct {
	jwt.RegisteredClaims
	Roles RoleClaim `json:"roles,omitempty"`
}

// Codec issues and verifies HMAC-SHA256 signed tokens. It is a pure function
// of its inputs, the shared secret, and the clock. Every service verifying
// a token holds the same secret and needs no shared session store.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a Codec signing and verifying with the given shared secret.
func NewCodec(secret []byte) *Codec {
	return &Codec{
		secret: secret,
		now:    time.Now,
	}
}

// Issue produces a signed token for subject with the given roles, valid for ttl.
func (c *Codec) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	now := c.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: RoleClaim(roles),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims with the role set
// normalized. Expiry is checked against the codec clock, so an expired token
// fails with ErrExpired regardless of how it was signed.
func (c *Codec) Verify(token string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)

	var parsed tokenClaims
	_, err := parser.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrBadSignature
		default:
			return Claims{}, ErrMalformed
		}
	}

	if parsed.Subject == "" {
		return Claims{}, ErrMalformed
	}

	claims := Claims{
		Subject: parsed.Subject,
		Roles:   NormalizeRoles(parsed.Roles),
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}
