package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/clevy11/bytebites-orders/pkg/httpmiddleware"
)

const bearerPrefix = "Bearer "

// ErrNoRoles marks a token that verified but normalized to an empty role set.
// The gate maps it to 403 so callers can tell "bad token" from "role-less token".
var ErrNoRoles = errNoRoles{}

type errNoRoles struct{}

func (errNoRoles) Error() string { return "token carries no roles" }

// Gate returns the authorization gate middleware. It must be the first
// middleware that touches business routes: it extracts the bearer token,
// verifies it, and attaches the derived Principal to the request context.
// Paths matching one of publicPrefixes bypass verification entirely.
//
// The gate holds no mutable state (the codec's secret is read-only after
// startup) and performs no I/O beyond one header read and the rejection body.
// The Authorization header is left untouched on forwarded requests so a
// downstream hop can re-verify the same token independently.
func Gate(codec *Codec, publicPrefixes []string) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range publicPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			lg := zctx.From(r.Context())

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				lg.Warn("request rejected: missing bearer token", zap.String("path", r.URL.Path))
				rejectJSON(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}

			claims, err := codec.Verify(strings.TrimPrefix(header, bearerPrefix))
			if err != nil {
				// The token value itself is never logged.
				lg.Warn("request rejected: token verification failed",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				rejectJSON(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if len(claims.Roles) == 0 {
				lg.Warn("request rejected: token carries no roles",
					zap.String("path", r.URL.Path),
					zap.String("subject", claims.Subject),
					zap.Error(ErrNoRoles),
				)
				rejectJSON(w, http.StatusForbidden, "no valid roles found in token")
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{
				Subject:   claims.Subject,
				Roles:     claims.Roles,
				IssuedAt:  claims.IssuedAt,
				ExpiresAt: claims.ExpiresAt,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns a middleware rejecting requests whose Principal lacks
// the given role. Authorization is a handler-level concern, separate from the
// gate's authentication: this runs after the gate on routes that declare a
// required role.
func RequireRole(role string) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				rejectJSON(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !p.HasRole(role) {
				zctx.From(r.Context()).Warn("request rejected: insufficient role",
					zap.String("path", r.URL.Path),
					zap.String("subject", p.Subject),
					zap.String("required_role", role),
				)
				rejectJSON(w, http.StatusForbidden, "insufficient privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    status,
		"message": message,
	})
}
