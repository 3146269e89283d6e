package auth

import (
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
)

// Canonical role tags shared across services.
const (
	RoleCustomer        = "ROLE_CUSTOMER"
	RoleRestaurantOwner = "ROLE_RESTAURANT_OWNER"
	RoleAdmin           = "ROLE_ADMIN"
)

// RoleClaim decodes the roles claim of a token, which historically appears as
// either a single string or a list of strings depending on the issuer.
type RoleClaim []string

// UnmarshalJSON accepts both claim shapes at the deserialization boundary.
func (r *RoleClaim) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = RoleClaim{single}
		return nil
	}

	var multiple []string
	if err := json.Unmarshal(data, &multiple); err == nil {
		*r = RoleClaim(multiple)
		return nil
	}

	return errors.New("roles claim must be a string or a list of strings")
}

// NormalizeRoles canonicalizes raw role entries: trims whitespace, drops empty
// entries, uppercases, ensures the ROLE_ prefix, and deduplicates while
// preserving first-seen order. The result may be empty; callers decide what
// an empty role set means.
func NormalizeRoles(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, role := range raw {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		role = strings.ToUpper(role)
		if !strings.HasPrefix(role, "ROLE_") {
			role = "ROLE_" + role
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
