package models

import (
	"fmt"
	"strings"
)

// Role is a permission tier. Tiers are ordered by Rank, never by declaration order.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleSuperuser Role = "superuser"
)

// Rank returns the position of r in the permission order; unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	case RoleSuperuser:
		return 3
	default:
		return 0
	}
}

// Valid checks if the role is one of the known tiers.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Rank() >= min.Rank()
}

// ParseRole converts user input into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
