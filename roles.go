package authclient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the closed set of application roles. It is chosen at sign up and
// never changes afterwards.
type Role string

const (
	RoleCamper Role = "camper"
	RoleAdmin  Role = "admin"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleCamper, RoleAdmin:
		return true
	default:
		return false
	}
}

// DashboardPath returns the landing route for the role, "/" when unknown.
func (r Role) DashboardPath() string {
	switch r {
	case RoleAdmin:
		return "/admin"
	case RoleCamper:
		return "/camper"
	default:
		return "/"
	}
}

func (r Role) String() string {
	return string(r)
}

// UnmarshalJSON rejects roles outside the closed set. An empty string
// decodes to the zero Role.
func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw == "" {
		*r = ""
		return nil
	}

	role, ok := ParseRole(raw)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
	*r = role
	return nil
}

// AllRoles returns all predefined roles
func AllRoles() []Role {
	return []Role{RoleCamper, RoleAdmin}
}

// ParseRole safely parses a string into a Role
func ParseRole(roleStr string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(roleStr)))
	return role, role.IsValid()
}
