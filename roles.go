package auth

import (
	"strings"
)

// Role is the user's role
type Role string

const (
	// RoleAdmin manages users, memberships and reports
	RoleAdmin Role = "admin"
	// RoleTrainer runs classes
	RoleTrainer Role = "trainer"
	// RoleMember holds a current membership
	RoleMember Role = "member"
	// RoleNonMember is a registered user without a current membership
	RoleNonMember Role = "non_member"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleTrainer, RoleMember, RoleNonMember:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleTrainer,
		RoleMember,
		RoleNonMember,
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	return role, role.IsValid()
}

// RoleSet is a closed set of roles a guard accepts
type RoleSet map[Role]struct{}

// NewRoleSet builds a RoleSet, ignoring unknown roles
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r.IsValid() {
			set[r] = struct{}{}
		}
	}
	return set
}

// Contains reports whether role is part of the set
func (s RoleSet) Contains(role Role) bool {
	_, ok := s[role]
	return ok
}

// Roles returns the members of the set in declaration order
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, len(s))
	for _, r := range GetAllRoles() {
		if s.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}
