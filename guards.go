package auth

// Guard is an authorization predicate over a resolved identity
type Guard func(identity Identity) error

// RequireRole passes when identity holds one of allowed. Unknown roles never
// pass, regardless of allowed.
func RequireRole(identity Identity, allowed ...Role) error {
	if !identity.Role.IsValid() {
		return WrapError(ErrForbidden, nil).WithMetadata(map[string]any{"role": string(identity.Role)})
	}

	if NewRoleSet(allowed...).Contains(identity.Role) {
		return nil
	}

	return WrapError(ErrForbidden, nil).WithMetadata(map[string]any{
		"role":    string(identity.Role),
		"allowed": NewRoleSet(allowed...).Roles(),
	})
}

// RolesGuard builds a Guard over a fixed role set. Message replaces the
// default public forbidden message when set.
func RolesGuard(message string, allowed ...Role) Guard {
	set := NewRoleSet(allowed...)
	return func(identity Identity) error {
		if !identity.Role.IsValid() || !set.Contains(identity.Role) {
			return DeriveError(ErrForbidden, message, nil).WithMetadata(map[string]any{
				"role":    string(identity.Role),
				"allowed": set.Roles(),
			})
		}
		return nil
	}
}

var (
	// AdminOnly allows admins
	AdminOnly = RolesGuard("Unauthorized - Admins Only", RoleAdmin)
	// MemberAccess allows members and admins
	MemberAccess = RolesGuard("Unauthorized - Members Only", RoleMember, RoleAdmin)
	// TrainerOnly allows trainers
	TrainerOnly = RolesGuard("Trainer access required", RoleTrainer)
)

// CheckGuards runs guards in order and returns the first failure
func CheckGuards(identity Identity, guards ...Guard) error {
	for _, g := range guards {
		if g == nil {
			continue
		}
		if err := g(identity); err != nil {
			return err
		}
	}
	return nil
}
