package auth

import (
	"time"

	"github.com/uptrace/bun"
)

// Identity is the resolved principal handed to protected handlers
type Identity struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Role             Role       `json:"role"`
	MembershipExpiry *time.Time `json:"membership_expiry,omitempty"`
	AutoPayment      bool       `json:"auto_payment"`
}

// MembershipExpired reports whether a member's membership ended before now.
// Members without an expiry never expire.
func (i Identity) MembershipExpired(now time.Time) bool {
	if i.Role != RoleMember || i.MembershipExpiry == nil {
		return false
	}
	return i.MembershipExpiry.Before(now)
}

// User is the user model
type User struct {
	bun.BaseModel    `bun:"table:users,alias:usr"`
	ID               string     `bun:"id,pk" json:"id,omitempty"`
	Name             string     `bun:"name,notnull" json:"name,omitempty"`
	Email            string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone            string     `bun:"phone_number,nullzero" json:"phone_number,omitempty"`
	PasswordHash     string     `bun:"password_hash,notnull" json:"-"`
	Role             Role       `bun:"role,notnull" json:"role,omitempty"`
	MembershipExpiry *time.Time `bun:"membership_expiry,nullzero" json:"membership_expiry,omitempty"`
	AutoPayment      bool       `bun:"auto_payment,notnull" json:"auto_payment"`
	CreatedAt        *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt        *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Identity projects the fields the auth core reads
func (u *User) Identity() Identity {
	if u == nil {
		return Identity{}
	}
	return Identity{
		ID:               u.ID,
		Email:            u.Email,
		Role:             u.Role,
		MembershipExpiry: u.MembershipExpiry,
		AutoPayment:      u.AutoPayment,
	}
}

// SessionEntry is a server side shortcut from a session key to a previously
// resolved identity.
type SessionEntry struct {
	Key       string    `json:"key"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionEntry snapshots identity under key
func NewSessionEntry(key string, identity Identity, now time.Time) *SessionEntry {
	return &SessionEntry{
		Key:       key,
		UserID:    identity.ID,
		Email:     identity.Email,
		Role:      identity.Role,
		CreatedAt: now,
	}
}
