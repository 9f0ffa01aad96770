package model

import "time"

// Role is a fixed authorization level.
type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks whether the role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleOperator, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// Capability is an operation a role may be allowed to perform.
type Capability string

const (
	CapSubmit   Capability = "submit"
	CapQuery    Capability = "query"
	CapOverride Capability = "override"
	CapManage   Capability = "manage"
)

var roleCapabilities = map[Role][]Capability{
	RoleOperator:   {CapSubmit, CapQuery},
	RoleSupervisor: {CapSubmit, CapQuery, CapOverride},
	RoleAdmin:      {CapSubmit, CapQuery, CapOverride, CapManage},
}

// Can reports whether the role grants the capability.
func (r Role) Can(c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// AtLeast reports whether r grants every capability of other.
func (r Role) AtLeast(other Role) bool {
	for _, c := range roleCapabilities[other] {
		if !r.Can(c) {
			return false
		}
	}
	return true
}

// User is a row of the user table.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	Disabled     bool      `json:"disabled,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is an authenticated login.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	LastSeen  time.Time `json:"last_seen"`
	Revoked   bool      `json:"revoked,omitempty"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
