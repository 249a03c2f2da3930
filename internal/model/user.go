package model

import "time"

// Role is the value stored in users.role.  The set is closed; anything
// outside it is rejected before reaching the database.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleSeller     Role = "seller"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Roles lists every valid role in display order.
var Roles = []Role{RoleCustomer, RoleSeller, RoleAdmin, RoleSuperAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// HasProfile reports whether identities with this role own a row in a
// role-specific table (customers or sellers).
func (r Role) HasProfile() bool { return r == RoleCustomer || r == RoleSeller }

// IsAdmin reports whether r carries administrative privilege.
func (r Role) IsAdmin() bool { return r == RoleAdmin || r == RoleSuperAdmin }

// ProfileTable returns the role-specific table name, or "" for roles
// without a profile.
func (r Role) ProfileTable() string {
	switch r {
	case RoleCustomer:
		return "customers"
	case RoleSeller:
		return "sellers"
	}
	return ""
}

// Identity is an account as seen by callers: the local users row plus the
// role profile when the role has one.
//
// Fields:
//  ID           – users.id, assigned by MySQL.
//  Username     – unique login name, also the remote display name.
//  Email        – unique email, mirrored on the remote record.
//  Role         – one of Roles.
//  MobileNumber – optional, local only.
//  RemoteRef    – opaque id of the identity-provider record (nullable).
//  CreatedBy    – id of the identity that created this one (nullable).
//  Profile      – customers/sellers row, nil for admin roles.
type Identity struct {
	ID           uint64       `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	Role         Role         `json:"role"`
	MobileNumber *string      `json:"mobile_number,omitempty"`
	RemoteRef    *string      `json:"remote_ref,omitempty"`
	CreatedBy    *uint64      `json:"created_by,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Profile      *RoleProfile `json:"profile,omitempty"`
}

// RoleProfile mirrors a row of customers or sellers.
type RoleProfile struct {
	UserID         uint64  `json:"user_id"`
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	ProfilePicture *string `json:"profile_picture,omitempty"`
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uint64
	Role Role
}

// SystemActor is used for writes issued by background reconciliation.
var SystemActor = Actor{ID: 0, Role: RoleSuperAdmin}
