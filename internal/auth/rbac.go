package auth

import (
	"errors"
	"fmt"
)

// RBAC errors.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidRole      = errors.New("invalid role")
)

// Role is carried in every token.
type Role string

const (
	// RoleViewer may read state, diagnostics and the event stream.
	RoleViewer Role = "viewer"
	// RoleOperator may additionally issue guest commands and change options.
	RoleOperator Role = "operator"
)

// Roles lists the known roles.
func Roles() []Role {
	return []Role{RoleViewer, RoleOperator}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w %q: want one of %v", ErrInvalidRole, s, Roles())
	}
	return r, nil
}

// Permission represents an action that can be performed.
type Permission string

const (
	// PermissionView allows reading connections, entities and diagnostics.
	PermissionView Permission = "view"
	// PermissionControl allows issuing guest commands and entity actions.
	PermissionControl Permission = "control"
	// PermissionConfigure allows changing connection options.
	PermissionConfigure Permission = "configure"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermissionView,
	},
	RoleOperator: {
		PermissionView,
		PermissionControl,
		PermissionConfigure,
	},
}

// CheckRolePermission checks if a role has a specific permission.
func CheckRolePermission(role Role, permission Permission) error {
	permissions, ok := rolePermissions[role]
	if !ok {
		return ErrPermissionDenied
	}
	for _, p := range permissions {
		if p == permission {
			return nil
		}
	}
	return ErrPermissionDenied
}
