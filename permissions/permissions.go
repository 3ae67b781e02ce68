// Package permissions derives capability flags from access-token claims.
// Derivation is a pure function of the claims: plain-cookie role hints and
// any other UI-side state are never consulted.
package permissions

import (
	"github.com/carelinkhealth/go-session-client/token"
)

// Roles known to the platform.
const (
	RolePatient    = "patient"
	RoleProvider   = "provider"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// Capability flags carried in the token's permission claim.
const (
	PermAdminAccess    = "admin:access"
	PermUserManagement = "users:manage"
	PermAuditAccess    = "audit:read"
)

// PermissionSet is the set of named capabilities used to gate UI and
// route access.
type PermissionSet struct {
	AdminAccess    bool
	UserManagement bool
	AuditAccess    bool
	SuperAdmin     bool
}

// Derive maps token claims to capability booleans. Identical claims always
// yield an identical set; a nil claims value yields the zero set.
func Derive(claims *token.Claims) PermissionSet {
	if claims == nil {
		return PermissionSet{}
	}

	set := PermissionSet{
		AdminAccess:    claims.HasPermission(PermAdminAccess),
		UserManagement: claims.HasPermission(PermUserManagement),
		AuditAccess:    claims.HasPermission(PermAuditAccess),
		SuperAdmin:     claims.Role == RoleSuperAdmin,
	}

	// Super admins hold every capability regardless of the permission claim.
	if set.SuperAdmin {
		set.AdminAccess = true
		set.UserManagement = true
		set.AuditAccess = true
	}
	return set
}

// HasRole reports whether the claims carry the given role. Super admins
// satisfy the admin role check as well.
func HasRole(claims *token.Claims, role string) bool {
	if claims == nil {
		return false
	}
	if claims.Role == role {
		return true
	}
	return role == RoleAdmin && claims.Role == RoleSuperAdmin
}

// HasAnyPermission reports whether the claims carry at least one of the
// named capabilities.
func HasAnyPermission(claims *token.Claims, perms ...string) bool {
	if claims == nil {
		return false
	}
	if claims.Role == RoleSuperAdmin {
		return len(perms) > 0
	}
	for _, p := range perms {
		if claims.HasPermission(p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the claims carry every named capability.
func HasAllPermissions(claims *token.Claims, perms ...string) bool {
	if claims == nil {
		return false
	}
	if claims.Role == RoleSuperAdmin {
		return true
	}
	for _, p := range perms {
		if !claims.HasPermission(p) {
			return false
		}
	}
	return true
}
