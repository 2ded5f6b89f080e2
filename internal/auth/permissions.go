package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleUser        Role = "user"
	RoleDomainAdmin Role = "domain_admin"
	RoleGlobalAdmin Role = "global_admin"
)

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// ParseRole normalises s and checks it against the defined roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Permission is an atomic capability tag checked independently of role hierarchy.
type Permission string

const (
	PermCreateUser  Permission = "create_user"
	PermReadUser    Permission = "read_user"
	PermUpdateUser  Permission = "update_user"
	PermDeleteUser  Permission = "delete_user"
	PermRestoreUser Permission = "restore_user"

	PermCreateDomain  Permission = "create_domain"
	PermReadDomain    Permission = "read_domain"
	PermUpdateDomain  Permission = "update_domain"
	PermDeleteDomain  Permission = "delete_domain"
	PermRestoreDomain Permission = "restore_domain"

	PermCreateCategory  Permission = "create_category"
	PermReadCategory    Permission = "read_category"
	PermUpdateCategory  Permission = "update_category"
	PermDeleteCategory  Permission = "delete_category"
	PermRestoreCategory Permission = "restore_category"

	PermCreateAsset  Permission = "create_asset"
	PermReadAsset    Permission = "read_asset"
	PermUpdateAsset  Permission = "update_asset"
	PermDeleteAsset  Permission = "delete_asset"
	PermRestoreAsset Permission = "restore_asset"

	PermQueryAssets  Permission = "query_assets"
	PermAdminAccess  Permission = "admin_access"
	PermViewDeleted  Permission = "view_deleted"
	PermSystemConfig Permission = "system_config"
)

// rolePermissions is read-only after package init. Every role is listed in
// full; there is no inheritance between roles.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleUser: permSet(
		PermReadDomain,
		PermReadCategory,
		PermReadAsset,
		PermQueryAssets,
	),
	RoleDomainAdmin: permSet(
		PermReadDomain,
		PermUpdateDomain,
		PermCreateCategory,
		PermReadCategory,
		PermUpdateCategory,
		PermDeleteCategory,
		PermCreateAsset,
		PermReadAsset,
		PermUpdateAsset,
		PermDeleteAsset,
		PermQueryAssets,
		PermViewDeleted,
	),
	RoleGlobalAdmin: permSet(
		PermCreateUser,
		PermReadUser,
		PermUpdateUser,
		PermDeleteUser,
		PermRestoreUser,
		PermCreateDomain,
		PermReadDomain,
		PermUpdateDomain,
		PermDeleteDomain,
		PermRestoreDomain,
		PermCreateCategory,
		PermReadCategory,
		PermUpdateCategory,
		PermDeleteCategory,
		PermRestoreCategory,
		PermCreateAsset,
		PermReadAsset,
		PermUpdateAsset,
		PermDeleteAsset,
		PermRestoreAsset,
		PermQueryAssets,
		PermAdminAccess,
		PermViewDeleted,
		PermSystemConfig,
	),
}

func permSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// PermissionsFor returns a sorted copy of the permissions granted to role.
// Unknown roles get an empty slice.
func PermissionsFor(role Role) []Permission {
	set := rolePermissions[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	_, ok := rolePermissions[role][perm]
	return ok
}

// MissingPermissions returns the subset of required that role does not grant,
// in the order given and without duplicates.
func MissingPermissions(role Role, required ...Permission) []Permission {
	var missing []Permission
	seen := make(map[Permission]struct{}, len(required))
	for _, p := range required {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if !HasPermission(role, p) {
			missing = append(missing, p)
		}
	}
	return missing
}
