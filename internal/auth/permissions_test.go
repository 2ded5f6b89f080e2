package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRolePermissionTable(t *testing.T) {
	cases := map[Role][]Permission{
		RoleUser: {
			PermQueryAssets, PermReadAsset, PermReadCategory, PermReadDomain,
		},
		RoleDomainAdmin: {
			PermCreateAsset, PermCreateCategory, PermDeleteAsset, PermDeleteCategory,
			PermQueryAssets, PermReadAsset, PermReadCategory, PermReadDomain,
			PermUpdateAsset, PermUpdateCategory, PermUpdateDomain, PermViewDeleted,
		},
	}
	for role, want := range cases {
		assert.Equal(t, want, PermissionsFor(role), role)
	}
	assert.Len(t, PermissionsFor(RoleGlobalAdmin), 24)
}

func TestPermissionChecks(t *testing.T) {
	assert.True(t, HasPermission(RoleUser, PermReadAsset))
	assert.False(t, HasPermission(RoleUser, PermCreateUser))
	assert.True(t, HasPermission(RoleGlobalAdmin, PermReadAsset))
	assert.True(t, HasPermission(RoleGlobalAdmin, PermCreateUser))

	assert.False(t, HasPermission(RoleDomainAdmin, PermCreateDomain))
	assert.False(t, HasPermission(RoleDomainAdmin, PermAdminAccess))
}

func TestUnknownRoleHasNothing(t *testing.T) {
	assert.Empty(t, PermissionsFor("superuser"))
	assert.False(t, HasPermission("superuser", PermReadDomain))
	assert.False(t, HasPermission("", PermReadDomain))
	assert.False(t, Role("USER").Valid())
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	perms := PermissionsFor(RoleUser)
	perms[0] = PermSystemConfig
	assert.False(t, HasPermission(RoleUser, PermSystemConfig))
}

func TestMissingPermissions(t *testing.T) {
	missing := MissingPermissions(RoleUser, PermReadAsset, PermCreateUser, PermCreateUser, PermDeleteAsset)
	assert.Equal(t, []Permission{PermCreateUser, PermDeleteAsset}, missing)
	assert.Empty(t, MissingPermissions(RoleGlobalAdmin, PermCreateUser, PermSystemConfig))
	assert.Empty(t, MissingPermissions(RoleUser))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Global_Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleGlobalAdmin, r)

	_, err = ParseRole("root")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPermissionErrorMessage(t *testing.T) {
	err := &PermissionError{Role: RoleUser, Missing: []Permission{PermDeleteAsset, PermCreateUser}}
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, []string{"create_user", "delete_asset"}, err.MissingTags())
	assert.Contains(t, err.Error(), "create_user, delete_asset")

	roleErr := &PermissionError{Role: RoleDomainAdmin, RequiredRole: RoleGlobalAdmin}
	assert.Contains(t, roleErr.Error(), "global_admin")
}
