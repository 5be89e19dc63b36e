package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveIsUnionWithoutDuplicates(t *testing.T) {
	set := Resolve([]string{"read_owned", "create_users", "READ_OWNED"}, []string{"create_users", "delete_all_roles"})
	assert.Equal(t, []string{"create_users", "delete_all_roles", "read_owned"}, Names(set))
}

func TestResolveToleratesEmptyRole(t *testing.T) {
	assert.Equal(t, []string{"read_owned"}, Names(Resolve(nil, []string{"read_owned"})))
	assert.Empty(t, Resolve(nil, nil))
}

func TestOperationModes(t *testing.T) {
	granted := Resolve([]string{"a", "b"}, nil)

	cases := []struct {
		name string
		op   Operation
		want bool
	}{
		{"strict subset", NewOperation("op", Strict, "a", "b"), true},
		{"strict missing one", NewOperation("op", Strict, "a", "c"), false},
		{"lenient overlap", NewOperation("op", Lenient, "c", "b"), true},
		{"lenient disjoint", NewOperation("op", Lenient, "c", "d"), false},
		{"strict empty", NewOperation("op", Strict), true},
		{"lenient empty", NewOperation("op", Lenient), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.op.Allows(granted))
		})
	}
	assert.False(t, NewOperation("op", Strict, "a").Allows(nil))
}

func TestCRUDOperations(t *testing.T) {
	ops := CRUDOperations("role")
	assert.Equal(t, "roleById", ops.ByID.Name)
	assert.Equal(t, "createRole", ops.Create.Name)
	assert.Equal(t, "deleteRoleById", ops.Delete.Name)
	assert.Equal(t, []string{"read_all_roles", "read_owned"}, ops.List.Permissions)
	assert.Equal(t, Lenient, ops.Update.Mode)
	assert.Equal(t, Strict, ops.Create.Mode)
	assert.Equal(t, []string{"create_roles"}, ops.Create.Permissions)
}

func TestRoleKindProtected(t *testing.T) {
	assert.True(t, RoleKindAdmin.Protected())
	assert.True(t, RoleKindBase.Protected())
	assert.False(t, RoleKindNone.Protected())
}
