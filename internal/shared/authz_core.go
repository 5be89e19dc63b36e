package shared

import "strings"

// Managed resource types. Each one gets the full action vocabulary.
const (
	ResourceUser       = "user"
	ResourceRole       = "role"
	ResourcePermission = "permission"
)

// Resources lists every resource type known to the system.
func Resources() []string {
	return []string{ResourceUser, ResourceRole, ResourcePermission}
}

// Per-resource actions.
const (
	ActionCreate    = "create"
	ActionReadAll   = "read_all"
	ActionUpdateAll = "update_all"
	ActionDeleteAll = "delete_all"
)

// Ownership-scoped permissions, shared across all resource types.
const (
	PermReadOwned   = "read_owned"
	PermUpdateOwned = "update_owned"
	PermDeleteOwned = "delete_owned"
)

// ResourceActions is the vocabulary combined with every resource type.
func ResourceActions() []string {
	return []string{ActionCreate, ActionReadAll, ActionUpdateAll, ActionDeleteAll}
}

// OwnedPermissions returns the ownership-scoped permission names.
func OwnedPermissions() []string {
	return []string{PermReadOwned, PermUpdateOwned, PermDeleteOwned}
}

// PermissionName builds "<action>_<resource>s", e.g. read_all_users.
func PermissionName(action, resource string) string {
	return action + "_" + resource + "s"
}

// IsOwnedPermission reports whether name is one of the ownership-scoped permissions.
func IsOwnedPermission(name string) bool {
	switch name {
	case PermReadOwned, PermUpdateOwned, PermDeleteOwned:
		return true
	}
	return false
}

// CorePermissions derives the full permission name set from the resource list.
func CorePermissions(resources []string) []string {
	names := make([]string, 0, len(resources)*len(ResourceActions())+len(OwnedPermissions()))
	seen := make(map[string]struct{})
	for _, res := range resources {
		res = strings.TrimSpace(strings.ToLower(res))
		if res == "" {
			continue
		}
		for _, action := range ResourceActions() {
			name := PermissionName(action, res)
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return append(names, OwnedPermissions()...)
}
