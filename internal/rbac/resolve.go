package rbac

import (
	"sort"
	"strings"
)

// Resolve returns the effective permission set: the union of the role's
// permissions and the principal's direct permissions. Either list may be empty.
func Resolve(rolePermissions, directPermissions []string) map[string]struct{} {
	set := make(map[string]struct{}, len(rolePermissions)+len(directPermissions))
	for _, list := range [][]string{rolePermissions, directPermissions} {
		for _, p := range list {
			p = normalize(p)
			if p == "" {
				continue
			}
			set[p] = struct{}{}
		}
	}
	return set
}

// Names returns the set as a sorted slice.
func Names(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func normalize(p string) string {
	return strings.TrimSpace(strings.ToLower(p))
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = normalize(p)
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted map[string]struct{}, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if _, ok := granted[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted map[string]struct{}, required []string) bool {
	for _, r := range required {
		if _, ok := granted[r]; !ok {
			return false
		}
	}
	return true
}
