package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsCreateCoreTables(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	body, err := migrations.ReadFile(names[0])
	require.NoError(t, err)
	for _, table := range []string{"users", "roles", "permissions", "role_permissions", "user_permissions", "audit_logs"} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
	assert.True(t, strings.Contains(string(body), "roles_kind_tagged_idx"))
}
