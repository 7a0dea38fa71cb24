package postgres

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInvitationSchemaHasPendingUniqueness(t *testing.T) {
	raw, err := fs.ReadFile(embeddedMigrations, "migrations/000002_staff_invitations.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "WHERE status = 'pending'")

	raw, err = fs.ReadFile(embeddedMigrations, "migrations/000003_staff_memberships.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "WHERE employment_status IN ('active', 'suspended')")
}
