package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cadreline/internal/db"
)

func TestLoadOrdersEmbeddedMigrations(t *testing.T) {
	ms, err := Load()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	require.Equal(t, 1, ms[0].Version)
	for i := 1; i < len(ms); i++ {
		require.Greater(t, ms[i].Version, ms[i-1].Version)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("0007_add_things.sql")
	require.NoError(t, err)
	require.Equal(t, 7, v)

	for _, bad := range []string{"init.sql", "0001.sql", "12"} {
		_, err := parseVersion(bad)
		require.Error(t, err, bad)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	ms, err := Load()
	require.NoError(t, err)
	v, err := Version(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, ms[len(ms)-1].Version, v)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&n))
	require.Equal(t, 1, n)
}
