package infra

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteAppliesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auth.db")

	db, err := OpenSQLite(ctx, path)
	require.NoError(t, err)

	var tables int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('users', 'verification_codes')`).Scan(&tables)
	require.NoError(t, err)
	require.Equal(t, 2, tables)
	require.NoError(t, db.Close())

	// Reopening an existing file must not fail on the schema.
	db, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "  ")
	require.Error(t, err)
}

func TestNewPostgresPoolRequiresURL(t *testing.T) {
	_, err := NewPostgresPool(context.Background(), "")
	require.Error(t, err)
}
