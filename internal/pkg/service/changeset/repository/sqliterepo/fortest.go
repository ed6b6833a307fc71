package sqliterepo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// OpenForTest opens an empty database in a temporary directory.
func OpenForTest(t testing.TB) *Repository {
	t.Helper()
	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "changesets.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}
