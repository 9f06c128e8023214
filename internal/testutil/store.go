package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/store"
)

// OpenStore opens a fresh SQLite store under t.TempDir and closes it when
// the test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sadhana.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// InTx runs fn in one transaction and fails the test on error.
func InTx(t testing.TB, s *store.Store, fn func(context.Context, *store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *store.Tx) error { return fn(ctx, tx) }))
}
