package testsupport

import (
	"context"
	"testing"

	"tomoprep/internal/config"
	"tomoprep/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewPosition registers a position for tests using the provided store.
func NewPosition(t testing.TB, st *store.Store, name, mdocPath, workDir string) store.Position {
	t.Helper()

	pos, err := st.AddPosition(context.Background(), name, mdocPath, workDir)
	if err != nil {
		t.Fatalf("store.AddPosition: %v", err)
	}
	return pos
}
