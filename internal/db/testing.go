package db

import "testing"

// NewTestStore opens an isolated in-memory store for a test and closes it on
// cleanup. Safe for parallel tests; every call gets its own database.
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	store, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close test store: %v", err)
		}
	})
	return store
}
