package testsupport

import (
	"context"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/jobstore"
)

// MustOpenStore opens a job store under the config's data directory and
// registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobstore.Store {
	t.Helper()
	store, err := jobstore.Open(context.Background(), jobstore.DefaultPath(cfg))
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
