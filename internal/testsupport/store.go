package testsupport

import (
	"testing"

	"github.com/DayBreakerBrony/frame-randomizer/internal/config"
	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
)

// MustOpenDB opens the store database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *kvstore.DB {
	t.Helper()

	db, err := kvstore.Open(cfg.StoreDBPath())
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
