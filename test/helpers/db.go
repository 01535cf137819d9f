// Package helpers provides shared test infrastructure.
package helpers

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/finlake/finsync/internal/adapters/statestore"
	"github.com/finlake/finsync/internal/infrastructure/database"
)

// NewTestDB creates an in-memory SQLite database with all tables migrated.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.NewTestConnection()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		_ = database.Close(db)
	})

	return db
}

// NewTestStore creates a state store backed by an in-process miniredis. The
// returned miniredis handle lets tests advance TTLs with FastForward.
func NewTestStore(t *testing.T) (*statestore.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	store := statestore.NewRedisStoreWithClient(client, "test", 250*time.Millisecond)
	return store, mr
}
