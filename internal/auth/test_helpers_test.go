package auth

import (
	"database/sql"
	"testing"

	"github.com/nerrad567/notify-core/internal/infrastructure/config"
	"github.com/nerrad567/notify-core/internal/infrastructure/database"
	_ "github.com/nerrad567/notify-core/migrations" // registers the schema
)

const testSecret = "test-secret-key-at-least-32-chars!"

// testDB opens an in-memory database with the full schema applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// seedTestUser inserts an active user with password "test-password".
func seedTestUser(t *testing.T, db *sql.DB, username string, role Role) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	user := &User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := NewUserRepository(db).Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}
