package database

import (
	"context"
	"testing"
	"testing/fstest"
)

// useMigrations swaps the package migration source for the duration of a test.
func useMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS, MigrationsDir = files, "."
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_users.up.sql":    {Data: []byte("CREATE TABLE test_users (id TEXT PRIMARY KEY);")},
		"20260101_000000_users.down.sql":  {Data: []byte("DROP TABLE test_users;")},
		"20260102_000000_groups.up.sql":   {Data: []byte("CREATE TABLE test_groups (id TEXT PRIMARY KEY);")},
		"20260102_000000_groups.down.sql": {Data: []byte("DROP TABLE test_groups;")},
		"README.md":                       {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_users") || !tableExists(t, db, "test_groups") {
		t.Fatal("expected both tables to be created")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}

	// Idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "test_groups") {
		t.Error("latest migration should have been rolled back")
	}
	if !tableExists(t, db, "test_users") {
		t.Error("earlier migration should remain applied")
	}

	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "groups" {
		t.Errorf("pending = %+v, want the groups migration", pending)
	}
}

func TestMigrateDown_NothingApplied(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)

	if err := db.MigrateDown(context.Background()); err != nil {
		t.Errorf("MigrateDown() with nothing applied = %v, want nil", err)
	}
}

func TestMigrate_NoSource(t *testing.T) {
	origFS := MigrationsFS
	MigrationsFS = nil
	t.Cleanup(func() { MigrationsFS = origFS })

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() without migrations = %v, want nil", err)
	}
}

func TestMigrate_FailureLeavesEarlierApplied(t *testing.T) {
	files := testMigrations()
	files["20260103_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE (")}
	useMigrations(t, files)

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() should fail on broken SQL")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 2/1", len(applied), len(pending))
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		version  string
		name     string
		up       bool
		ok       bool
	}{
		{"20260118_120000_initial_schema.up.sql", "20260118_120000", "initial_schema", true, true},
		{"20260118_120000_initial_schema.down.sql", "20260118_120000", "initial_schema", false, true},
		{"20260118_120000.up.sql", "20260118_120000", "20260118_120000", true, true},
		{"20260118_120000_x.sql", "", "", false, false},
		{"20260118.up.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if version != tt.version || name != tt.name || up != tt.up {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)", version, name, up, tt.version, tt.name, tt.up)
			}
		})
	}
}
