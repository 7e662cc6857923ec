package auth

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeedAdmin_CreatesOnEmptyDB(t *testing.T) {
	repo := NewUserRepository(testDB(t))
	ctx := t.Context()

	password, err := SeedAdmin(ctx, repo, discardLogger())
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password == "" {
		t.Fatal("SeedAdmin() should return the generated password")
	}

	admin, err := repo.GetByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("GetByUsername(admin) error = %v", err)
	}
	if admin.Role != RoleAdmin || !admin.IsActive {
		t.Errorf("seed admin = %+v, want active admin", admin)
	}

	if _, err := Authenticate(ctx, repo, "admin", password); err != nil {
		t.Errorf("generated password should authenticate: %v", err)
	}
}

func TestSeedAdmin_SkipsWhenUsersExist(t *testing.T) {
	db := testDB(t)
	seedTestUser(t, db, "existing", RoleUser)

	password, err := SeedAdmin(t.Context(), NewUserRepository(db), discardLogger())
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password != "" {
		t.Error("SeedAdmin() should skip when users exist")
	}
}

func TestAuthenticate(t *testing.T) {
	db := testDB(t)
	repo := NewUserRepository(db)
	seedTestUser(t, db, "ivy", RoleUser)
	inactive := seedTestUser(t, db, "jack", RoleUser)
	inactive.IsActive = false
	if err := repo.Update(t.Context(), inactive); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"valid", "ivy", "test-password", nil},
		{"wrong password", "ivy", "nope", ErrInvalidCredentials},
		{"unknown user", "nobody", "test-password", ErrInvalidCredentials},
		{"inactive user", "jack", "test-password", ErrUserInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := Authenticate(t.Context(), repo, tt.username, tt.password)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.want)
			}
			if tt.want == nil && u.Username != tt.username {
				t.Errorf("Authenticate() user = %q, want %q", u.Username, tt.username)
			}
		})
	}
}
