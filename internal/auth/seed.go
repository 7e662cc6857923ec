package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

const (
	seedUsername      = "admin"
	seedPasswordBytes = 16
)

// SeedAdmin creates the initial admin account when the users table is
// empty. The generated password is returned and logged once; it must be
// changed after first login. An empty return means seeding was skipped.
func SeedAdmin(ctx context.Context, users UserRepository, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Debug("users exist, skipping admin seed")
		return "", nil
	}

	buf := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(buf)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Username:     seedUsername,
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"username", seedUsername,
		"user_id", admin.ID,
		"password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}

// Authenticate checks username and password and returns the active user.
// Unknown usernames and wrong passwords both yield ErrInvalidCredentials.
func Authenticate(ctx context.Context, users UserRepository, username, password string) (*User, error) {
	u, err := users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrUserInactive
	}
	return u, nil
}
