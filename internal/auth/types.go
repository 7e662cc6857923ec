package auth

import (
	"errors"
	"regexp"
	"time"
)

// usernamePattern allows alphanumerics, dots, hyphens and underscores.
// Slashes and MQTT wildcards are excluded so a username can never escape
// its topic namespace.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername reports whether username is 1-64 characters of the
// allowed alphabet.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Role is the API authorisation tier of a user.
type Role string

const (
	// RoleUser may read its own devices and messages and request an MQTT token.
	RoleUser Role = "user"

	// RoleAdmin may additionally send notifications to anyone and manage users.
	RoleAdmin Role = "admin"
)

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	return r == RoleUser || r == RoleAdmin
}

// User is a principal known to the service. Devices, deliveries and push
// registrations all reference a User by ID.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidRole        = errors.New("invalid role")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrInvalidSubject     = errors.New("token subject is required")
	ErrForbidden          = errors.New("forbidden")
)
