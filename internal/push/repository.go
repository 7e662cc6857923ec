package push

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeviceRepository persists push registrations.
type DeviceRepository interface {
	Register(ctx context.Context, d *Device) error
	Unregister(ctx context.Context, userID, token string) error
	ListByUser(ctx context.Context, userID string) ([]Device, error)
	TokensForUser(ctx context.Context, userID string) ([]string, error)
	DeleteTokens(ctx context.Context, tokens []string) (int, error)
}

const pushDeviceColumns = "id, user_id, token, platform, name, created_at, last_seen_at"

// SQLiteDeviceRepository implements DeviceRepository on the push_devices table.
type SQLiteDeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a SQLite-backed push device repository.
func NewDeviceRepository(db *sql.DB) *SQLiteDeviceRepository {
	return &SQLiteDeviceRepository{db: db}
}

// Register stores d. Registering an existing token moves it to d.UserID and
// refreshes its platform, name and last_seen_at; the original ID and
// created_at are kept and written back into d.
func (r *SQLiteDeviceRepository) Register(ctx context.Context, d *Device) error {
	if d.Token == "" {
		return ErrInvalidToken
	}
	if d.Platform == "" {
		d.Platform = PlatformAndroid
	}
	if !IsValidPlatform(d.Platform) {
		return ErrInvalidPlatform
	}
	if d.ID == "" {
		d.ID = "push-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Truncate(time.Second)
	ts := now.Format(time.RFC3339)

	var id, createdAt string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO push_devices (`+pushDeviceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			platform = excluded.platform,
			name = excluded.name,
			last_seen_at = excluded.last_seen_at
		RETURNING id, created_at`,
		d.ID, d.UserID, d.Token, string(d.Platform), d.Name, ts, ts,
	).Scan(&id, &createdAt)
	if err != nil {
		return fmt.Errorf("registering push device: %w", err)
	}

	d.ID = id
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	d.LastSeenAt = now
	return nil
}

// Unregister removes token if it belongs to userID.
func (r *SQLiteDeviceRepository) Unregister(ctx context.Context, userID, token string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM push_devices WHERE user_id = ? AND token = ?`, userID, token)
	if err != nil {
		return fmt.Errorf("unregistering push device: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrDeviceNotFound
	}
	return nil
}

// ListByUser returns the registrations of userID, newest first.
func (r *SQLiteDeviceRepository) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pushDeviceColumns+` FROM push_devices WHERE user_id = ? ORDER BY last_seen_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing push devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		var d Device
		var platform, createdAt, lastSeen string
		if err := rows.Scan(&d.ID, &d.UserID, &d.Token, &platform, &d.Name, &createdAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning push device: %w", err)
		}
		d.Platform = Platform(platform)
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		d.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeen) //nolint:errcheck // format is controlled
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating push devices: %w", err)
	}
	return devices, nil
}

// TokensForUser returns the registration tokens of userID.
func (r *SQLiteDeviceRepository) TokensForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT token FROM push_devices WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing push tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scanning push token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating push tokens: %w", err)
	}
	return tokens, nil
}

// DeleteTokens removes the given tokens regardless of owner and returns
// how many rows were deleted.
func (r *SQLiteDeviceRepository) DeleteTokens(ctx context.Context, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")
	args := make([]any, len(tokens))
	for i, t := range tokens {
		args[i] = t
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM push_devices WHERE token IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting push tokens: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return int(n), nil
}
