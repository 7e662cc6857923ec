package presence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository persists device presence rows.
type Repository interface {
	// MarkConnected upserts the device and reports whether the row was new.
	MarkConnected(ctx context.Context, userID, clientID string, ip *string, at time.Time) (created bool, err error)

	// MarkDisconnected sets an online device owned by userID offline and
	// reports whether a row changed.
	MarkDisconnected(ctx context.Context, userID, clientID string, at time.Time) (bool, error)

	// MarkOfflineExcept sets every online device whose client ID is not in
	// keep and whose last connect is before connectedBefore offline, and
	// returns the devices it changed.
	MarkOfflineExcept(ctx context.Context, keep []string, connectedBefore, at time.Time) ([]Device, error)

	GetByClientID(ctx context.Context, clientID string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	ListActive(ctx context.Context) ([]Device, error)
	ListByUser(ctx context.Context, userID string) ([]Device, error)
}

const deviceColumns = `id, client_id, user_id, active, last_status, last_connected_at,
	last_disconnected_at, ip_address, created_at, updated_at`

// SQLiteRepository implements Repository on the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed presence repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// MarkConnected implements Repository.
func (r *SQLiteRepository) MarkConnected(ctx context.Context, userID, clientID string, ip *string, at time.Time) (bool, error) {
	ts := at.UTC().Format(time.RFC3339Nano)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM devices WHERE client_id = ?`, clientID).Scan(&existing)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return false, fmt.Errorf("looking up device: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (client_id, user_id, active, last_status, last_connected_at, ip_address, created_at, updated_at)
		VALUES (?, ?, 1, 'online', ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			user_id = excluded.user_id,
			active = 1,
			last_status = 'online',
			last_connected_at = excluded.last_connected_at,
			ip_address = excluded.ip_address,
			updated_at = excluded.updated_at`,
		clientID, userID, ts, nullablePtr(ip), ts, ts,
	)
	if err != nil {
		return false, fmt.Errorf("upserting device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing device upsert: %w", err)
	}
	return created, nil
}

// MarkDisconnected implements Repository. Rows that are already offline
// are left untouched so replays do not move last_disconnected_at.
func (r *SQLiteRepository) MarkDisconnected(ctx context.Context, userID, clientID string, at time.Time) (bool, error) {
	ts := at.UTC().Format(time.RFC3339Nano)
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET active = 0, last_status = 'offline', last_disconnected_at = ?, updated_at = ?
		WHERE client_id = ? AND user_id = ? AND active = 1`,
		ts, ts, clientID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("marking device offline: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n > 0, nil
}

// MarkOfflineExcept implements Repository.
func (r *SQLiteRepository) MarkOfflineExcept(ctx context.Context, keep []string, connectedBefore, at time.Time) ([]Device, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	active, err := queryDevices(ctx, tx, `SELECT `+deviceColumns+` FROM devices WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}

	ts := at.UTC().Format(time.RFC3339Nano)
	var stale []Device
	for _, d := range active {
		if _, ok := keepSet[d.ClientID]; ok {
			continue
		}
		// Connected after the broker snapshot was taken.
		if d.LastConnectedAt != nil && !d.LastConnectedAt.Before(connectedBefore) {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE devices SET active = 0, last_status = 'offline', last_disconnected_at = ?, updated_at = ?
			WHERE id = ?`, ts, ts, d.ID)
		if err != nil {
			return nil, fmt.Errorf("marking device %s offline: %w", d.ClientID, err)
		}
		d.Active = false
		d.LastStatus = StatusOffline
		disconnected := at.UTC()
		d.LastDisconnectedAt = &disconnected
		stale = append(stale, d)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reconciliation: %w", err)
	}
	return stale, nil
}

// GetByClientID retrieves a device by its client ID.
func (r *SQLiteRepository) GetByClientID(ctx context.Context, clientID string) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE client_id = ?`, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	return d, err
}

// List returns all devices in insertion order.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return queryDevices(ctx, r.db, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
}

// ListActive returns the online devices in insertion order.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Device, error) {
	return queryDevices(ctx, r.db, `SELECT `+deviceColumns+` FROM devices WHERE active = 1 ORDER BY id`)
}

// ListByUser returns the devices owned by userID.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	return queryDevices(ctx, r.db, `SELECT `+deviceColumns+` FROM devices WHERE user_id = ? ORDER BY id`, userID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func queryDevices(ctx context.Context, q querier, query string, args ...any) ([]Device, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

func scanDevice(s scanner) (*Device, error) {
	var d Device
	var userID, connectedAt, disconnectedAt, ip sql.NullString
	var active int
	var status, createdAt, updatedAt string

	err := s.Scan(&d.ID, &d.ClientID, &userID, &active, &status, &connectedAt,
		&disconnectedAt, &ip, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	d.Active = active != 0
	d.LastStatus = Status(status)
	d.UserID = stringPtr(userID)
	d.IPAddress = stringPtr(ip)
	d.LastConnectedAt = timePtr(connectedAt)
	d.LastDisconnectedAt = timePtr(disconnectedAt)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // format is controlled
	return t
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullablePtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
