package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Repository persists messages and delivery records.
type Repository interface {
	CreateMessage(ctx context.Context, m *Message) error
	CreateDelivery(ctx context.Context, messageID, userID string) (*Delivery, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]InboxItem, error)
	CountDeliveries(ctx context.Context, messageID string) (int, error)
}

// SQLiteRepository implements Repository on the messages and deliveries tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed message repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateMessage inserts m, assigning an ID and creation time.
func (r *SQLiteRepository) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()

	var data sql.NullString
	if len(m.Data) > 0 {
		data = sql.NullString{String: string(m.Data), Valid: true}
	}
	var createdBy sql.NullString
	if m.CreatedBy != nil {
		createdBy = sql.NullString{String: *m.CreatedBy, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, title, body, data, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.Body, data, createdBy, m.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("creating message: %w", err)
	}
	return nil
}

// CreateDelivery records messageID as delivered to userID. Recording the
// same pair twice keeps the first record.
func (r *SQLiteRepository) CreateDelivery(ctx context.Context, messageID, userID string) (*Delivery, error) {
	d := &Delivery{MessageID: messageID, UserID: userID, DeliveredAt: time.Now().UTC()}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO deliveries (message_id, user_id, delivered_at) VALUES (?, ?, ?)
		 ON CONFLICT(message_id, user_id) DO NOTHING`,
		messageID, userID, d.DeliveredAt.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delivery for %s: %w", userID, err)
	}
	d.ID, _ = result.LastInsertId() //nolint:errcheck // always succeeds on SQLite
	return d, nil
}

// ListForUser returns the newest deliveries of userID with their messages.
// A limit of zero or less returns everything.
func (r *SQLiteRepository) ListForUser(ctx context.Context, userID string, limit int) ([]InboxItem, error) {
	query := `
		SELECT m.id, m.title, m.body, m.data, m.created_by, m.created_at, d.delivered_at
		FROM deliveries d JOIN messages m ON m.id = d.message_id
		WHERE d.user_id = ?
		ORDER BY d.delivered_at DESC, d.id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	defer rows.Close()

	items := []InboxItem{}
	for rows.Next() {
		var it InboxItem
		var data, createdBy sql.NullString
		var createdAt, deliveredAt string
		if err := rows.Scan(&it.ID, &it.Title, &it.Body, &data, &createdBy, &createdAt, &deliveredAt); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		if data.Valid {
			it.Data = json.RawMessage(data.String)
		}
		if createdBy.Valid {
			s := createdBy.String
			it.CreatedBy = &s
		}
		it.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)     //nolint:errcheck // format is controlled
		it.DeliveredAt, _ = time.Parse(time.RFC3339Nano, deliveredAt) //nolint:errcheck // format is controlled
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}
	return items, nil
}

// CountDeliveries returns how many recipients messageID was attributed to.
func (r *SQLiteRepository) CountDeliveries(ctx context.Context, messageID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE message_id = ?`, messageID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting deliveries: %w", err)
	}
	return n, nil
}
