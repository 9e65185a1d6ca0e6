package notifications

import (
	"context"
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Notification struct {
	NotificationID int64
	EventID        string
	UserID         int64
	Type           string
	Title          string
	Message        string
	Data           map[string]any
	IsRead         bool
	CreatedAt      time.Time
}

type Store struct{ db *sql.DB }

func NewStore(sdb *sql.DB) *Store { return &Store{db: sdb} }

func (s *Store) Insert(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	const q = `
	INSERT INTO notifications (event_id, user_id, type, title, message, data, is_read, created_at)
	VALUES (?, ?, ?, ?, ?, ?, 0, ?)`
	_, err = s.db.ExecContext(ctx, q, ev.EventID, ev.UserID, ev.Type, ev.Title, ev.Message, payload, ev.CreatedAt)
	return err
}

func (s *Store) ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]Notification, error) {
	q := `
	SELECT notification_id, event_id, user_id, type, title, message, data, is_read, created_at
	FROM notifications WHERE user_id = ?`
	if unreadOnly {
		q += ` AND is_read = 0`
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var raw []byte
		var readInt int
		if err := rows.Scan(&n.NotificationID, &n.EventID, &n.UserID, &n.Type, &n.Title, &n.Message, &raw, &readInt, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.IsRead = readInt != 0
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &n.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&n)
	return n, err
}

func (s *Store) MarkRead(ctx context.Context, userID, notificationID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE notification_id = ? AND user_id = ?`,
		notificationID, userID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOldRead: 既読かつ古い通知の掃除（スケジューラから呼ぶ）
func (s *Store) DeleteOldRead(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE is_read = 1 AND created_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
