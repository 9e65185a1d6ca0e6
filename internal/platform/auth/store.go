package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Account は users テーブルの認証に関わる列のみを持つ。
// 貸出クォータ系の列は equip_mgmt/quota が所有する。
type Account struct {
	UserID       int64
	StudentID    sql.NullString
	FullName     string
	Email        string
	PasswordHash string
	Role         string
	Phone        sql.NullString
	Faculty      sql.NullString
	Class        sql.NullString
	IsActive     bool
	LastLogin    sql.NullTime
	CreatedAt    time.Time
}

type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByID(ctx context.Context, id int64) (*Account, error)
	Create(ctx context.Context, a *Account) error
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) AccountStore {
	return &Store{db: db}
}

const accountCols = `user_id, student_id, full_name, email, password_hash, role, phone, faculty, class, is_active, last_login, created_at`

func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	const q = `SELECT ` + accountCols + ` FROM users WHERE email = ? LIMIT 1`
	return s.scanOne(s.db.QueryRowContext(ctx, q, email))
}

func (s *Store) GetByID(ctx context.Context, id int64) (*Account, error) {
	const q = `SELECT ` + accountCols + ` FROM users WHERE user_id = ? LIMIT 1`
	return s.scanOne(s.db.QueryRowContext(ctx, q, id))
}

func (s *Store) scanOne(row *sql.Row) (*Account, error) {
	var a Account
	var isActiveInt int
	err := row.Scan(
		&a.UserID,
		&a.StudentID,
		&a.FullName,
		&a.Email,
		&a.PasswordHash,
		&a.Role,
		&a.Phone,
		&a.Faculty,
		&a.Class,
		&isActiveInt,
		&a.LastLogin,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.IsActive = isActiveInt != 0
	return &a, nil
}

func (s *Store) Create(ctx context.Context, a *Account) error {
	// borrow_limit 等のクォータ列はDB既定値（limit=3, count=0）に任せる
	const q = `
INSERT INTO users
(student_id, full_name, email, password_hash, role, phone, faculty, class, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	res, err := s.db.ExecContext(ctx, q,
		nullStrOrNil(a.StudentID), a.FullName, a.Email, a.PasswordHash, a.Role,
		nullStrOrNil(a.Phone), nullStrOrNil(a.Faculty), nullStrOrNil(a.Class),
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	a.UserID = id
	return nil
}

func (s *Store) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE users SET last_login = ? WHERE user_id = ?`
	_, err := s.db.ExecContext(ctx, q, at, id)
	return err
}

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}
