package requests

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/db"
)

type Store struct{ db *sql.DB }

func NewStore(sdb *sql.DB) *Store { return &Store{db: sdb} }

func (s *Store) DB() *sql.DB { return s.db }

const requestCols = `
	r.request_id, r.request_ulid, r.request_number, r.borrower_id, u.full_name,
	r.borrow_date, r.expected_return_date, r.actual_return_date,
	r.purpose, r.notes, r.status,
	r.reviewed_by, r.reviewed_at, r.review_notes, r.rejection_reason,
	r.borrowed_by, r.borrowed_at, r.returned_by, r.returned_at,
	r.is_overdue, r.overdue_notification_sent, r.created_at, r.updated_at`

func scanRequest(row interface{ Scan(...any) error }) (*BorrowRequest, error) {
	var r BorrowRequest
	var status string
	var overdueInt, notifiedInt int
	err := row.Scan(
		&r.RequestID, &r.RequestULID, &r.RequestNumber, &r.BorrowerID, &r.BorrowerName,
		&r.BorrowDate, &r.ExpectedReturnDate, &r.ActualReturnDate,
		&r.Purpose, &r.Notes, &status,
		&r.ReviewedBy, &r.ReviewedAt, &r.ReviewNotes, &r.RejectionReason,
		&r.BorrowedBy, &r.BorrowedAt, &r.ReturnedBy, &r.ReturnedAt,
		&overdueInt, &notifiedInt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.IsOverdue = overdueInt != 0
	r.OverdueNotified = notifiedInt != 0
	return &r, nil
}

// ===== 作成 =====

// InsertTx: 仮番号でINSERTし、明細を積む。番号の確定は FinalizeNumberTx。
func (s *Store) InsertTx(ctx context.Context, tx db.DBTX, r *BorrowRequest, tmpNumber string) error {
	const q = `
	INSERT INTO borrow_requests
	(request_ulid, request_number, borrower_id, borrow_date, expected_return_date,
	 purpose, notes, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	res, err := tx.ExecContext(ctx, q,
		r.RequestULID, tmpNumber, r.BorrowerID, r.BorrowDate, r.ExpectedReturnDate,
		r.Purpose, nullStrOrNil(r.Notes),
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	r.RequestID = id

	const iq = `INSERT INTO borrow_request_items (request_id, equipment_id, quantity) VALUES (?, ?, ?)`
	for i := range r.Items {
		ires, err := tx.ExecContext(ctx, iq, r.RequestID, r.Items[i].EquipmentID, r.Items[i].Quantity)
		if err != nil {
			return err
		}
		iid, _ := ires.LastInsertId()
		r.Items[i].ItemID = iid
		r.Items[i].RequestID = r.RequestID
	}
	return nil
}

// FinalizeNumberTx: 確定番号 BR<yy><mm><連番4桁> に置換する
// （BorrowRequest.js の pre-save 採番を、PKを使った置換に再設計）
func (s *Store) FinalizeNumberTx(ctx context.Context, tx db.DBTX, requestID int64, tmpNumber string) (string, error) {
	const q = `
	UPDATE borrow_requests
	SET request_number = CONCAT('BR', DATE_FORMAT(created_at, '%y%m'), LPAD(request_id, 4, '0'))
	WHERE request_id = ? AND request_number = ?`
	res, err := tx.ExecContext(ctx, q, requestID, tmpNumber)
	if err != nil {
		return "", err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return "", ErrConflict("failed to finalize request number")
	}
	var number string
	if err := tx.QueryRowContext(ctx, `SELECT request_number FROM borrow_requests WHERE request_id = ?`, requestID).Scan(&number); err != nil {
		return "", err
	}
	return number, nil
}

// ===== 取得 =====

func (s *Store) GetByIDTx(ctx context.Context, tx db.DBTX, id int64, forUpdate bool) (*BorrowRequest, error) {
	q := `SELECT ` + requestCols + ` FROM borrow_requests r JOIN users u ON u.user_id = r.borrower_id WHERE r.request_id = ?`
	if forUpdate {
		q += ` FOR UPDATE OF r`
	}
	r, err := scanRequest(tx.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound("borrow request not found")
	}
	if err != nil {
		return nil, err
	}
	r.Items, err = s.loadItems(ctx, tx, r.RequestID)
	return r, err
}

func (s *Store) GetByID(ctx context.Context, id int64) (*BorrowRequest, error) {
	return s.GetByIDTx(ctx, s.db, id, false)
}

func (s *Store) GetByULID(ctx context.Context, ulid string) (*BorrowRequest, error) {
	q := `SELECT ` + requestCols + ` FROM borrow_requests r JOIN users u ON u.user_id = r.borrower_id WHERE r.request_ulid = ?`
	r, err := scanRequest(s.db.QueryRowContext(ctx, q, ulid))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound("borrow request not found")
	}
	if err != nil {
		return nil, err
	}
	r.Items, err = s.loadItems(ctx, s.db, r.RequestID)
	return r, err
}

func (s *Store) GetByNumber(ctx context.Context, number string) (*BorrowRequest, error) {
	q := `SELECT ` + requestCols + ` FROM borrow_requests r JOIN users u ON u.user_id = r.borrower_id WHERE r.request_number = ?`
	r, err := scanRequest(s.db.QueryRowContext(ctx, q, number))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound("borrow request not found")
	}
	if err != nil {
		return nil, err
	}
	r.Items, err = s.loadItems(ctx, s.db, r.RequestID)
	return r, err
}

func (s *Store) loadItems(ctx context.Context, q db.DBTX, requestID int64) ([]RequestItem, error) {
	const query = `
	SELECT i.item_id, i.request_id, i.equipment_id, e.name, i.quantity
	FROM borrow_request_items i
	JOIN equipments e ON e.equipment_id = i.equipment_id
	WHERE i.request_id = ?
	ORDER BY i.item_id`
	rows, err := q.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []RequestItem
	for rows.Next() {
		var it RequestItem
		if err := rows.Scan(&it.ItemID, &it.RequestID, &it.EquipmentID, &it.EquipmentName, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type ListFilter struct {
	BorrowerID *int64
	Status     *Status
	From       *time.Time
	To         *time.Time
}

type Page struct {
	Limit  int
	Offset int
	Order  string
}

func (s *Store) List(ctx context.Context, f ListFilter, p Page) ([]BorrowRequest, int64, error) {
	where := strings.Builder{}
	where.WriteString(` WHERE 1=1`)
	args := []any{}
	if f.BorrowerID != nil {
		where.WriteString(` AND r.borrower_id = ?`)
		args = append(args, *f.BorrowerID)
	}
	if f.Status != nil {
		where.WriteString(` AND r.status = ?`)
		args = append(args, string(*f.Status))
	}
	if f.From != nil {
		where.WriteString(` AND r.created_at >= ?`)
		args = append(args, *f.From)
	}
	if f.To != nil {
		where.WriteString(` AND r.created_at < ?`)
		args = append(args, *f.To)
	}

	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	q := `SELECT ` + requestCols + ` FROM borrow_requests r JOIN users u ON u.user_id = r.borrower_id` +
		where.String() + fmt.Sprintf(` ORDER BY r.created_at %s LIMIT ? OFFSET ?`, order)
	rows, err := s.db.QueryContext(ctx, q, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []BorrowRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range out {
		out[i].Items, err = s.loadItems(ctx, s.db, out[i].RequestID)
		if err != nil {
			return nil, 0, err
		}
	}

	var total int64
	cq := `SELECT COUNT(*) FROM borrow_requests r` + where.String()
	if err := s.db.QueryRowContext(ctx, cq, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListPendingByUser: 作成順（FIFO）の承認待ち一覧
func (s *Store) ListPendingByUser(ctx context.Context, userID int64) ([]BorrowRequest, error) {
	q := `SELECT ` + requestCols + ` FROM borrow_requests r JOIN users u ON u.user_id = r.borrower_id
	WHERE r.borrower_id = ? AND r.status = 'pending' ORDER BY r.created_at ASC, r.request_id ASC`
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BorrowRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items, err = s.loadItems(ctx, s.db, out[i].RequestID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ===== 遷移 =====
// どの更新も WHERE に現在状態の述語を置き、RowsAffected で遷移の成立を確認する。
// （ロック済みでも、遷移表とDB述語の二重ガード）

func (s *Store) ApproveTx(ctx context.Context, tx db.DBTX, id int64, reviewer int64, now time.Time, notes string) error {
	const q = `
	UPDATE borrow_requests
	SET status = 'borrowed',
	    reviewed_by = ?, reviewed_at = ?, review_notes = ?,
	    borrowed_by = ?, borrowed_at = ?,
	    updated_at = CURRENT_TIMESTAMP
	WHERE request_id = ? AND status = 'pending'`
	res, err := tx.ExecContext(ctx, q, reviewer, now, notes, reviewer, now, id)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrConflict("request is no longer pending")
	}
	return nil
}

func (s *Store) RejectTx(ctx context.Context, tx db.DBTX, id int64, reviewer int64, now time.Time, reason string) error {
	const q = `
	UPDATE borrow_requests
	SET status = 'rejected',
	    reviewed_by = ?, reviewed_at = ?, rejection_reason = ?,
	    updated_at = CURRENT_TIMESTAMP
	WHERE request_id = ? AND status = 'pending'`
	res, err := tx.ExecContext(ctx, q, reviewer, now, reason, id)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrConflict("request is no longer pending")
	}
	return nil
}

func (s *Store) ReturnTx(ctx context.Context, tx db.DBTX, id int64, admin int64, now time.Time, isOverdue bool, notes string) error {
	// 返却時メモは既存メモに追記（borrowRequestController.returnEquipment と同じ）
	q := `
	UPDATE borrow_requests
	SET status = 'returned',
	    returned_by = ?, returned_at = ?, actual_return_date = ?,
	    is_overdue = ?,
	    updated_at = CURRENT_TIMESTAMP`
	args := []any{admin, now, now, isOverdue}
	if notes != "" {
		q += `, notes = CONCAT(COALESCE(notes, ''), ?)`
		args = append(args, "\n--- 返却時メモ ---\n"+notes)
	}
	q += ` WHERE request_id = ? AND status = 'borrowed'`
	args = append(args, id)

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrConflict("request is not in borrowed status")
	}
	return nil
}

// ===== スキャナ用 =====

// ListOverdueUnnotified: 延滞していてまだ延滞通知を出していない貸出
func (s *Store) ListOverdueUnnotified(ctx context.Context, now time.Time, limit int) ([]BorrowRequest, error) {
	q := `SELECT ` + requestCols + ` FROM borrow_requests r JOIN users u ON u.user_id = r.borrower_id
	WHERE r.status = 'borrowed' AND r.expected_return_date < ? AND r.overdue_notification_sent = 0
	ORDER BY r.expected_return_date ASC LIMIT ?`
	return s.queryMany(ctx, q, now, limit)
}

// ListDueSoon: 返却期限が近い貸出（days日以内、まだ期限前）。
// last_reminder_at で24時間に1回までに抑える。
func (s *Store) ListDueSoon(ctx context.Context, now time.Time, days int, limit int) ([]BorrowRequest, error) {
	until := now.Add(time.Duration(days) * 24 * time.Hour)
	cutoff := now.Add(-24 * time.Hour)
	q := `SELECT ` + requestCols + ` FROM borrow_requests r JOIN users u ON u.user_id = r.borrower_id
	WHERE r.status = 'borrowed' AND r.expected_return_date >= ? AND r.expected_return_date <= ?
	  AND (r.last_reminder_at IS NULL OR r.last_reminder_at < ?)
	ORDER BY r.expected_return_date ASC LIMIT ?`
	return s.queryMany(ctx, q, now, until, cutoff, limit)
}

func (s *Store) MarkReminded(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE borrow_requests SET last_reminder_at = ? WHERE request_id = ?`, now, id)
	return err
}

func (s *Store) queryMany(ctx context.Context, q string, args ...any) ([]BorrowRequest, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BorrowRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items, err = s.loadItems(ctx, s.db, out[i].RequestID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarkOverdue: 延滞フラグと通知済みフラグを立てる（通知は1回だけ）
func (s *Store) MarkOverdue(ctx context.Context, id int64) error {
	const q = `
	UPDATE borrow_requests
	SET is_overdue = 1, overdue_notification_sent = 1, updated_at = CURRENT_TIMESTAMP
	WHERE request_id = ? AND status = 'borrowed'`
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

// ===== 破損報告 =====

func (s *Store) InsertDamage(ctx context.Context, d *Damage) error {
	return s.InsertDamageTx(ctx, s.db, d)
}

func (s *Store) InsertDamageTx(ctx context.Context, tx db.DBTX, d *Damage) error {
	const q = `
	INSERT INTO borrow_request_damages
	(request_id, equipment_id, description, severity, cost, reported_by, reported_at)
	VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`
	res, err := tx.ExecContext(ctx, q, d.RequestID, d.EquipmentID, d.Description, d.Severity, d.Cost, d.ReportedBy)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	d.DamageID = id
	return nil
}

func (s *Store) ListDamages(ctx context.Context, requestID int64) ([]Damage, error) {
	const q = `
	SELECT damage_id, request_id, equipment_id, description, severity, cost, reported_by, reported_at
	FROM borrow_request_damages WHERE request_id = ? ORDER BY reported_at`
	rows, err := s.db.QueryContext(ctx, q, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Damage
	for rows.Next() {
		var d Damage
		if err := rows.Scan(&d.DamageID, &d.RequestID, &d.EquipmentID, &d.Description, &d.Severity, &d.Cost, &d.ReportedBy, &d.ReportedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ===== 集計 =====

func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	const q = `SELECT status, COUNT(*) FROM borrow_requests GROUP BY status`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}
