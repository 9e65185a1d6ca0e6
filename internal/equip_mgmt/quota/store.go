package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/db"
)

type Store struct{ db *sql.DB }

func NewStore(sdb *sql.DB) *Store { return &Store{db: sdb} }

const quotaCols = `user_id, full_name, borrow_limit, current_borrow_count, is_restricted, overdue_count, last_overdue_date`

func scanQuota(row *sql.Row) (*UserQuotaState, error) {
	var u UserQuotaState
	var restrictedInt int
	err := row.Scan(
		&u.UserID, &u.FullName, &u.BorrowLimit, &u.CurrentBorrowCount,
		&restrictedInt, &u.OverdueCount, &u.LastOverdueDate,
	)
	if err != nil {
		return nil, err
	}
	u.IsRestricted = restrictedInt != 0
	return &u, nil
}

// Get: 判定用スナップショット（制限リスト込み）を読む。ロックなし。
func (s *Store) Get(ctx context.Context, userID int64) (*UserQuotaState, error) {
	q := `SELECT ` + quotaCols + ` FROM users WHERE user_id = ?`
	u, err := scanQuota(s.db.QueryRowContext(ctx, q, userID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d not found", userID)
	}
	if err != nil {
		return nil, err
	}
	u.Restrictions, err = s.loadRestrictions(ctx, s.db, userID)
	return u, err
}

// GetForUpdateTx: クォータ行をロックして読む。create/approve/return のTx内で使う。
func (s *Store) GetForUpdateTx(ctx context.Context, tx db.DBTX, userID int64) (*UserQuotaState, error) {
	q := `SELECT ` + quotaCols + ` FROM users WHERE user_id = ? FOR UPDATE`
	u, err := scanQuota(tx.QueryRowContext(ctx, q, userID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d not found", userID)
	}
	if err != nil {
		return nil, err
	}
	u.Restrictions, err = s.loadRestrictions(ctx, tx, userID)
	return u, err
}

func (s *Store) loadRestrictions(ctx context.Context, q db.DBTX, userID int64) ([]Restriction, error) {
	const query = `
	SELECT restriction_id, user_id, type, reason, start_date, end_date, created_by
	FROM user_restrictions WHERE user_id = ? ORDER BY start_date`
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Restriction
	for rows.Next() {
		var r Restriction
		if err := rows.Scan(&r.RestrictionID, &r.UserID, &r.Type, &r.Reason, &r.StartDate, &r.EndDate, &r.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SumPendingQuantityTx: 承認待ちリクエストの合計数量（作成時の admission 用）
func (s *Store) SumPendingQuantityTx(ctx context.Context, tx db.DBTX, userID int64) (int, error) {
	const q = `
	SELECT COALESCE(SUM(i.quantity), 0)
	FROM borrow_request_items i
	JOIN borrow_requests r ON r.request_id = i.request_id
	WHERE r.borrower_id = ? AND r.status = 'pending'`
	var sum int
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// CommitTx: current_borrow_count += qty、履歴に borrowed を積む
func (s *Store) CommitTx(ctx context.Context, tx db.DBTX, userID int64, qty int, requestID int64) error {
	const q = `UPDATE users SET current_borrow_count = current_borrow_count + ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`
	res, err := tx.ExecContext(ctx, q, qty, userID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return fmt.Errorf("failed to commit quota for user %d", userID)
	}
	return s.insertHistoryTx(ctx, tx, userID, requestID, HistoryBorrowed, qty)
}

// UncommitTx: current_borrow_count -= qty（0未満にはしない）、履歴に returned を積む
func (s *Store) UncommitTx(ctx context.Context, tx db.DBTX, userID int64, qty int, requestID int64) error {
	const q = `UPDATE users SET current_borrow_count = GREATEST(current_borrow_count - ?, 0), updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`
	res, err := tx.ExecContext(ctx, q, qty, userID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return fmt.Errorf("failed to uncommit quota for user %d", userID)
	}
	return s.insertHistoryTx(ctx, tx, userID, requestID, HistoryReturned, qty)
}

func (s *Store) insertHistoryTx(ctx context.Context, tx db.DBTX, userID, requestID int64, action string, count int) error {
	const q = `
	INSERT INTO user_borrow_history (user_id, request_id, action, equipment_count, created_at)
	VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`
	_, err := tx.ExecContext(ctx, q, userID, requestID, action, count)
	return err
}

// AddRestrictionTx: 制限を追加して is_restricted を立てる
func (s *Store) AddRestrictionTx(ctx context.Context, tx db.DBTX, r *Restriction) error {
	const q = `
	INSERT INTO user_restrictions (user_id, type, reason, start_date, end_date, created_by)
	VALUES (?, ?, ?, ?, ?, ?)`
	var endDate, createdBy any
	if r.EndDate.Valid {
		endDate = r.EndDate.Time
	}
	if r.CreatedBy.Valid {
		createdBy = r.CreatedBy.Int64
	}
	res, err := tx.ExecContext(ctx, q, r.UserID, r.Type, r.Reason, r.StartDate, endDate, createdBy)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	r.RestrictionID = id

	const uq = `UPDATE users SET is_restricted = 1, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`
	_, err = tx.ExecContext(ctx, uq, r.UserID)
	return err
}

// HandleOverdueTx: 延滞1回分の処理。overdue_count を加算し、
// 階段ポリシーに応じた自動ペナルティを別個の制限行として記録する。
// 遅延返却1回につき1回だけ呼ぶこと（チェックごとではない）。
func (s *Store) HandleOverdueTx(ctx context.Context, tx db.DBTX, userID, requestID int64, equipmentCount int, now time.Time) (newCount int, banned time.Duration, err error) {
	const uq = `
	UPDATE users SET overdue_count = overdue_count + 1, last_overdue_date = ?, updated_at = CURRENT_TIMESTAMP
	WHERE user_id = ?`
	if _, err = tx.ExecContext(ctx, uq, now, userID); err != nil {
		return 0, 0, err
	}

	const cq = `SELECT overdue_count FROM users WHERE user_id = ?`
	if err = tx.QueryRowContext(ctx, cq, userID).Scan(&newCount); err != nil {
		return 0, 0, err
	}

	if err = s.insertHistoryTx(ctx, tx, userID, requestID, HistoryOverdue, equipmentCount); err != nil {
		return 0, 0, err
	}

	banned = PenaltyDuration(newCount)
	if banned > 0 {
		end := now.Add(banned)
		days := int(banned / (24 * time.Hour))
		r := &Restriction{
			UserID:    userID,
			Type:      RestrictionOverduePenalty,
			Reason:    fmt.Sprintf("延滞%d回目。%d日間の貸出停止。", newCount, days),
			StartDate: now,
			EndDate:   sql.NullTime{Time: end, Valid: true},
		}
		if err = s.AddRestrictionTx(ctx, tx, r); err != nil {
			return 0, 0, err
		}
	}
	return newCount, banned, nil
}

// RemoveExpiredRestrictions: 期限切れの制限を落として is_restricted を再計算する
func (s *Store) RemoveExpiredRestrictions(ctx context.Context, userID int64, now time.Time) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		const dq = `DELETE FROM user_restrictions WHERE user_id = ? AND end_date IS NOT NULL AND end_date <= ?`
		if _, err := tx.ExecContext(ctx, dq, userID, now); err != nil {
			return err
		}
		const uq = `
		UPDATE users
		SET is_restricted = EXISTS(SELECT 1 FROM user_restrictions WHERE user_id = ?),
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?`
		_, err := tx.ExecContext(ctx, uq, userID, userID)
		return err
	})
}

// RemoveRestriction: admin による個別解除
func (s *Store) RemoveRestriction(ctx context.Context, userID, restrictionID int64) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		const dq = `DELETE FROM user_restrictions WHERE user_id = ? AND restriction_id = ?`
		res, err := tx.ExecContext(ctx, dq, userID, restrictionID)
		if err != nil {
			return err
		}
		if aff, _ := res.RowsAffected(); aff == 0 {
			return sql.ErrNoRows
		}
		const uq = `
		UPDATE users
		SET is_restricted = EXISTS(SELECT 1 FROM user_restrictions WHERE user_id = ?),
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?`
		_, err = tx.ExecContext(ctx, uq, userID, userID)
		return err
	})
}

// ListUsersWithExpiredRestrictions: スキャナ用
func (s *Store) ListUsersWithExpiredRestrictions(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	const q = `
	SELECT DISTINCT user_id FROM user_restrictions
	WHERE end_date IS NOT NULL AND end_date <= ?
	LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
