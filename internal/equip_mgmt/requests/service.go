package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/KazuyaTTL/Backend-QLTB/internal/equip_mgmt/equipments"
	"github.com/KazuyaTTL/Backend-QLTB/internal/equip_mgmt/notifications"
	"github.com/KazuyaTTL/Backend-QLTB/internal/equip_mgmt/quota"
	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/db"
)

const (
	purposeMinLen = 10
	purposeMaxLen = 500
	reasonMinLen  = 10
	reasonMaxLen  = 500
)

// TxRunner は1業務操作ぶんのトランザクション境界。
// fn がリトライ可能エラーで失敗した場合は操作全体をやり直す。
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx db.DBTX) error) error
}

type sqlTxRunner struct{ sdb *sql.DB }

func (r sqlTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, tx db.DBTX) error) error {
	return db.RunInTxRetry(ctx, r.sdb, nil, fn)
}

type RequestStore interface {
	InsertTx(ctx context.Context, tx db.DBTX, r *BorrowRequest, tmpNumber string) error
	FinalizeNumberTx(ctx context.Context, tx db.DBTX, requestID int64, tmpNumber string) (string, error)
	GetByIDTx(ctx context.Context, tx db.DBTX, id int64, forUpdate bool) (*BorrowRequest, error)
	GetByID(ctx context.Context, id int64) (*BorrowRequest, error)
	GetByULID(ctx context.Context, ulid string) (*BorrowRequest, error)
	GetByNumber(ctx context.Context, number string) (*BorrowRequest, error)
	List(ctx context.Context, f ListFilter, p Page) ([]BorrowRequest, int64, error)
	ListPendingByUser(ctx context.Context, userID int64) ([]BorrowRequest, error)
	ApproveTx(ctx context.Context, tx db.DBTX, id int64, reviewer int64, now time.Time, notes string) error
	RejectTx(ctx context.Context, tx db.DBTX, id int64, reviewer int64, now time.Time, reason string) error
	ReturnTx(ctx context.Context, tx db.DBTX, id int64, admin int64, now time.Time, isOverdue bool, notes string) error
	InsertDamageTx(ctx context.Context, tx db.DBTX, d *Damage) error
	ListDamages(ctx context.Context, requestID int64) ([]Damage, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	ListOverdueUnnotified(ctx context.Context, now time.Time, limit int) ([]BorrowRequest, error)
	ListDueSoon(ctx context.Context, now time.Time, days int, limit int) ([]BorrowRequest, error)
	MarkOverdue(ctx context.Context, id int64) error
	MarkReminded(ctx context.Context, id int64, now time.Time) error
}

type EquipmentLedger interface {
	LockForUpdateTx(ctx context.Context, tx db.DBTX, id int64) (*equipments.Equipment, error)
	ReserveTx(ctx context.Context, tx db.DBTX, id int64, qty int) error
	ReleaseTx(ctx context.Context, tx db.DBTX, id int64, qty int) error
	CheckAvailability(ctx context.Context, id int64, qty int) (bool, error)
	GetByID(ctx context.Context, id int64) (*equipments.Equipment, error)
}

type QuotaKeeper interface {
	Get(ctx context.Context, userID int64) (*quota.UserQuotaState, error)
	GetForUpdateTx(ctx context.Context, tx db.DBTX, userID int64) (*quota.UserQuotaState, error)
	SumPendingQuantityTx(ctx context.Context, tx db.DBTX, userID int64) (int, error)
	CommitTx(ctx context.Context, tx db.DBTX, userID int64, qty int, requestID int64) error
	UncommitTx(ctx context.Context, tx db.DBTX, userID int64, qty int, requestID int64) error
	HandleOverdueTx(ctx context.Context, tx db.DBTX, userID, requestID int64, equipmentCount int, now time.Time) (int, time.Duration, error)
}

type Notifier interface {
	Publish(ctx context.Context, ev notifications.Event)
}

type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Service struct {
	tx       TxRunner
	store    RequestStore
	equip    EquipmentLedger
	quota    QuotaKeeper
	notifier Notifier
	clock    Clock
	newULID  func() string
}

func NewService(sdb *sql.DB, store *Store, equip *equipments.Store, q *quota.Store, notifier Notifier) *Service {
	return &Service{
		tx:       sqlTxRunner{sdb: sdb},
		store:    store,
		equip:    equip,
		quota:    q,
		notifier: notifier,
		clock:    realClock{},
		newULID:  func() string { return ulid.Make().String() },
	}
}

// ===== 申請作成 =====

func (s *Service) Create(ctx context.Context, userID int64, in CreateRequest) (*RequestResponse, error) {
	now := s.clock.Now()

	purpose := strings.TrimSpace(in.Purpose)
	if n := len([]rune(purpose)); n < purposeMinLen || n > purposeMaxLen {
		return nil, ErrInvalid(fmt.Sprintf("purpose must be %d-%d characters", purposeMinLen, purposeMaxLen))
	}
	if len(in.Items) == 0 {
		return nil, ErrInvalid("at least one equipment is required")
	}
	seen := map[int64]bool{}
	total := 0
	for _, it := range in.Items {
		if it.Quantity < 1 {
			return nil, ErrInvalid("quantity must be positive")
		}
		if seen[it.EquipmentID] {
			return nil, ErrInvalid("duplicate equipment in request")
		}
		seen[it.EquipmentID] = true
		total += it.Quantity
	}
	if !in.ExpectedReturnDate.After(in.BorrowDate) {
		return nil, ErrInvalid("expected return date must be after borrow date")
	}
	if in.BorrowDate.Before(truncateDate(now)) {
		return nil, ErrInvalid("borrow date must not be in the past")
	}

	// 在庫の事前チェック。確保は承認時なので、ここは参考値でしかないが
	// 明らかに足りない申請を弾いておく。
	for _, it := range in.Items {
		e, err := s.equip.GetByID(ctx, it.EquipmentID)
		if err != nil {
			return nil, translateEquipErr(err)
		}
		if !e.IsActive {
			return nil, ErrInvalid(fmt.Sprintf("機材「%s」は現在貸出できません", e.Name))
		}
		if ok, err := s.equip.CheckAvailability(ctx, it.EquipmentID, it.Quantity); err != nil {
			return nil, translateEquipErr(err)
		} else if !ok {
			return nil, ErrInsufficientStock(
				fmt.Sprintf("機材「%s」の在庫が不足しています。在庫: %d, 要求: %d", e.Name, e.AvailableQuantity, it.Quantity),
				map[string]any{"equipment_id": e.EquipmentID, "available": e.AvailableQuantity, "requested": it.Quantity},
			)
		}
	}

	r := &BorrowRequest{
		RequestULID:        s.newULID(),
		BorrowerID:         userID,
		BorrowDate:         in.BorrowDate,
		ExpectedReturnDate: in.ExpectedReturnDate,
		Purpose:            purpose,
		Status:             StatusPending,
	}
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		r.Notes = sql.NullString{String: notes, Valid: true}
	}
	for _, it := range in.Items {
		r.Items = append(r.Items, RequestItem{EquipmentID: it.EquipmentID, Quantity: it.Quantity})
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		// 申請者の行ロックで同一ユーザーの同時申請を直列化する
		u, err := s.quota.GetForUpdateTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		pendingQty, err := s.quota.SumPendingQuantityTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if dec := quota.CheckCreate(u, now, pendingQty, total); !dec.Allowed {
			return decisionError(dec)
		}

		tmp := "TMP-" + r.RequestULID
		if err := s.store.InsertTx(ctx, tx, r, tmp); err != nil {
			return err
		}
		number, err := s.store.FinalizeNumberTx(ctx, tx, r.RequestID, tmp)
		if err != nil {
			return err
		}
		r.RequestNumber = number
		return nil
	})
	if err != nil {
		return nil, err
	}

	created, err := s.store.GetByID(ctx, r.RequestID)
	if err != nil {
		return nil, err
	}
	resp := buildRequestResponse(created, now)
	return &resp, nil
}

func decisionError(dec quota.Decision) error {
	details := map[string]any{
		"current_count":   dec.CurrentCount,
		"pending_count":   dec.PendingCount,
		"requested_count": dec.RequestedCount,
		"limit":           dec.Limit,
		"remaining":       dec.Remaining,
	}
	if len(dec.Restrictions) > 0 {
		var rs []map[string]any
		for _, r := range dec.Restrictions {
			m := map[string]any{"type": r.Type, "reason": r.Reason}
			if r.EndDate.Valid {
				m["end_date"] = r.EndDate.Time
			}
			rs = append(rs, m)
		}
		details["restrictions"] = rs
		return ErrRestricted(dec.Reason, details)
	}
	return ErrQuotaExceeded(dec.Reason, details)
}

// ===== 承認（＝貸出実行） =====

func (s *Service) Approve(ctx context.Context, adminID, requestID int64, in ApproveRequest) (*RequestResponse, error) {
	now := s.clock.Now()
	if len([]rune(in.Notes)) > reasonMaxLen {
		return nil, ErrInvalid("notes too long")
	}

	var approved *BorrowRequest
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		r, err := s.store.GetByIDTx(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return ErrInvalidTransition(r.Status, "approve")
		}

		u, err := s.quota.GetForUpdateTx(ctx, tx, r.BorrowerID)
		if err != nil {
			return err
		}
		total := r.TotalQuantity()
		if dec := quota.CheckApprove(u, now, total); !dec.Allowed {
			return decisionError(dec)
		}

		// デッドロック回避のため機材は equipment_id 昇順でロックする
		items := append([]RequestItem(nil), r.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].EquipmentID < items[j].EquipmentID })
		for _, it := range items {
			e, err := s.equip.LockForUpdateTx(ctx, tx, it.EquipmentID)
			if err != nil {
				return translateEquipErr(err)
			}
			if !e.CanBorrow(it.Quantity) {
				return ErrInsufficientStock(
					fmt.Sprintf("機材「%s」の在庫が不足しています。在庫: %d, 要求: %d", e.Name, e.AvailableQuantity, it.Quantity),
					map[string]any{"equipment_id": e.EquipmentID, "available": e.AvailableQuantity, "requested": it.Quantity},
				)
			}
			if err := s.equip.ReserveTx(ctx, tx, it.EquipmentID, it.Quantity); err != nil {
				return translateEquipErr(err)
			}
		}

		if err := s.store.ApproveTx(ctx, tx, requestID, adminID, now, strings.TrimSpace(in.Notes)); err != nil {
			return err
		}
		if err := s.quota.CommitTx(ctx, tx, r.BorrowerID, total, requestID); err != nil {
			return err
		}
		approved = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(ctx, notifications.RequestApproved(approved.BorrowerID, approved.RequestNumber, approved.ExpectedReturnDate, itemSummaries(approved.Items)))

	updated, err := s.store.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	resp := buildRequestResponse(updated, now)
	return &resp, nil
}

// ===== 却下 =====

func (s *Service) Reject(ctx context.Context, adminID, requestID int64, in RejectRequest) (*RequestResponse, error) {
	now := s.clock.Now()
	reason := strings.TrimSpace(in.Reason)
	if n := len([]rune(reason)); n < reasonMinLen || n > reasonMaxLen {
		return nil, ErrInvalid(fmt.Sprintf("rejection reason must be %d-%d characters", reasonMinLen, reasonMaxLen))
	}

	var rejected *BorrowRequest
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		r, err := s.store.GetByIDTx(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return ErrInvalidTransition(r.Status, "reject")
		}
		if err := s.store.RejectTx(ctx, tx, requestID, adminID, now, reason); err != nil {
			return err
		}
		rejected = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(ctx, notifications.RequestRejected(rejected.BorrowerID, rejected.RequestNumber, reason))

	updated, err := s.store.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	resp := buildRequestResponse(updated, now)
	return &resp, nil
}

// ===== 返却 =====

func (s *Service) Return(ctx context.Context, adminID, requestID int64, in ReturnRequest) (*RequestResponse, error) {
	now := s.clock.Now()

	for _, d := range in.Damages {
		if err := checkDamageInput(d); err != nil {
			return nil, err
		}
	}

	var (
		returned  *BorrowRequest
		isOverdue bool
		newCount  int
		banDur    time.Duration
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		r, err := s.store.GetByIDTx(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		if r.Status != StatusBorrowed {
			return ErrInvalidTransition(r.Status, "return")
		}

		if _, err := s.quota.GetForUpdateTx(ctx, tx, r.BorrowerID); err != nil {
			return err
		}

		items := append([]RequestItem(nil), r.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].EquipmentID < items[j].EquipmentID })
		for _, it := range items {
			e, err := s.equip.LockForUpdateTx(ctx, tx, it.EquipmentID)
			if err != nil {
				return translateEquipErr(err)
			}
			if e.BorrowedQuantity < it.Quantity {
				return translateEquipErr(equipments.ErrOverRelease(e.Name, e.BorrowedQuantity, it.Quantity))
			}
			if err := s.equip.ReleaseTx(ctx, tx, it.EquipmentID, it.Quantity); err != nil {
				return translateEquipErr(err)
			}
		}

		isOverdue = now.After(r.ExpectedReturnDate)
		total := r.TotalQuantity()

		// 延滞処理は返却と同一トランザクション。遅延1回につき必ず1回だけ記録される。
		if isOverdue {
			newCount, banDur, err = s.quota.HandleOverdueTx(ctx, tx, r.BorrowerID, requestID, total, now)
			if err != nil {
				return err
			}
		}
		if err := s.quota.UncommitTx(ctx, tx, r.BorrowerID, total, requestID); err != nil {
			return err
		}
		if err := s.store.ReturnTx(ctx, tx, requestID, adminID, now, isOverdue, strings.TrimSpace(in.Notes)); err != nil {
			return err
		}

		for _, d := range in.Damages {
			dmg := &Damage{
				RequestID:   requestID,
				EquipmentID: d.EquipmentID,
				Description: strings.TrimSpace(d.Description),
				Severity:    d.Severity,
				ReportedBy:  adminID,
			}
			if d.Cost != nil {
				dmg.Cost.Decimal = *d.Cost
				dmg.Cost.Valid = true
			}
			if err := s.store.InsertDamageTx(ctx, tx, dmg); err != nil {
				return err
			}
		}
		returned = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(ctx, notifications.ReturnCompleted(returned.BorrowerID, returned.RequestNumber, isOverdue, itemSummaries(returned.Items)))
	if isOverdue {
		s.notifier.Publish(ctx, notifications.PenaltyApplied(returned.BorrowerID, newCount, banDur))
	}

	updated, err := s.store.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	resp := buildRequestResponse(updated, now)
	return &resp, nil
}

// ===== 参照系 =====

func (s *Service) Get(ctx context.Context, requesterID int64, isAdmin bool, id int64) (*RequestResponse, error) {
	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && r.BorrowerID != requesterID {
		return nil, ErrNotFound("borrow request not found")
	}
	resp := buildRequestResponse(r, s.clock.Now())
	return &resp, nil
}

func (s *Service) GetByULID(ctx context.Context, requesterID int64, isAdmin bool, ulidStr string) (*RequestResponse, error) {
	r, err := s.store.GetByULID(ctx, ulidStr)
	if err != nil {
		return nil, err
	}
	if !isAdmin && r.BorrowerID != requesterID {
		return nil, ErrNotFound("borrow request not found")
	}
	resp := buildRequestResponse(r, s.clock.Now())
	return &resp, nil
}

func (s *Service) GetByNumber(ctx context.Context, requesterID int64, isAdmin bool, number string) (*RequestResponse, error) {
	r, err := s.store.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !isAdmin && r.BorrowerID != requesterID {
		return nil, ErrNotFound("borrow request not found")
	}
	resp := buildRequestResponse(r, s.clock.Now())
	return &resp, nil
}

func (s *Service) List(ctx context.Context, requesterID int64, isAdmin bool, f ListFilter, p Page) ([]RequestResponse, int64, error) {
	if !isAdmin {
		f.BorrowerID = &requesterID
	}
	rows, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return nil, 0, err
	}
	now := s.clock.Now()
	out := make([]RequestResponse, 0, len(rows))
	for i := range rows {
		out = append(out, buildRequestResponse(&rows[i], now))
	}
	return out, total, nil
}

// GetPendingOverview: 本人の承認待ち一覧（先着順）と、その順で承認して
// いった場合に各申請が枠に収まるかのシミュレーション付き現況
func (s *Service) GetPendingOverview(ctx context.Context, userID int64) (*PendingOverview, error) {
	rows, err := s.store.ListPendingByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u, err := s.quota.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].RequestID < rows[j].RequestID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	now := s.clock.Now()
	ov := &PendingOverview{
		BorrowedQty:  u.CurrentBorrowCount,
		MaxBorrowQty: u.BorrowLimit,
	}
	sim := *u
	for i := range rows {
		qty := rows[i].TotalQuantity()
		dec := quota.CheckApprove(&sim, now, qty)
		if dec.Allowed {
			sim.CurrentBorrowCount += qty
		}
		ov.Requests = append(ov.Requests, PendingEntry{
			RequestResponse: buildRequestResponse(&rows[i], now),
			WouldAdmit:      dec.Allowed,
		})
		ov.PendingQty += qty
	}
	ov.PendingCount = len(rows)
	if rem := u.BorrowLimit - u.CurrentBorrowCount - ov.PendingQty; rem > 0 {
		ov.RemainingQty = rem
	}
	return ov, nil
}

func itemSummaries(items []RequestItem) []notifications.ItemSummary {
	out := make([]notifications.ItemSummary, 0, len(items))
	for _, it := range items {
		out = append(out, notifications.ItemSummary{Name: it.EquipmentName, Quantity: it.Quantity})
	}
	return out
}

func (s *Service) ListDamages(ctx context.Context, requesterID int64, isAdmin bool, requestID int64) ([]Damage, error) {
	r, err := s.store.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && r.BorrowerID != requesterID {
		return nil, ErrNotFound("borrow request not found")
	}
	return s.store.ListDamages(ctx, requestID)
}

func checkDamageInput(d DamageRequest) error {
	if d.Severity != SeverityMinor && d.Severity != SeverityModerate && d.Severity != SeveritySevere {
		return ErrInvalid("invalid damage severity: " + d.Severity)
	}
	if strings.TrimSpace(d.Description) == "" {
		return ErrInvalid("damage description is required")
	}
	if d.Cost != nil && d.Cost.IsNegative() {
		return ErrInvalid("damage cost must not be negative")
	}
	return nil
}

// ReportDamage: 返却時以外の破損報告。貸出中か返却済みの申請に対してのみ受け付ける。
func (s *Service) ReportDamage(ctx context.Context, adminID, requestID int64, in DamageRequest) (*Damage, error) {
	if err := checkDamageInput(in); err != nil {
		return nil, err
	}

	var out *Damage
	err := s.tx.RunInTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		r, err := s.store.GetByIDTx(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		if r.Status != StatusBorrowed && r.Status != StatusReturned {
			return ErrInvalid("damages can only be reported for borrowed or returned requests")
		}
		found := false
		for _, it := range r.Items {
			if it.EquipmentID == in.EquipmentID {
				found = true
				break
			}
		}
		if !found {
			return ErrInvalid("equipment is not part of this request")
		}

		dmg := &Damage{
			RequestID:   requestID,
			EquipmentID: in.EquipmentID,
			Description: strings.TrimSpace(in.Description),
			Severity:    in.Severity,
			ReportedBy:  adminID,
		}
		if in.Cost != nil {
			dmg.Cost.Decimal = *in.Cost
			dmg.Cost.Valid = true
		}
		if err := s.store.InsertDamageTx(ctx, tx, dmg); err != nil {
			return err
		}
		out = dmg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	m, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	st := &StatsResponse{ByStatus: m}
	for _, n := range m {
		st.Total += n
	}
	return st, nil
}

// ===== スケジューラ連携 =====

// ScanOverdue: 期限超過の貸出に延滞フラグを立て、延滞通知を1回だけ出す。
// ペナルティ集計は返却時に行うので、ここでは触らない。
func (s *Service) ScanOverdue(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()
	rows, err := s.store.ListOverdueUnnotified(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	for i := range rows {
		if err := s.store.MarkOverdue(ctx, rows[i].RequestID); err != nil {
			return i, err
		}
		s.notifier.Publish(ctx, notifications.OverdueNotice(rows[i].BorrowerID, rows[i].RequestNumber, rows[i].ExpectedReturnDate, itemSummaries(rows[i].Items)))
	}
	return len(rows), nil
}

// ScanDueSoon: 返却期限が近い貸出へリマインドを送る
func (s *Service) ScanDueSoon(ctx context.Context, days, limit int) (int, error) {
	now := s.clock.Now()
	rows, err := s.store.ListDueSoon(ctx, now, days, limit)
	if err != nil {
		return 0, err
	}
	for i := range rows {
		left := int(rows[i].ExpectedReturnDate.Sub(now) / (24 * time.Hour))
		s.notifier.Publish(ctx, notifications.ReturnReminder(rows[i].BorrowerID, rows[i].RequestNumber, rows[i].ExpectedReturnDate, left))
		if err := s.store.MarkReminded(ctx, rows[i].RequestID, now); err != nil {
			return i, err
		}
	}
	return len(rows), nil
}

// translateEquipErr: 台帳側の APIError をこちらのエラー体系に写し替える
func translateEquipErr(err error) error {
	var api *equipments.APIError
	if !errors.As(err, &api) {
		return err
	}
	switch api.Code {
	case equipments.CodeNotFound:
		return ErrNotFound(api.Message)
	case equipments.CodeInsufficientStock:
		return ErrInsufficientStock(api.Message, map[string]any{"available": api.Available})
	case equipments.CodeInvalidArgument:
		return ErrInvalid(api.Message)
	default:
		return ErrConflict(api.Message)
	}
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
