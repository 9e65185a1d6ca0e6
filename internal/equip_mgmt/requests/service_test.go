package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KazuyaTTL/Backend-QLTB/internal/equip_mgmt/equipments"
	"github.com/KazuyaTTL/Backend-QLTB/internal/equip_mgmt/notifications"
	"github.com/KazuyaTTL/Backend-QLTB/internal/equip_mgmt/quota"
	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/db"
)

// ---------- インメモリ環境 ----------
// DBの代わりに全状態をメモリで持ち、RunInTx はスナップショット復元で
// ロールバックを再現する。ミューテックスで直列化するのでレース検査にも使える。

type memEnv struct {
	mu       sync.Mutex
	now      func() time.Time
	equip    map[int64]*equipments.Equipment
	users    map[int64]*quota.UserQuotaState
	requests map[int64]*BorrowRequest
	damages  []Damage
	reminded map[int64]time.Time
	nextID   int64
}

func newMemEnv(now func() time.Time) *memEnv {
	return &memEnv{
		now:      now,
		equip:    map[int64]*equipments.Equipment{},
		users:    map[int64]*quota.UserQuotaState{},
		requests: map[int64]*BorrowRequest{},
		reminded: map[int64]time.Time{},
	}
}

type memSnapshot struct {
	equip    map[int64]*equipments.Equipment
	users    map[int64]*quota.UserQuotaState
	requests map[int64]*BorrowRequest
	damages  []Damage
	nextID   int64
}

func copyRequest(r *BorrowRequest) *BorrowRequest {
	c := *r
	c.Items = append([]RequestItem(nil), r.Items...)
	return &c
}

func copyUser(u *quota.UserQuotaState) *quota.UserQuotaState {
	c := *u
	c.Restrictions = append([]quota.Restriction(nil), u.Restrictions...)
	return &c
}

func (e *memEnv) snapshot() memSnapshot {
	s := memSnapshot{
		equip:    map[int64]*equipments.Equipment{},
		users:    map[int64]*quota.UserQuotaState{},
		requests: map[int64]*BorrowRequest{},
		damages:  append([]Damage(nil), e.damages...),
		nextID:   e.nextID,
	}
	for id, eq := range e.equip {
		c := *eq
		s.equip[id] = &c
	}
	for id, u := range e.users {
		s.users[id] = copyUser(u)
	}
	for id, r := range e.requests {
		s.requests[id] = copyRequest(r)
	}
	return s
}

func (e *memEnv) restore(s memSnapshot) {
	e.equip, e.users, e.requests, e.damages, e.nextID = s.equip, s.users, s.requests, s.damages, s.nextID
}

// TxRunner
func (e *memEnv) RunInTx(ctx context.Context, fn func(ctx context.Context, tx db.DBTX) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.snapshot()
	if err := fn(ctx, nil); err != nil {
		e.restore(snap)
		return err
	}
	return nil
}

// ---------- RequestStore ----------

func (e *memEnv) InsertTx(_ context.Context, _ db.DBTX, r *BorrowRequest, tmpNumber string) error {
	e.nextID++
	r.RequestID = e.nextID
	r.RequestNumber = tmpNumber
	r.CreatedAt = e.now()
	r.UpdatedAt = r.CreatedAt
	for i := range r.Items {
		r.Items[i].ItemID = int64(i + 1)
		r.Items[i].RequestID = r.RequestID
	}
	e.requests[r.RequestID] = copyRequest(r)
	return nil
}

func (e *memEnv) FinalizeNumberTx(_ context.Context, _ db.DBTX, requestID int64, _ string) (string, error) {
	r, ok := e.requests[requestID]
	if !ok {
		return "", ErrNotFound("borrow request not found")
	}
	r.RequestNumber = fmt.Sprintf("BR%s%04d", r.CreatedAt.Format("0601"), requestID)
	return r.RequestNumber, nil
}

func (e *memEnv) getLocked(id int64) (*BorrowRequest, error) {
	r, ok := e.requests[id]
	if !ok {
		return nil, ErrNotFound("borrow request not found")
	}
	c := copyRequest(r)
	for i := range c.Items {
		if eq, ok := e.equip[c.Items[i].EquipmentID]; ok {
			c.Items[i].EquipmentName = eq.Name
		}
	}
	return c, nil
}

func (e *memEnv) GetByIDTx(_ context.Context, _ db.DBTX, id int64, _ bool) (*BorrowRequest, error) {
	return e.getLocked(id)
}

func (e *memEnv) GetByID(_ context.Context, id int64) (*BorrowRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getLocked(id)
}

func (e *memEnv) GetByULID(_ context.Context, u string) (*BorrowRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, r := range e.requests {
		if r.RequestULID == u {
			return e.getLocked(id)
		}
	}
	return nil, ErrNotFound("borrow request not found")
}

func (e *memEnv) GetByNumber(_ context.Context, number string) (*BorrowRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, r := range e.requests {
		if r.RequestNumber == number {
			return e.getLocked(id)
		}
	}
	return nil, ErrNotFound("borrow request not found")
}

func (e *memEnv) List(_ context.Context, f ListFilter, _ Page) ([]BorrowRequest, int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []BorrowRequest
	for id, r := range e.requests {
		if f.BorrowerID != nil && r.BorrowerID != *f.BorrowerID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		c, _ := e.getLocked(id)
		out = append(out, *c)
	}
	return out, int64(len(out)), nil
}

func (e *memEnv) ListPendingByUser(_ context.Context, userID int64) ([]BorrowRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []BorrowRequest
	for id, r := range e.requests {
		if r.BorrowerID == userID && r.Status == StatusPending {
			c, _ := e.getLocked(id)
			out = append(out, *c)
		}
	}
	return out, nil
}

func (e *memEnv) ApproveTx(_ context.Context, _ db.DBTX, id int64, reviewer int64, now time.Time, notes string) error {
	r, ok := e.requests[id]
	if !ok || r.Status != StatusPending {
		return ErrConflict("request is no longer pending")
	}
	r.Status = StatusBorrowed
	r.ReviewedBy = sql.NullInt64{Int64: reviewer, Valid: true}
	r.ReviewedAt = sql.NullTime{Time: now, Valid: true}
	if notes != "" {
		r.ReviewNotes = sql.NullString{String: notes, Valid: true}
	}
	r.BorrowedBy = sql.NullInt64{Int64: reviewer, Valid: true}
	r.BorrowedAt = sql.NullTime{Time: now, Valid: true}
	return nil
}

func (e *memEnv) RejectTx(_ context.Context, _ db.DBTX, id int64, reviewer int64, now time.Time, reason string) error {
	r, ok := e.requests[id]
	if !ok || r.Status != StatusPending {
		return ErrConflict("request is no longer pending")
	}
	r.Status = StatusRejected
	r.ReviewedBy = sql.NullInt64{Int64: reviewer, Valid: true}
	r.ReviewedAt = sql.NullTime{Time: now, Valid: true}
	r.RejectionReason = sql.NullString{String: reason, Valid: true}
	return nil
}

func (e *memEnv) ReturnTx(_ context.Context, _ db.DBTX, id int64, admin int64, now time.Time, isOverdue bool, _ string) error {
	r, ok := e.requests[id]
	if !ok || r.Status != StatusBorrowed {
		return ErrConflict("request is not in borrowed status")
	}
	r.Status = StatusReturned
	r.ReturnedBy = sql.NullInt64{Int64: admin, Valid: true}
	r.ReturnedAt = sql.NullTime{Time: now, Valid: true}
	r.ActualReturnDate = sql.NullTime{Time: now, Valid: true}
	r.IsOverdue = isOverdue
	return nil
}

func (e *memEnv) InsertDamageTx(_ context.Context, _ db.DBTX, d *Damage) error {
	d.DamageID = int64(len(e.damages) + 1)
	e.damages = append(e.damages, *d)
	return nil
}

func (e *memEnv) ListDamages(_ context.Context, requestID int64) ([]Damage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Damage
	for _, d := range e.damages {
		if d.RequestID == requestID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (e *memEnv) CountByStatus(_ context.Context) (map[string]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := map[string]int64{}
	for _, r := range e.requests {
		out[string(r.Status)]++
	}
	return out, nil
}

func (e *memEnv) ListOverdueUnnotified(_ context.Context, now time.Time, _ int) ([]BorrowRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []BorrowRequest
	for id, r := range e.requests {
		if r.Status == StatusBorrowed && r.ExpectedReturnDate.Before(now) && !r.OverdueNotified {
			c, _ := e.getLocked(id)
			out = append(out, *c)
		}
	}
	return out, nil
}

func (e *memEnv) ListDueSoon(_ context.Context, now time.Time, days, _ int) ([]BorrowRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	until := now.Add(time.Duration(days) * 24 * time.Hour)
	var out []BorrowRequest
	for id, r := range e.requests {
		if r.Status != StatusBorrowed || r.ExpectedReturnDate.Before(now) || r.ExpectedReturnDate.After(until) {
			continue
		}
		if e.reminded[id].IsZero() || now.Sub(e.reminded[id]) >= 24*time.Hour {
			c, _ := e.getLocked(id)
			out = append(out, *c)
		}
	}
	return out, nil
}

func (e *memEnv) MarkOverdue(_ context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.requests[id]; ok {
		r.IsOverdue = true
		r.OverdueNotified = true
	}
	return nil
}

func (e *memEnv) MarkReminded(_ context.Context, id int64, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reminded[id] = now
	return nil
}

// ---------- EquipmentLedger ----------

func (e *memEnv) LockForUpdateTx(_ context.Context, _ db.DBTX, id int64) (*equipments.Equipment, error) {
	eq, ok := e.equip[id]
	if !ok {
		return nil, ErrNotFound("equipment not found")
	}
	c := *eq
	return &c, nil
}

func (e *memEnv) ReserveTx(_ context.Context, _ db.DBTX, id int64, qty int) error {
	eq, ok := e.equip[id]
	if !ok || !eq.IsActive || eq.AvailableQuantity < qty {
		return ErrConflict("stock changed concurrently")
	}
	eq.AvailableQuantity -= qty
	eq.BorrowedQuantity += qty
	return nil
}

func (e *memEnv) ReleaseTx(_ context.Context, _ db.DBTX, id int64, qty int) error {
	eq, ok := e.equip[id]
	if !ok || eq.BorrowedQuantity < qty {
		return ErrConflict("release exceeds borrowed quantity")
	}
	eq.BorrowedQuantity -= qty
	eq.AvailableQuantity += qty
	return nil
}

func (e *memEnv) CheckAvailability(_ context.Context, id int64, qty int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	eq, ok := e.equip[id]
	if !ok {
		return false, ErrNotFound("equipment not found")
	}
	return eq.IsActive && eq.AvailableQuantity >= qty, nil
}

// memLedger: EquipmentLedger 側の GetByID は RequestStore の GetByID と
// シグネチャが衝突するので、埋め込みでビューを分ける
type memLedger struct{ *memEnv }

func (l memLedger) GetByID(_ context.Context, id int64) (*equipments.Equipment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	eq, ok := l.equip[id]
	if !ok {
		return nil, ErrNotFound("equipment not found")
	}
	c := *eq
	return &c, nil
}

// ---------- QuotaKeeper ----------

func (e *memEnv) Get(_ context.Context, userID int64) (*quota.UserQuotaState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[userID]
	if !ok {
		return nil, ErrNotFound("user not found")
	}
	return copyUser(u), nil
}

func (e *memEnv) GetForUpdateTx(_ context.Context, _ db.DBTX, userID int64) (*quota.UserQuotaState, error) {
	u, ok := e.users[userID]
	if !ok {
		return nil, ErrNotFound("user not found")
	}
	return copyUser(u), nil
}

func (e *memEnv) SumPendingQuantityTx(_ context.Context, _ db.DBTX, userID int64) (int, error) {
	sum := 0
	for _, r := range e.requests {
		if r.BorrowerID == userID && r.Status == StatusPending {
			sum += r.TotalQuantity()
		}
	}
	return sum, nil
}

func (e *memEnv) CommitTx(_ context.Context, _ db.DBTX, userID int64, qty int, _ int64) error {
	e.users[userID].CurrentBorrowCount += qty
	return nil
}

func (e *memEnv) UncommitTx(_ context.Context, _ db.DBTX, userID int64, qty int, _ int64) error {
	u := e.users[userID]
	u.CurrentBorrowCount -= qty
	if u.CurrentBorrowCount < 0 {
		u.CurrentBorrowCount = 0
	}
	return nil
}

func (e *memEnv) HandleOverdueTx(_ context.Context, _ db.DBTX, userID, _ int64, _ int, now time.Time) (int, time.Duration, error) {
	u := e.users[userID]
	u.OverdueCount++
	u.LastOverdueDate = sql.NullTime{Time: now, Valid: true}
	dur := quota.PenaltyDuration(u.OverdueCount)
	if dur > 0 {
		u.IsRestricted = true
		u.Restrictions = append(u.Restrictions, quota.Restriction{
			Type:      quota.RestrictionOverduePenalty,
			Reason:    "延滞違反",
			StartDate: now,
			EndDate:   sql.NullTime{Time: now.Add(dur), Valid: true},
		})
	}
	return u.OverdueCount, dur, nil
}

// ---------- Notifier / Clock ----------

type eventRecorder struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *eventRecorder) Publish(_ context.Context, ev notifications.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) byType(typ string) []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notifications.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ---------- フィクスチャ ----------

type fixture struct {
	env    *memEnv
	clock  *fakeClock
	events *eventRecorder
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	env := newMemEnv(clock.Now)
	rec := &eventRecorder{}
	var seq int64
	svc := &Service{
		tx:       env,
		store:    env,
		equip:    memLedger{env},
		quota:    env,
		notifier: rec,
		clock:    clock,
		newULID: func() string {
			seq++
			return fmt.Sprintf("01TESTULID%016d", seq)
		},
	}
	return &fixture{env: env, clock: clock, events: rec, svc: svc}
}

func (f *fixture) seedUser(id int64, limit, current int) {
	f.env.users[id] = &quota.UserQuotaState{UserID: id, FullName: fmt.Sprintf("user-%d", id), BorrowLimit: limit, CurrentBorrowCount: current}
}

func (f *fixture) seedEquip(id int64, total int) {
	f.env.equip[id] = &equipments.Equipment{
		EquipmentID:       id,
		Name:              fmt.Sprintf("equip-%d", id),
		TotalQuantity:     total,
		AvailableQuantity: total,
		IsActive:          true,
	}
}

func (f *fixture) createReq(items []CreateItemRequest) CreateRequest {
	now := f.clock.Now()
	return CreateRequest{
		Items:              items,
		BorrowDate:         now,
		ExpectedReturnDate: now.Add(3 * 24 * time.Hour),
		Purpose:            "回路実習の測定課題で使用するため",
	}
}

func apiCode(t *testing.T, err error) Code {
	t.Helper()
	var api *APIError
	require.True(t, errors.As(err, &api), "expected APIError, got %v", err)
	return api.Code
}

// ---------- テスト ----------

func TestCreate_Success(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)
	f.seedEquip(11, 2)

	res, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{
		{EquipmentID: 10, Quantity: 2},
		{EquipmentID: 11, Quantity: 1},
	}))
	require.NoError(t, err)
	assert.Equal(t, string(StatusPending), res.Status)
	assert.Equal(t, 3, res.TotalQuantity)
	assert.Regexp(t, `^BR2603\d{4}$`, res.RequestNumber)
	assert.NotEmpty(t, res.RequestULID)

	// 作成だけでは在庫もクォータも動かない
	assert.Equal(t, 5, f.env.equip[10].AvailableQuantity)
	assert.Equal(t, 0, f.env.users[1].CurrentBorrowCount)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{name: "short_purpose", mutate: func(r *CreateRequest) { r.Purpose = "短い" }},
		{name: "no_items", mutate: func(r *CreateRequest) { r.Items = nil }},
		{name: "zero_quantity", mutate: func(r *CreateRequest) { r.Items[0].Quantity = 0 }},
		{name: "duplicate_equipment", mutate: func(r *CreateRequest) {
			r.Items = append(r.Items, CreateItemRequest{EquipmentID: 10, Quantity: 1})
		}},
		{name: "return_before_borrow", mutate: func(r *CreateRequest) {
			r.ExpectedReturnDate = r.BorrowDate.Add(-time.Hour)
		}},
		{name: "borrow_in_the_past", mutate: func(r *CreateRequest) {
			r.BorrowDate = r.BorrowDate.Add(-48 * time.Hour)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}})
			tt.mutate(&req)
			_, err := f.svc.Create(context.Background(), 1, req)
			require.Error(t, err)
			assert.Equal(t, CodeInvalidArgument, apiCode(t, err))
		})
	}
}

func TestCreate_QuotaCountsPending(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 2)
	f.seedEquip(10, 20)

	// 2(貸出中) + 2(これ) = 4 <= 5
	_, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 2}}))
	require.NoError(t, err)

	// 2 + 2(承認待ち) + 2 = 6 > 5 → 却下
	_, err = f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 2}}))
	require.Error(t, err)
	assert.Equal(t, CodeQuotaExceeded, apiCode(t, err))

	// ちょうど上限までは通る
	_, err = f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.NoError(t, err)
}

func TestCreate_ZeroLimitNeverAdmits(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 0, 0)
	f.seedEquip(10, 5)

	_, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.Error(t, err)
	assert.Equal(t, CodeQuotaExceeded, apiCode(t, err))
}

func TestCreate_RestrictedUser(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	u := f.env.users[1]
	u.IsRestricted = true
	u.Restrictions = []quota.Restriction{{
		Type:      quota.RestrictionOverduePenalty,
		Reason:    "延滞違反",
		StartDate: f.clock.Now().Add(-time.Hour),
		EndDate:   sql.NullTime{Time: f.clock.Now().Add(24 * time.Hour), Valid: true},
	}}
	f.seedEquip(10, 5)

	_, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.Error(t, err)
	assert.Equal(t, CodeRestricted, apiCode(t, err))
}

func TestCreate_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 10, 0)
	f.seedEquip(10, 2)

	_, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 3}}))
	require.Error(t, err)
	assert.Equal(t, CodeInsufficientStock, apiCode(t, err))
}

func TestApprove_ReservesStockAndCommitsQuota(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 2}}))
	require.NoError(t, err)

	res, err := f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{Notes: "OK"})
	require.NoError(t, err)
	assert.Equal(t, string(StatusBorrowed), res.Status)

	assert.Equal(t, 3, f.env.equip[10].AvailableQuantity)
	assert.Equal(t, 2, f.env.equip[10].BorrowedQuantity)
	assert.Equal(t, 2, f.env.users[1].CurrentBorrowCount)
	assert.NoError(t, f.env.equip[10].CheckInvariant())

	approvedEvents := f.events.byType(notifications.TypeRequestApproved)
	require.Len(t, approvedEvents, 1)
	assert.Equal(t, int64(1), approvedEvents[0].UserID)
}

func TestApprove_SecondCallIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 2}}))
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidTransition, apiCode(t, err))

	// 状態はそのまま（二重デビットなし）
	assert.Equal(t, 3, f.env.equip[10].AvailableQuantity)
	assert.Equal(t, 2, f.env.users[1].CurrentBorrowCount)
}

func TestApprove_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 10, 0)
	f.seedEquip(10, 5)
	f.seedEquip(11, 1)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{
		{EquipmentID: 10, Quantity: 2},
		{EquipmentID: 11, Quantity: 1},
	}))
	require.NoError(t, err)

	// 承認前に2つ目の機材の在庫が消える
	f.env.equip[11].AvailableQuantity = 0
	f.env.equip[11].BorrowedQuantity = 1

	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.Error(t, err)
	assert.Equal(t, CodeInsufficientStock, apiCode(t, err))

	// 1つ目のデビットも巻き戻っている
	assert.Equal(t, 5, f.env.equip[10].AvailableQuantity)
	assert.Equal(t, 0, f.env.users[1].CurrentBorrowCount)

	// リクエストは pending のまま（再承認可能）
	r, err := f.env.GetByID(context.Background(), created.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
}

func TestApprove_RechecksQuota(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 20)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 3}}))
	require.NoError(t, err)

	// 作成後に別の貸出で枠が埋まった
	f.env.users[1].CurrentBorrowCount = 4

	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.Error(t, err)
	assert.Equal(t, CodeQuotaExceeded, apiCode(t, err))

	r, _ := f.env.GetByID(context.Background(), created.RequestID)
	assert.Equal(t, StatusPending, r.Status, "却下ではなく pending のまま")
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.NoError(t, err)

	_, err = f.svc.Reject(context.Background(), 99, created.RequestID, RejectRequest{Reason: "短い"})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, apiCode(t, err), "却下理由は10文字以上")

	res, err := f.svc.Reject(context.Background(), 99, created.RequestID, RejectRequest{Reason: "該当機材は実習予約で確保済みのため"})
	require.NoError(t, err)
	assert.Equal(t, string(StatusRejected), res.Status)

	rejectedEvents := f.events.byType(notifications.TypeRequestRejected)
	require.Len(t, rejectedEvents, 1)

	// 却下済みへの再操作は no-op
	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidTransition, apiCode(t, err))
}

func TestReturn_OnTimeRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 2}}))
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour) // 期限内

	res, err := f.svc.Return(context.Background(), 99, created.RequestID, ReturnRequest{})
	require.NoError(t, err)
	assert.Equal(t, string(StatusReturned), res.Status)
	assert.False(t, res.IsOverdue)

	// 在庫・クォータとも元通り
	assert.Equal(t, 5, f.env.equip[10].AvailableQuantity)
	assert.Equal(t, 0, f.env.equip[10].BorrowedQuantity)
	assert.Equal(t, 0, f.env.users[1].CurrentBorrowCount)
	assert.Equal(t, 0, f.env.users[1].OverdueCount, "期限内返却はペナルティなし")

	assert.Len(t, f.events.byType(notifications.TypeReturnSuccess), 1)
	assert.Empty(t, f.events.byType(notifications.TypePenaltyApplied))
}

func TestReturn_LateEscalation(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	borrowAndReturnLate := func() {
		created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
		require.NoError(t, err)
		_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
		require.NoError(t, err)

		f.clock.Advance(5 * 24 * time.Hour) // 期限(3日)超過

		res, err := f.svc.Return(context.Background(), 99, created.RequestID, ReturnRequest{})
		require.NoError(t, err)
		assert.True(t, res.IsOverdue, "返却応答にも延滞の確定値が出る")
		assert.True(t, f.env.requests[created.RequestID].IsOverdue, "保存側の延滞フラグ")

		// 返却後の再取得でも確定値は残る
		got, err := f.svc.Get(context.Background(), 1, false, created.RequestID)
		require.NoError(t, err)
		assert.True(t, got.IsOverdue)
	}

	// 1回目: 記録のみ、制限なし
	borrowAndReturnLate()
	assert.Equal(t, 1, f.env.users[1].OverdueCount)
	assert.False(t, f.env.users[1].IsRestricted)

	// 2回目: 7日の自動制限
	f.env.users[1].IsRestricted = false
	f.env.users[1].Restrictions = nil
	borrowAndReturnLate()
	assert.Equal(t, 2, f.env.users[1].OverdueCount)
	require.True(t, f.env.users[1].IsRestricted)
	require.Len(t, f.env.users[1].Restrictions, 1)
	end := f.env.users[1].Restrictions[0].EndDate
	require.True(t, end.Valid)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), end.Time)

	// ペナルティ通知は返却ごとに1回
	assert.Len(t, f.events.byType(notifications.TypePenaltyApplied), 2)
}

func TestReturn_InvalidFromPending(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.NoError(t, err)

	_, err = f.svc.Return(context.Background(), 99, created.RequestID, ReturnRequest{})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidTransition, apiCode(t, err))
}

func TestReturn_RecordsDamages(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.NoError(t, err)

	_, err = f.svc.Return(context.Background(), 99, created.RequestID, ReturnRequest{
		Damages: []DamageRequest{{EquipmentID: 10, Description: "プローブ先端が破損", Severity: SeverityMinor}},
	})
	require.NoError(t, err)

	ds, err := f.env.ListDamages(context.Background(), created.RequestID)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, SeverityMinor, ds[0].Severity)
}

func TestReportDamage_AfterReturn(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.NoError(t, err)
	_, err = f.svc.Return(context.Background(), 99, created.RequestID, ReturnRequest{})
	require.NoError(t, err)

	// 返却後の検品で見つかった破損も追加で記録できる
	d, err := f.svc.ReportDamage(context.Background(), 99, created.RequestID, DamageRequest{
		EquipmentID: 10, Description: "筐体にひび割れ", Severity: SeverityModerate,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), d.ReportedBy)

	ds, err := f.env.ListDamages(context.Background(), created.RequestID)
	require.NoError(t, err)
	require.Len(t, ds, 1)
}

func TestReportDamage_Rejections(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)
	f.seedEquip(11, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.NoError(t, err)

	// pending の申請には記録できない
	_, err = f.svc.ReportDamage(context.Background(), 99, created.RequestID, DamageRequest{
		EquipmentID: 10, Description: "ひび割れ", Severity: SeverityMinor,
	})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, apiCode(t, err))

	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.NoError(t, err)

	// 申請に含まれない機材は対象外
	_, err = f.svc.ReportDamage(context.Background(), 99, created.RequestID, DamageRequest{
		EquipmentID: 11, Description: "ひび割れ", Severity: SeverityMinor,
	})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, apiCode(t, err))

	_, err = f.svc.ReportDamage(context.Background(), 99, created.RequestID, DamageRequest{
		EquipmentID: 10, Description: "ひび割れ", Severity: "broken",
	})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, apiCode(t, err))
}

func TestGetByNumber(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.NoError(t, err)

	got, err := f.svc.GetByNumber(context.Background(), 1, false, created.RequestNumber)
	require.NoError(t, err)
	assert.Equal(t, created.RequestID, got.RequestID)

	_, err = f.svc.GetByNumber(context.Background(), 1, false, "BR0000MISSING")
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, apiCode(t, err))
}

func TestConcurrentApprove_NoOversell(t *testing.T) {
	f := newFixture(t)
	f.seedEquip(10, 5)

	const n = 10
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		f.seedUser(int64(i), 100, 0)
		created, err := f.svc.Create(context.Background(), int64(i), f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
		require.NoError(t, err)
		ids = append(ids, created.RequestID)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(context.Background(), 99, id, ApproveRequest{})
		}(i, id)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.Equal(t, CodeInsufficientStock, apiCode(t, err))
		}
	}
	assert.Equal(t, 5, ok, "在庫ぶんだけ承認される")
	assert.Equal(t, 0, f.env.equip[10].AvailableQuantity)
	assert.Equal(t, 5, f.env.equip[10].BorrowedQuantity)
	assert.NoError(t, f.env.equip[10].CheckInvariant())
}

func TestConcurrentCreate_NoQuotaBreach(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 100)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 5, ok, "承認待ち分も枠を食うので上限ぶんしか作れない")

	sum, _ := f.env.SumPendingQuantityTx(context.Background(), nil, 1)
	assert.Equal(t, 5, sum)
}

func TestScanOverdue_NotifiesOnce(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.NoError(t, err)

	f.clock.Advance(5 * 24 * time.Hour)

	n, err := f.svc.ScanOverdue(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.events.byType(notifications.TypeOverdueNotification), 1)

	// 2回目のスキャンでは通知しない
	n, err = f.svc.ScanOverdue(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, f.events.byType(notifications.TypeOverdueNotification), 1)

	// スキャナは延滞フラグだけ立て、ペナルティは付けない
	assert.Equal(t, 0, f.env.users[1].OverdueCount)
}

func TestScanDueSoon_RemindsAtMostDaily(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), 99, created.RequestID, ApproveRequest{})
	require.NoError(t, err)

	// 期限3日前なので対象
	n, err := f.svc.ScanDueSoon(context.Background(), 3, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// 同日内の再スキャンは送らない
	f.clock.Advance(time.Hour)
	n, err = f.svc.ScanDueSoon(context.Background(), 3, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// 翌日はまた送る
	f.clock.Advance(24 * time.Hour)
	n, err = f.svc.ScanDueSoon(context.Background(), 3, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Len(t, f.events.byType(notifications.TypeReturnReminder), 2)
}

func TestGet_StudentCannotSeeOthers(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedUser(2, 5, 0)
	f.seedEquip(10, 5)

	created, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 1}}))
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), 2, false, created.RequestID)
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, apiCode(t, err), "他人の申請は存在自体を隠す")

	_, err = f.svc.Get(context.Background(), 2, true, created.RequestID)
	assert.NoError(t, err, "admin は誰のでも見える")
}

func TestPendingOverview(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 1)
	f.seedEquip(10, 20)

	_, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 2}}))
	require.NoError(t, err)

	ov, err := f.svc.GetPendingOverview(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ov.PendingCount)
	assert.Equal(t, 2, ov.PendingQty)
	assert.Equal(t, 1, ov.BorrowedQty)
	assert.Equal(t, 5, ov.MaxBorrowQty)
	assert.Equal(t, 2, ov.RemainingQty)
	require.Len(t, ov.Requests, 1)
	assert.True(t, ov.Requests[0].WouldAdmit)
}

func TestPendingOverview_FIFOProjection(t *testing.T) {
	f := newFixture(t)
	f.seedUser(1, 5, 0)
	f.seedEquip(10, 100)

	// 3 + 2 = 5 でちょうど上限。3件目は承認しても入らない…のだが、
	// 作成時点で枠が尽きているので3件目はそもそも作れない。
	// 枠いっぱいの2件で、先着順に両方とも収まることを確認する。
	_, err := f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 3}}))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Create(context.Background(), 1, f.createReq([]CreateItemRequest{{EquipmentID: 10, Quantity: 2}}))
	require.NoError(t, err)

	ov, err := f.svc.GetPendingOverview(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, ov.Requests, 2)
	assert.True(t, ov.Requests[0].WouldAdmit)
	assert.True(t, ov.Requests[1].WouldAdmit)
	assert.Equal(t, 0, ov.RemainingQty)

	// 片方が別枠を食った後は、後着の方だけ弾かれる予測になる
	f.env.users[1].CurrentBorrowCount = 2
	ov, err = f.svc.GetPendingOverview(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ov.Requests[0].WouldAdmit, "先着: 2+3=5 は収まる")
	assert.False(t, ov.Requests[1].WouldAdmit, "後着: 5+2=7 は収まらない")
}
