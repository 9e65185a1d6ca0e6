package requests

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{name: "pending_to_borrowed", from: StatusPending, to: StatusBorrowed, ok: true},
		{name: "pending_to_rejected", from: StatusPending, to: StatusRejected, ok: true},
		{name: "borrowed_to_returned", from: StatusBorrowed, to: StatusReturned, ok: true},
		{name: "pending_to_returned", from: StatusPending, to: StatusReturned, ok: false},
		{name: "borrowed_to_rejected", from: StatusBorrowed, to: StatusRejected, ok: false},
		{name: "returned_is_terminal", from: StatusReturned, to: StatusBorrowed, ok: false},
		{name: "rejected_is_terminal", from: StatusRejected, to: StatusBorrowed, ok: false},
		{name: "no_self_loop", from: StatusPending, to: StatusPending, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusBorrowed.Terminal())
	assert.True(t, StatusReturned.Terminal())
	assert.True(t, StatusRejected.Terminal())
}

func TestIsOverdueAt(t *testing.T) {
	due := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	before := due.Add(-time.Hour)
	after := due.Add(time.Hour)

	tests := []struct {
		name    string
		status  Status
		at      time.Time
		overdue bool
	}{
		{name: "borrowed_before_due", status: StatusBorrowed, at: before, overdue: false},
		{name: "borrowed_past_due", status: StatusBorrowed, at: after, overdue: true},
		{name: "pending_never_overdue", status: StatusPending, at: after, overdue: false},
		{name: "returned_never_overdue", status: StatusReturned, at: after, overdue: false},
		{name: "rejected_never_overdue", status: StatusRejected, at: after, overdue: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &BorrowRequest{Status: tt.status, ExpectedReturnDate: due}
			assert.Equal(t, tt.overdue, r.IsOverdueAt(tt.at))
		})
	}
}

func TestTotalQuantity(t *testing.T) {
	r := &BorrowRequest{Items: []RequestItem{
		{EquipmentID: 1, Quantity: 2},
		{EquipmentID: 2, Quantity: 3},
	}}
	assert.Equal(t, 5, r.TotalQuantity())
}

func TestBorrowDuration(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	r := &BorrowRequest{BorrowDate: start, ExpectedReturnDate: start.Add(3 * 24 * time.Hour)}
	assert.Equal(t, 3, r.BorrowDuration())

	// 端数は切り上げ
	r.ExpectedReturnDate = start.Add(3*24*time.Hour + time.Hour)
	assert.Equal(t, 4, r.BorrowDuration())

	// 実返却日があればそちらを使う
	r.ActualReturnDate = sql.NullTime{Time: start.Add(24 * time.Hour), Valid: true}
	assert.Equal(t, 1, r.BorrowDuration())
}
