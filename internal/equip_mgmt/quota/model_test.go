package quota

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func user(limit, current int) *UserQuotaState {
	return &UserQuotaState{UserID: 1, BorrowLimit: limit, CurrentBorrowCount: current}
}

func banned(limit, current int, until time.Time) *UserQuotaState {
	u := user(limit, current)
	u.IsRestricted = true
	u.Restrictions = []Restriction{{
		Type:      RestrictionOverduePenalty,
		Reason:    "延滞違反",
		StartDate: testNow.Add(-time.Hour),
		EndDate:   sql.NullTime{Time: until, Valid: true},
	}}
	return u
}

func TestCheckCreate(t *testing.T) {
	tests := []struct {
		name      string
		u         *UserQuotaState
		pending   int
		requested int
		allowed   bool
	}{
		{name: "within_limit", u: user(5, 0), pending: 0, requested: 3, allowed: true},
		{name: "exactly_at_limit", u: user(5, 2), pending: 0, requested: 3, allowed: true},
		{name: "one_over_limit", u: user(5, 2), pending: 0, requested: 4, allowed: false},
		{name: "pending_counts_against_limit", u: user(5, 2), pending: 2, requested: 2, allowed: false},
		{name: "pending_leaves_room", u: user(5, 1), pending: 2, requested: 2, allowed: true},
		{name: "zero_limit_never_admits", u: user(0, 0), pending: 0, requested: 1, allowed: false},
		{name: "restricted_user_denied", u: banned(5, 0, testNow.Add(24*time.Hour)), pending: 0, requested: 1, allowed: false},
		{name: "expired_restriction_ignored", u: banned(5, 0, testNow.Add(-time.Minute)), pending: 0, requested: 1, allowed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := CheckCreate(tt.u, testNow, tt.pending, tt.requested)
			assert.Equal(t, tt.allowed, dec.Allowed)
			if !tt.allowed {
				assert.NotEmpty(t, dec.Reason)
			}
		})
	}
}

func TestCheckCreate_DecisionCarriesNumbers(t *testing.T) {
	dec := CheckCreate(user(5, 2), testNow, 1, 3)
	require.False(t, dec.Allowed)
	assert.Equal(t, 2, dec.CurrentCount)
	assert.Equal(t, 1, dec.PendingCount)
	assert.Equal(t, 3, dec.RequestedCount)
	assert.Equal(t, 5, dec.Limit)
}

func TestCheckApprove(t *testing.T) {
	tests := []struct {
		name      string
		u         *UserQuotaState
		requested int
		allowed   bool
	}{
		// 承認時は本人の他の承認待ちを数えない（先着で枠を食い合わない）
		{name: "within_limit", u: user(5, 2), requested: 3, allowed: true},
		{name: "over_limit", u: user(5, 3), requested: 3, allowed: false},
		{name: "restriction_added_after_create", u: banned(5, 0, testNow.Add(24*time.Hour)), requested: 1, allowed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := CheckApprove(tt.u, testNow, tt.requested)
			assert.Equal(t, tt.allowed, dec.Allowed)
		})
	}
}

func TestCheckCreate_RestrictionPrecedesQuota(t *testing.T) {
	// 制限中かつ枠超過のときは制限の方を返す
	u := banned(1, 1, testNow.Add(24*time.Hour))
	dec := CheckCreate(u, testNow, 0, 5)
	require.False(t, dec.Allowed)
	assert.Len(t, dec.Restrictions, 1)
}

func TestPenaltyDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), PenaltyDuration(1), "初回は警告のみ")
	assert.Equal(t, 7*24*time.Hour, PenaltyDuration(2))
	assert.Equal(t, 30*24*time.Hour, PenaltyDuration(3))
	assert.Equal(t, 30*24*time.Hour, PenaltyDuration(4), "3回目以降は一律30日")
	assert.Equal(t, 30*24*time.Hour, PenaltyDuration(10))
}

func TestRestrictionActiveAt(t *testing.T) {
	perm := Restriction{StartDate: testNow.Add(-time.Hour)}
	assert.True(t, perm.ActiveAt(testNow), "終了日なしは無期限")

	timed := Restriction{
		StartDate: testNow.Add(-time.Hour),
		EndDate:   sql.NullTime{Time: testNow.Add(time.Hour), Valid: true},
	}
	assert.True(t, timed.ActiveAt(testNow))
	assert.False(t, timed.ActiveAt(testNow.Add(2*time.Hour)))
}
