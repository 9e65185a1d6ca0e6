package quota

import (
	"errors"
	"time"
)

var (
	ErrInvalidRestriction = errors.New("invalid restriction type")
	ErrReasonRequired     = errors.New("reason is required")
)

type RestrictionResponse struct {
	RestrictionID int64      `json:"restriction_id"`
	Type          string     `json:"type"`
	Reason        string     `json:"reason"`
	StartDate     time.Time  `json:"start_date"`
	EndDate       *time.Time `json:"end_date,omitempty"` // なし = 無期限
}

type QuotaStatusResponse struct {
	UserID             int64                 `json:"user_id"`
	BorrowLimit        int                   `json:"borrow_limit"`
	CurrentBorrowCount int                   `json:"current_borrow_count"`
	PendingCount       int                   `json:"pending_count"`
	Remaining          int                   `json:"remaining"`
	IsRestricted       bool                  `json:"is_restricted"`
	Restrictions       []RestrictionResponse `json:"restrictions,omitempty"`
	OverdueCount       int                   `json:"overdue_count"`
	LastOverdueDate    *time.Time            `json:"last_overdue_date,omitempty"`
}

func buildRestrictionResponse(r Restriction) RestrictionResponse {
	resp := RestrictionResponse{
		RestrictionID: r.RestrictionID,
		Type:          r.Type,
		Reason:        r.Reason,
		StartDate:     r.StartDate,
	}
	if r.EndDate.Valid {
		v := r.EndDate.Time
		resp.EndDate = &v
	}
	return resp
}

func buildQuotaStatus(u *UserQuotaState, pending int, now time.Time) QuotaStatusResponse {
	remaining := u.BorrowLimit - u.CurrentBorrowCount - pending
	if remaining < 0 {
		remaining = 0
	}
	resp := QuotaStatusResponse{
		UserID:             u.UserID,
		BorrowLimit:        u.BorrowLimit,
		CurrentBorrowCount: u.CurrentBorrowCount,
		PendingCount:       pending,
		Remaining:          remaining,
		IsRestricted:       u.IsRestricted,
		OverdueCount:       u.OverdueCount,
	}
	for _, r := range u.ActiveRestrictions(now) {
		resp.Restrictions = append(resp.Restrictions, buildRestrictionResponse(r))
	}
	if u.LastOverdueDate.Valid {
		v := u.LastOverdueDate.Time
		resp.LastOverdueDate = &v
	}
	return resp
}
