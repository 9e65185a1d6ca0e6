package requests

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreateItemRequest struct {
	EquipmentID int64 `json:"equipment_id" binding:"required"`
	Quantity    int   `json:"quantity" binding:"required,min=1"`
}

type CreateRequest struct {
	Items              []CreateItemRequest `json:"items" binding:"required,min=1,dive"`
	BorrowDate         time.Time           `json:"borrow_date" binding:"required"`
	ExpectedReturnDate time.Time           `json:"expected_return_date" binding:"required"`
	Purpose            string              `json:"purpose" binding:"required"`
	Notes              string              `json:"notes"`
}

type ApproveRequest struct {
	Notes string `json:"notes"`
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type ReturnRequest struct {
	Notes   string          `json:"notes"`
	Damages []DamageRequest `json:"damages" binding:"dive"`
}

type DamageRequest struct {
	EquipmentID int64            `json:"equipment_id" binding:"required"`
	Description string           `json:"description" binding:"required"`
	Severity    string           `json:"severity" binding:"required"`
	Cost        *decimal.Decimal `json:"cost"`
}

type ItemResponse struct {
	EquipmentID   int64  `json:"equipment_id"`
	EquipmentName string `json:"equipment_name"`
	Quantity      int    `json:"quantity"`
}

type RequestResponse struct {
	RequestID          int64          `json:"request_id"`
	RequestULID        string         `json:"request_ulid"`
	RequestNumber      string         `json:"request_number"`
	BorrowerID         int64          `json:"borrower_id"`
	BorrowerName       string         `json:"borrower_name"`
	Items              []ItemResponse `json:"items"`
	TotalQuantity      int            `json:"total_quantity"`
	BorrowDate         time.Time      `json:"borrow_date"`
	ExpectedReturnDate time.Time      `json:"expected_return_date"`
	ActualReturnDate   *time.Time     `json:"actual_return_date,omitempty"`
	Purpose            string         `json:"purpose"`
	Notes              string         `json:"notes,omitempty"`
	Status             string         `json:"status"`
	IsOverdue          bool           `json:"is_overdue"`
	RejectionReason    string         `json:"rejection_reason,omitempty"`
	ReviewNotes        string         `json:"review_notes,omitempty"`
	ReviewedAt         *time.Time     `json:"reviewed_at,omitempty"`
	ReturnedAt         *time.Time     `json:"returned_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

func buildRequestResponse(r *BorrowRequest, now time.Time) RequestResponse {
	resp := RequestResponse{
		RequestID:          r.RequestID,
		RequestULID:        r.RequestULID,
		RequestNumber:      r.RequestNumber,
		BorrowerID:         r.BorrowerID,
		BorrowerName:       r.BorrowerName,
		BorrowDate:         r.BorrowDate,
		ExpectedReturnDate: r.ExpectedReturnDate,
		Purpose:            r.Purpose,
		Status:             string(r.Status),
		IsOverdue:          r.IsOverdue || r.IsOverdueAt(now),
		TotalQuantity:      r.TotalQuantity(),
		CreatedAt:          r.CreatedAt,
	}
	for _, it := range r.Items {
		resp.Items = append(resp.Items, ItemResponse{
			EquipmentID:   it.EquipmentID,
			EquipmentName: it.EquipmentName,
			Quantity:      it.Quantity,
		})
	}
	if r.Notes.Valid {
		resp.Notes = r.Notes.String
	}
	if r.RejectionReason.Valid {
		resp.RejectionReason = r.RejectionReason.String
	}
	if r.ReviewNotes.Valid {
		resp.ReviewNotes = r.ReviewNotes.String
	}
	if r.ActualReturnDate.Valid {
		resp.ActualReturnDate = &r.ActualReturnDate.Time
	}
	if r.ReviewedAt.Valid {
		resp.ReviewedAt = &r.ReviewedAt.Time
	}
	if r.ReturnedAt.Valid {
		resp.ReturnedAt = &r.ReturnedAt.Time
	}
	return resp
}

// PendingEntry: 承認待ち1件と、FIFO順で承認した場合に枠へ収まるかの予測
type PendingEntry struct {
	RequestResponse
	WouldAdmit bool `json:"would_admit"`
}

// PendingOverview: 本人の承認待ち状況（FIFO順）と残り枠のスナップショット
type PendingOverview struct {
	Requests     []PendingEntry `json:"requests"`
	PendingCount int            `json:"pending_count"`
	PendingQty   int            `json:"pending_quantity"`
	BorrowedQty  int            `json:"borrowed_quantity"`
	MaxBorrowQty int            `json:"max_borrow_quantity"`
	RemainingQty int            `json:"remaining_quantity"`
}

type StatsResponse struct {
	ByStatus map[string]int64 `json:"by_status"`
	Total    int64            `json:"total"`
}
