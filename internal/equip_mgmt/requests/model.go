package requests

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Status は borrow_requests.status の値。
// 元システムの enum を全て宣言するが、遷移表が到達させるのは
// pending / rejected / borrowed / returned のみ（承認と貸出は1遷移に畳む）。
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusBorrowed  Status = "borrowed"
	StatusReturned  Status = "returned"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// 遷移表。ここに無い遷移は全て INVALID_TRANSITION。
var transitions = map[Status][]Status{
	StatusPending:  {StatusBorrowed, StatusRejected},
	StatusBorrowed: {StatusReturned},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal: これ以上遷移しない状態
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusBorrowed,
		StatusReturned, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// BorrowRequest は borrow_requests の1行 + 明細
type BorrowRequest struct {
	RequestID          int64
	RequestULID        string
	RequestNumber      string
	BorrowerID         int64
	BorrowerName       string // JOIN で埋める
	Items              []RequestItem
	BorrowDate         time.Time
	ExpectedReturnDate time.Time
	ActualReturnDate   sql.NullTime
	Purpose            string
	Notes              sql.NullString
	Status             Status
	ReviewedBy         sql.NullInt64
	ReviewedAt         sql.NullTime
	ReviewNotes        sql.NullString
	RejectionReason    sql.NullString
	BorrowedBy         sql.NullInt64
	BorrowedAt         sql.NullTime
	ReturnedBy         sql.NullInt64
	ReturnedAt         sql.NullTime
	IsOverdue          bool
	OverdueNotified    bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type RequestItem struct {
	ItemID        int64
	RequestID     int64
	EquipmentID   int64
	EquipmentName string // JOIN で埋める
	Quantity      int
}

// TotalQuantity: 明細の合計数量（クォータは台数単位で数える）
func (r *BorrowRequest) TotalQuantity() int {
	total := 0
	for _, it := range r.Items {
		total += it.Quantity
	}
	return total
}

// IsOverdueAt: 「延滞中か」は保存値ではなく読み出し時に計算する。
// returned/cancelled はもう延滞し得ない（確定値は IsOverdue フラグ）。
func (r *BorrowRequest) IsOverdueAt(now time.Time) bool {
	if r.Status == StatusReturned || r.Status == StatusCancelled || r.Status == StatusRejected {
		return false
	}
	if r.Status != StatusBorrowed && r.Status != StatusOverdue {
		return false
	}
	return now.After(r.ExpectedReturnDate)
}

// BorrowDuration: 貸出日数（実返却がまだなら予定日で計算）
func (r *BorrowRequest) BorrowDuration() int {
	end := r.ExpectedReturnDate
	if r.ActualReturnDate.Valid {
		end = r.ActualReturnDate.Time
	}
	d := end.Sub(r.BorrowDate)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// Damage は borrow_request_damages の1行（返却時の破損報告）
type Damage struct {
	DamageID    int64
	RequestID   int64
	EquipmentID int64
	Description string
	Severity    string
	Cost        decimal.NullDecimal
	ReportedBy  int64
	ReportedAt  time.Time
}

const (
	SeverityMinor    = "minor"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
)

func ValidSeverity(s string) bool {
	return s == SeverityMinor || s == SeverityModerate || s == SeveritySevere
}
