package quota

import (
	"database/sql"
	"fmt"
	"time"
)

// UserQuotaState は users テーブルのうち貸出クォータに関わる列のスナップショット。
// 判定は全てこのスナップショットに対する純関数で行い、
// 永続化の境界（どのTxで読んだか）は呼び出し側に見えるようにする。
type UserQuotaState struct {
	UserID             int64
	FullName           string
	BorrowLimit        int
	CurrentBorrowCount int
	IsRestricted       bool
	Restrictions       []Restriction
	OverdueCount       int
	LastOverdueDate    sql.NullTime
}

type Restriction struct {
	RestrictionID int64
	UserID        int64
	Type          string
	Reason        string
	StartDate     time.Time
	EndDate       sql.NullTime // NULL = 無期限
	CreatedBy     sql.NullInt64
}

const (
	RestrictionOverduePenalty = "overdue_penalty"
	RestrictionDamagePenalty  = "damage_penalty"
	RestrictionAdmin          = "admin_restriction"
	RestrictionTemporaryBan   = "temporary_ban"
)

func ValidRestrictionType(t string) bool {
	switch t {
	case RestrictionOverduePenalty, RestrictionDamagePenalty, RestrictionAdmin, RestrictionTemporaryBan:
		return true
	}
	return false
}

// ActiveAt: endDate が NULL（無期限）か未来なら有効
func (r Restriction) ActiveAt(now time.Time) bool {
	return !r.EndDate.Valid || r.EndDate.Time.After(now)
}

func (u *UserQuotaState) ActiveRestrictions(now time.Time) []Restriction {
	var out []Restriction
	for _, r := range u.Restrictions {
		if r.ActiveAt(now) {
			out = append(out, r)
		}
	}
	return out
}

// Decision は admission control の判定結果。Denied のときも
// 呼び出し側がそのまま提示できる数値を全部埋めて返す。
type Decision struct {
	Allowed        bool
	Reason         string
	CurrentCount   int
	PendingCount   int
	RequestedCount int
	Limit          int
	Remaining      int
	Restrictions   []Restriction
}

// CheckCreate: リクエスト作成時の判定。
// 承認待ち分も枠を食う（pending を積んで限度を飛び越えるのを防ぐ）。
func CheckCreate(u *UserQuotaState, now time.Time, pendingQty, requestedQty int) Decision {
	if d, denied := checkRestricted(u, now); denied {
		return d
	}

	total := u.CurrentBorrowCount + pendingQty + requestedQty
	if total > u.BorrowLimit {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("貸出限度を超えます。貸出中: %d, 承認待ち: %d, 要求: %d, 限度: %d",
				u.CurrentBorrowCount, pendingQty, requestedQty, u.BorrowLimit),
			CurrentCount:   u.CurrentBorrowCount,
			PendingCount:   pendingQty,
			RequestedCount: requestedQty,
			Limit:          u.BorrowLimit,
		}
	}

	return Decision{
		Allowed:        true,
		CurrentCount:   u.CurrentBorrowCount,
		PendingCount:   pendingQty,
		RequestedCount: requestedQty,
		Limit:          u.BorrowLimit,
		Remaining:      u.BorrowLimit - total,
	}
}

// CheckApprove: 承認直前の再判定。作成時から状態が変わっていることがあるので
// 在庫デビットの直前に必ず通す（こちらは pending を数えない）。
func CheckApprove(u *UserQuotaState, now time.Time, requestedQty int) Decision {
	if d, denied := checkRestricted(u, now); denied {
		return d
	}

	total := u.CurrentBorrowCount + requestedQty
	if total > u.BorrowLimit {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("貸出限度を超えます。貸出中: %d, 要求: %d, 限度: %d",
				u.CurrentBorrowCount, requestedQty, u.BorrowLimit),
			CurrentCount:   u.CurrentBorrowCount,
			RequestedCount: requestedQty,
			Limit:          u.BorrowLimit,
		}
	}

	return Decision{
		Allowed:        true,
		CurrentCount:   u.CurrentBorrowCount,
		RequestedCount: requestedQty,
		Limit:          u.BorrowLimit,
		Remaining:      u.BorrowLimit - total,
	}
}

func checkRestricted(u *UserQuotaState, now time.Time) (Decision, bool) {
	active := u.ActiveRestrictions(now)
	if u.IsRestricted && len(active) > 0 {
		return Decision{
			Allowed:      false,
			Reason:       "アカウントが貸出制限中です",
			CurrentCount: u.CurrentBorrowCount,
			Limit:        u.BorrowLimit,
			Restrictions: active,
		}, true
	}
	return Decision{}, false
}

// PenaltyDuration: 累積延滞回数（今回分を加算済み）に対する自動ペナルティ。
// 単調な階段関数: 1回目 なし / 2回目 7日 / 3回目以降 一律30日。
func PenaltyDuration(overdueCount int) time.Duration {
	switch {
	case overdueCount >= 3:
		return 30 * 24 * time.Hour
	case overdueCount == 2:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// 貸出履歴（user_borrow_history）の action 値
const (
	HistoryBorrowed = "borrowed"
	HistoryReturned = "returned"
	HistoryOverdue  = "overdue"
)
