package notifications

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 通知種別
const (
	TypeRequestApproved     = "request_approved"
	TypeRequestRejected     = "request_rejected"
	TypeBorrowSuccess       = "borrow_success"
	TypeReturnSuccess       = "return_success"
	TypeReturnReminder      = "return_reminder"
	TypeOverdueNotification = "overdue_notification"
	TypePenaltyApplied      = "penalty_applied"
)

type Event struct {
	EventID   string
	Type      string
	UserID    int64
	Title     string
	Message   string
	Data      map[string]any
	CreatedAt time.Time
}

func newEvent(typ string, userID int64, title, message string, data map[string]any) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	}
}

// ItemSummary は通知に載せる明細（機材名と数量だけ）
type ItemSummary struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

func RequestApproved(userID int64, requestNumber string, returnBy time.Time, items []ItemSummary) Event {
	return newEvent(TypeRequestApproved, userID,
		"貸出申請が承認されました",
		fmt.Sprintf("申請 %s が承認され、機材が貸し出されました。返却期限は %s です。", requestNumber, returnBy.Format("2006-01-02")),
		map[string]any{"request_number": requestNumber, "expected_return_date": returnBy, "items": items},
	)
}

func RequestRejected(userID int64, requestNumber, reason string) Event {
	return newEvent(TypeRequestRejected, userID,
		"貸出申請が却下されました",
		fmt.Sprintf("申請 %s は却下されました。理由: %s", requestNumber, reason),
		map[string]any{"request_number": requestNumber, "reason": reason},
	)
}

func ReturnCompleted(userID int64, requestNumber string, overdue bool, items []ItemSummary) Event {
	msg := fmt.Sprintf("申請 %s の機材返却が完了しました。", requestNumber)
	if overdue {
		msg += "返却期限を過ぎていたため、延滞として記録されました。"
	}
	return newEvent(TypeReturnSuccess, userID,
		"返却が完了しました", msg,
		map[string]any{"request_number": requestNumber, "overdue": overdue, "items": items},
	)
}

func ReturnReminder(userID int64, requestNumber string, returnBy time.Time, daysLeft int) Event {
	return newEvent(TypeReturnReminder, userID,
		"返却期限が近づいています",
		fmt.Sprintf("申請 %s の返却期限は %s（あと%d日）です。", requestNumber, returnBy.Format("2006-01-02"), daysLeft),
		map[string]any{"request_number": requestNumber, "expected_return_date": returnBy, "days_left": daysLeft},
	)
}

func OverdueNotice(userID int64, requestNumber string, returnBy time.Time, items []ItemSummary) Event {
	return newEvent(TypeOverdueNotification, userID,
		"返却期限を過ぎています",
		fmt.Sprintf("申請 %s は返却期限（%s）を過ぎています。速やかに返却してください。", requestNumber, returnBy.Format("2006-01-02")),
		map[string]any{"request_number": requestNumber, "expected_return_date": returnBy, "items": items},
	)
}

func PenaltyApplied(userID int64, overdueCount int, banDuration time.Duration) Event {
	var msg string
	data := map[string]any{"overdue_count": overdueCount}
	if banDuration > 0 {
		days := int(banDuration / (24 * time.Hour))
		msg = fmt.Sprintf("延滞が%d回目のため、%d日間の貸出制限が適用されました。", overdueCount, days)
		data["ban_days"] = days
	} else {
		msg = fmt.Sprintf("延滞が記録されました（累計%d回）。繰り返すと貸出制限が適用されます。", overdueCount)
	}
	return newEvent(TypePenaltyApplied, userID, "延滞ペナルティ", msg, data)
}
