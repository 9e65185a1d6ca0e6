package notifications

import (
	"context"
	"log"
	"time"
)

// Service は通知の投入と閲覧を担う。
// Publish はコミット済みの業務処理の後から呼ばれる前提で、失敗しても
// 呼び出し元の処理を巻き戻さない（ログだけ残すベストエフォート）。
type Service struct {
	store *Store
}

func NewService(store *Store) *Service { return &Service{store: store} }

func (s *Service) Publish(ctx context.Context, ev Event) {
	if err := s.store.Insert(ctx, ev); err != nil {
		log.Printf("[WARN] notification insert failed: type=%s user=%d err=%v", ev.Type, ev.UserID, err)
	}
}

func (s *Service) List(ctx context.Context, userID int64, unreadOnly bool, limit, offset int) ([]Notification, error) {
	return s.store.ListByUser(ctx, userID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return s.store.UnreadCount(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, userID, notificationID int64) error {
	return s.store.MarkRead(ctx, userID, notificationID)
}

func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.store.MarkAllRead(ctx, userID)
}

func (s *Service) PurgeOldRead(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.DeleteOldRead(ctx, time.Now().Add(-retention))
}
