package quota

import (
	"context"
	"database/sql"
	"time"

	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/db"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type Service struct {
	db    *sql.DB
	store *Store
	clock Clock
}

func NewService(sdb *sql.DB) *Service {
	return &Service{db: sdb, store: NewStore(sdb), clock: realClock{}}
}

// Store exposes the tx-scoped quota operations for the reservation lifecycle.
func (s *Service) Store() *Store { return s.store }

// GetQuotaStatus: 現在の枠の状況（承認待ち分も含めて返す）
func (s *Service) GetQuotaStatus(ctx context.Context, userID int64) (*QuotaStatusResponse, error) {
	now := s.clock.Now()

	// 期限切れ制限はここで掃除してから読む（User.js removeExpiredRestrictions 相当）
	if err := s.store.RemoveExpiredRestrictions(ctx, userID, now); err != nil {
		return nil, err
	}

	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var pending int
	err = db.ReadOnly(ctx, s.db, func(ctx context.Context, tx db.DBTX) error {
		var e error
		pending, e = s.store.SumPendingQuantityTx(ctx, tx, u.UserID)
		return e
	})
	if err != nil {
		return nil, err
	}

	resp := buildQuotaStatus(u, pending, now)
	return &resp, nil
}

type AddRestrictionInput struct {
	Type      string
	Reason    string
	EndDate   *time.Time // nil = 無期限
	CreatedBy int64
}

func (s *Service) AddRestriction(ctx context.Context, userID int64, in AddRestrictionInput) (*RestrictionResponse, error) {
	if !ValidRestrictionType(in.Type) {
		return nil, ErrInvalidRestriction
	}
	if in.Reason == "" {
		return nil, ErrReasonRequired
	}

	r := &Restriction{
		UserID:    userID,
		Type:      in.Type,
		Reason:    in.Reason,
		StartDate: s.clock.Now(),
		CreatedBy: sql.NullInt64{Int64: in.CreatedBy, Valid: in.CreatedBy > 0},
	}
	if in.EndDate != nil {
		r.EndDate = sql.NullTime{Time: *in.EndDate, Valid: true}
	}

	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		// ユーザー存在確認を兼ねて行ロック
		if _, err := s.store.GetForUpdateTx(ctx, tx, userID); err != nil {
			return err
		}
		return s.store.AddRestrictionTx(ctx, tx, r)
	})
	if err != nil {
		return nil, err
	}
	resp := buildRestrictionResponse(*r)
	return &resp, nil
}

func (s *Service) RemoveRestriction(ctx context.Context, userID, restrictionID int64) error {
	return s.store.RemoveRestriction(ctx, userID, restrictionID)
}

// RemoveExpired: スキャナから呼ばれる定期掃除
func (s *Service) RemoveExpired(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()
	ids, err := s.store.ListUsersWithExpiredRestrictions(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.store.RemoveExpiredRestrictions(ctx, id, now); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
