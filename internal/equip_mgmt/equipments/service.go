package equipments

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/db"
)

type Service struct {
	db    *sql.DB
	store *Store
}

func NewService(sdb *sql.DB) *Service {
	return &Service{db: sdb, store: NewStore(sdb)}
}

// Store exposes the ledger operations for the reservation lifecycle.
func (s *Service) Store() *Store { return s.store }

func (s *Service) Create(ctx context.Context, createdBy int64, in CreateEquipmentRequest) (*EquipmentResponse, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 100 {
		return nil, ErrInvalid("name is required (max 100 chars)")
	}
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if code == "" {
		return nil, ErrInvalid("code is required")
	}
	if !ValidCategory(in.Category) {
		return nil, ErrInvalid("invalid category")
	}
	if in.TotalQuantity < 0 {
		return nil, ErrInvalid("total_quantity must be >= 0")
	}

	condition := ConditionGood
	if in.Condition != nil {
		if !ValidCondition(*in.Condition) {
			return nil, ErrInvalid("invalid condition")
		}
		condition = *in.Condition
	}

	e := &Equipment{
		Code:              code,
		Name:              name,
		Category:          in.Category,
		Description:       toNullString(in.Description),
		Specifications:    toNullString(in.Specifications),
		TotalQuantity:     in.TotalQuantity,
		AvailableQuantity: in.TotalQuantity, // 登録直後は全数貸出可能
		BorrowedQuantity:  0,
		Condition:         condition,
		Building:          in.Building,
		Floor:             in.Floor,
		Room:              in.Room,
		Notes:             toNullString(in.Notes),
		CreatedBy:         createdBy,
		IsActive:          true,
	}
	if in.PurchaseDate != nil {
		e.PurchaseDate = sql.NullTime{Time: *in.PurchaseDate, Valid: true}
	}
	if in.PurchasePrice != nil {
		if in.PurchasePrice.IsNegative() {
			return nil, ErrInvalid("purchase_price must be >= 0")
		}
		e.PurchasePrice = decimal.NullDecimal{Decimal: *in.PurchasePrice, Valid: true}
	}

	if err := s.store.Insert(ctx, e); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return nil, ErrConflict("equipment code already exists")
		}
		return nil, err
	}

	got, err := s.store.GetByID(ctx, e.EquipmentID)
	if err != nil {
		return nil, err
	}
	resp := buildEquipmentResponse(got)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*EquipmentResponse, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := buildEquipmentResponse(e)
	return &resp, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*EquipmentResponse, error) {
	e, err := s.store.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	resp := buildEquipmentResponse(e)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, p Page) (*ListEquipmentsResponse, error) {
	items, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return nil, err
	}
	out := ListEquipmentsResponse{Total: total, Items: make([]EquipmentResponse, 0, len(items))}
	for i := range items {
		out.Items = append(out.Items, buildEquipmentResponse(&items[i]))
	}
	return &out, nil
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateEquipmentRequest) (*EquipmentResponse, error) {
	if in.Category != nil && !ValidCategory(*in.Category) {
		return nil, ErrInvalid("invalid category")
	}
	if in.Condition != nil && !ValidCondition(*in.Condition) {
		return nil, ErrInvalid("invalid condition")
	}
	if in.PurchasePrice != nil && in.PurchasePrice.IsNegative() {
		return nil, ErrInvalid("purchase_price must be >= 0")
	}

	// 総数の変更は行ロック下で available を再配分する
	if in.TotalQuantity != nil {
		if *in.TotalQuantity < 0 {
			return nil, ErrInvalid("total_quantity must be >= 0")
		}
		err := db.RunInTxRetry(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
			return s.store.UpdateTotalQuantityTx(ctx, tx, id, *in.TotalQuantity)
		})
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateMeta(ctx, id, in); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.store.Deactivate(ctx, id)
}

// CheckAvailability: 貸出前の事前確認（副作用なし）
func (s *Service) CheckAvailability(ctx context.Context, id int64, qty int) (bool, error) {
	if qty < 1 {
		return false, ErrInvalid("quantity must be >= 1")
	}
	return s.store.CheckAvailability(ctx, id, qty)
}

func toNullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
