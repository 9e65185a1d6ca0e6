package equipments

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/db"
)

type Store struct{ db *sql.DB }

func NewStore(sdb *sql.DB) *Store { return &Store{db: sdb} }

const equipmentCols = `
	equipment_id, code, name, category, description, specifications,
	total_quantity, available_quantity, borrowed_quantity, ` + "`condition`" + `,
	building, floor, room, purchase_date, purchase_price, is_active, notes,
	created_by, created_at, updated_at`

func scanEquipment(row interface{ Scan(...any) error }) (*Equipment, error) {
	var e Equipment
	var isActiveInt int
	err := row.Scan(
		&e.EquipmentID, &e.Code, &e.Name, &e.Category, &e.Description, &e.Specifications,
		&e.TotalQuantity, &e.AvailableQuantity, &e.BorrowedQuantity, &e.Condition,
		&e.Building, &e.Floor, &e.Room, &e.PurchaseDate, &e.PurchasePrice, &isActiveInt, &e.Notes,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.IsActive = isActiveInt != 0
	return &e, nil
}

// ===== CRUD =====

func (s *Store) Insert(ctx context.Context, e *Equipment) error {
	const q = `
	INSERT INTO equipments
	(code, name, category, description, specifications,
	 total_quantity, available_quantity, borrowed_quantity, ` + "`condition`" + `,
	 building, floor, room, purchase_date, purchase_price, is_active, notes,
	 created_by, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, 1, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	res, err := s.db.ExecContext(ctx, q,
		e.Code, e.Name, e.Category, nullStrOrNil(e.Description), nullStrOrNil(e.Specifications),
		e.TotalQuantity, e.AvailableQuantity, e.Condition,
		e.Building, e.Floor, e.Room, nullTimeOrNil(e.PurchaseDate), e.PurchasePrice,
		nullStrOrNil(e.Notes), e.CreatedBy,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	e.EquipmentID = id
	return nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*Equipment, error) {
	q := `SELECT ` + equipmentCols + ` FROM equipments WHERE equipment_id = ?`
	e, err := scanEquipment(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound("equipment not found")
	}
	return e, err
}

func (s *Store) GetByCode(ctx context.Context, code string) (*Equipment, error) {
	q := `SELECT ` + equipmentCols + ` FROM equipments WHERE code = ?`
	e, err := scanEquipment(s.db.QueryRowContext(ctx, q, code))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound("equipment not found")
	}
	return e, err
}

type ListFilter struct {
	Category      *string
	OnlyAvailable bool
	OnlyActive    bool
	Keyword       string
}

type Page struct {
	Limit  int
	Offset int
	Order  string
}

func (s *Store) List(ctx context.Context, f ListFilter, p Page) ([]Equipment, int64, error) {
	where := strings.Builder{}
	where.WriteString(` WHERE 1=1`)
	args := []any{}
	if f.Category != nil {
		where.WriteString(` AND category = ?`)
		args = append(args, *f.Category)
	}
	if f.OnlyAvailable {
		where.WriteString(` AND available_quantity > 0`)
	}
	if f.OnlyActive {
		where.WriteString(` AND is_active = 1`)
	}
	if f.Keyword != "" {
		where.WriteString(` AND (name LIKE ? OR code LIKE ? OR description LIKE ?)`)
		kw := "%" + f.Keyword + "%"
		args = append(args, kw, kw, kw)
	}

	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	q := `SELECT ` + equipmentCols + ` FROM equipments` + where.String() +
		fmt.Sprintf(` ORDER BY created_at %s LIMIT ? OFFSET ?`, order)
	rows, err := s.db.QueryContext(ctx, q, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Equipment
	for rows.Next() {
		e, err := scanEquipment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	cq := `SELECT COUNT(*) FROM equipments` + where.String()
	if err := s.db.QueryRowContext(ctx, cq, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// UpdateTotalQuantityTx: 総数変更は行ロック下で available を再配分する。
// borrowed を下回る総数には縮められない。
func (s *Store) UpdateTotalQuantityTx(ctx context.Context, tx db.DBTX, id int64, newTotal int) error {
	e, err := s.LockForUpdateTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if newTotal < e.BorrowedQuantity {
		return ErrConflict(fmt.Sprintf("total quantity %d is less than borrowed %d", newTotal, e.BorrowedQuantity))
	}
	const q = `
	UPDATE equipments
	SET total_quantity = ?, available_quantity = ?, updated_at = CURRENT_TIMESTAMP
	WHERE equipment_id = ?`
	_, err = tx.ExecContext(ctx, q, newTotal, newTotal-e.BorrowedQuantity, id)
	return err
}

// UpdateMeta: 数量以外の属性の動的アップデート
func (s *Store) UpdateMeta(ctx context.Context, id int64, in UpdateEquipmentRequest) error {
	sets := []string{}
	args := []any{}
	if in.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *in.Name)
	}
	if in.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *in.Category)
	}
	if in.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *in.Description)
	}
	if in.Specifications != nil {
		sets = append(sets, "specifications = ?")
		args = append(args, *in.Specifications)
	}
	if in.Condition != nil {
		sets = append(sets, "`condition` = ?")
		args = append(args, *in.Condition)
	}
	if in.Building != nil {
		sets = append(sets, "building = ?")
		args = append(args, *in.Building)
	}
	if in.Floor != nil {
		sets = append(sets, "floor = ?")
		args = append(args, *in.Floor)
	}
	if in.Room != nil {
		sets = append(sets, "room = ?")
		args = append(args, *in.Room)
	}
	if in.PurchasePrice != nil {
		sets = append(sets, "purchase_price = ?")
		args = append(args, *in.PurchasePrice)
	}
	if in.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *in.Notes)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	q := `UPDATE equipments SET ` + strings.Join(sets, ", ") + ` WHERE equipment_id = ?`
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound("equipment not found")
	}
	return nil
}

// Deactivate: 物理削除はしない（ソフト退役フラグ）
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	const q = `UPDATE equipments SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE equipment_id = ? AND is_active = 1`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound("equipment not found or already inactive")
	}
	return nil
}

// ===== 在庫台帳（貸出・返却はここ以外で数量を触らない） =====

// LockForUpdateTx: 台帳行をロックして現在値を読む
func (s *Store) LockForUpdateTx(ctx context.Context, tx db.DBTX, id int64) (*Equipment, error) {
	q := `SELECT ` + equipmentCols + ` FROM equipments WHERE equipment_id = ? FOR UPDATE`
	e, err := scanEquipment(tx.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound(fmt.Sprintf("equipment %d not found", id))
	}
	return e, err
}

// ReserveTx: available -= qty; borrowed += qty
// 事前に LockForUpdateTx で在庫確認済みでも、条件付きUPDATEを安全網として残す。
func (s *Store) ReserveTx(ctx context.Context, tx db.DBTX, id int64, qty int) error {
	if qty < 1 {
		return ErrInvalid("quantity must be >= 1")
	}
	const q = `
	UPDATE equipments
	SET available_quantity = available_quantity - ?,
	    borrowed_quantity  = borrowed_quantity + ?,
	    updated_at = CURRENT_TIMESTAMP
	WHERE equipment_id = ? AND is_active = 1 AND available_quantity >= ?`
	res, err := tx.ExecContext(ctx, q, qty, qty, id, qty)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrConflict(fmt.Sprintf("failed to reserve %d of equipment %d", qty, id))
	}
	return nil
}

// ReleaseTx: available += qty; borrowed -= qty（borrowed を下回る返却は拒否）
func (s *Store) ReleaseTx(ctx context.Context, tx db.DBTX, id int64, qty int) error {
	if qty < 1 {
		return ErrInvalid("quantity must be >= 1")
	}
	const q = `
	UPDATE equipments
	SET available_quantity = available_quantity + ?,
	    borrowed_quantity  = borrowed_quantity - ?,
	    updated_at = CURRENT_TIMESTAMP
	WHERE equipment_id = ? AND borrowed_quantity >= ?`
	res, err := tx.ExecContext(ctx, q, qty, qty, id, qty)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return ErrConflict(fmt.Sprintf("failed to release %d of equipment %d", qty, id))
	}
	return nil
}

// CheckAvailability: 副作用なしの事前チェック（コミットはしない）
func (s *Store) CheckAvailability(ctx context.Context, id int64, qty int) (bool, error) {
	const q = `SELECT is_active, available_quantity FROM equipments WHERE equipment_id = ?`
	var isActiveInt, available int
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&isActiveInt, &available); err != nil {
		if err == sql.ErrNoRows {
			return false, ErrNotFound(fmt.Sprintf("equipment %d not found", id))
		}
		return false, err
	}
	return isActiveInt != 0 && available >= qty, nil
}

// ===== null helpers =====

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}

func nullTimeOrNil(nt sql.NullTime) any {
	if nt.Valid {
		return nt.Time
	}
	return nil
}
