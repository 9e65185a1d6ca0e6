package equipments

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Equipment は equipments テーブルの1行を表す
type Equipment struct {
	EquipmentID       int64
	Code              string
	Name              string
	Category          string
	Description       sql.NullString
	Specifications    sql.NullString
	TotalQuantity     int
	AvailableQuantity int
	BorrowedQuantity  int
	Condition         string
	Building          string
	Floor             string
	Room              string
	PurchaseDate      sql.NullTime
	PurchasePrice     decimal.NullDecimal
	IsActive          bool
	Notes             sql.NullString
	CreatedBy         int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const (
	CategoryElectronics = "electronics"
	CategoryFurniture   = "furniture"
	CategorySports      = "sports"
	CategoryLaboratory  = "laboratory"
	CategoryAudioVisual = "audio_visual"
	CategoryOther       = "other"
)

const (
	ConditionNew     = "new"
	ConditionGood    = "good"
	ConditionFair    = "fair"
	ConditionPoor    = "poor"
	ConditionDamaged = "damaged"
)

func ValidCategory(c string) bool {
	switch c {
	case CategoryElectronics, CategoryFurniture, CategorySports,
		CategoryLaboratory, CategoryAudioVisual, CategoryOther:
		return true
	}
	return false
}

func ValidCondition(c string) bool {
	switch c {
	case ConditionNew, ConditionGood, ConditionFair, ConditionPoor, ConditionDamaged:
		return true
	}
	return false
}

// CanBorrow: 有効な機材で在庫が足りるか。副作用なしの事前チェック用。
func (e *Equipment) CanBorrow(qty int) bool {
	return e.IsActive && qty >= 1 && e.AvailableQuantity >= qty
}

// CheckInvariant: available + borrowed == total、全て非負。
// 台帳操作の前後でこれが崩れていたらデータ破損。
func (e *Equipment) CheckInvariant() error {
	if e.TotalQuantity < 0 || e.AvailableQuantity < 0 || e.BorrowedQuantity < 0 {
		return fmt.Errorf("equipment %d: negative quantity (total=%d available=%d borrowed=%d)",
			e.EquipmentID, e.TotalQuantity, e.AvailableQuantity, e.BorrowedQuantity)
	}
	if e.AvailableQuantity+e.BorrowedQuantity != e.TotalQuantity {
		return fmt.Errorf("equipment %d: available(%d) + borrowed(%d) != total(%d)",
			e.EquipmentID, e.AvailableQuantity, e.BorrowedQuantity, e.TotalQuantity)
	}
	return nil
}

// FullLocation: Equipment.js の virtual と同じ表記
func (e *Equipment) FullLocation() string {
	return fmt.Sprintf("%s - %sF - %s", e.Building, e.Floor, e.Room)
}
