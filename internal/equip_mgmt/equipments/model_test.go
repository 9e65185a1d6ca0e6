package equipments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ledger(total, available, borrowed int, active bool) *Equipment {
	return &Equipment{
		EquipmentID:       1,
		Name:              "オシロスコープ",
		TotalQuantity:     total,
		AvailableQuantity: available,
		BorrowedQuantity:  borrowed,
		IsActive:          active,
	}
}

func TestCanBorrow(t *testing.T) {
	tests := []struct {
		name string
		e    *Equipment
		qty  int
		ok   bool
	}{
		{name: "enough_stock", e: ledger(5, 3, 2, true), qty: 3, ok: true},
		{name: "not_enough_stock", e: ledger(5, 3, 2, true), qty: 4, ok: false},
		{name: "zero_qty", e: ledger(5, 3, 2, true), qty: 0, ok: false},
		{name: "negative_qty", e: ledger(5, 3, 2, true), qty: -1, ok: false},
		{name: "inactive_equipment", e: ledger(5, 3, 2, false), qty: 1, ok: false},
		{name: "exhausted", e: ledger(5, 0, 5, true), qty: 1, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.e.CanBorrow(tt.qty))
		})
	}
}

func TestCheckInvariant(t *testing.T) {
	assert.NoError(t, ledger(5, 3, 2, true).CheckInvariant())
	assert.Error(t, ledger(5, 3, 3, true).CheckInvariant(), "合計が合わない")
	assert.Error(t, ledger(5, -1, 6, true).CheckInvariant(), "負の在庫")
}

func TestFullLocation(t *testing.T) {
	e := &Equipment{Building: "A棟", Floor: "3", Room: "301"}
	assert.Equal(t, "A棟 - 3F - 301", e.FullLocation())
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidCondition(ConditionGood))
	assert.False(t, ValidCondition("broken"))
	assert.True(t, ValidCategory(CategoryElectronics))
	assert.False(t, ValidCategory("vehicle"))
}
