package equipments

import (
	"time"

	"github.com/shopspring/decimal"
)

// ===== Requests =====

type CreateEquipmentRequest struct {
	Code           string           `json:"code" binding:"required"`
	Name           string           `json:"name" binding:"required"`
	Category       string           `json:"category" binding:"required"`
	Description    *string          `json:"description,omitempty"`
	Specifications *string          `json:"specifications,omitempty"`
	TotalQuantity  int              `json:"total_quantity" binding:"required"`
	Condition      *string          `json:"condition,omitempty"` // 既定 good
	Building       string           `json:"building" binding:"required"`
	Floor          string           `json:"floor" binding:"required"`
	Room           string           `json:"room" binding:"required"`
	PurchaseDate   *time.Time       `json:"purchase_date,omitempty"`
	PurchasePrice  *decimal.Decimal `json:"purchase_price,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
}

type UpdateEquipmentRequest struct {
	Name           *string          `json:"name,omitempty"`
	Category       *string          `json:"category,omitempty"`
	Description    *string          `json:"description,omitempty"`
	Specifications *string          `json:"specifications,omitempty"`
	TotalQuantity  *int             `json:"total_quantity,omitempty"`
	Condition      *string          `json:"condition,omitempty"`
	Building       *string          `json:"building,omitempty"`
	Floor          *string          `json:"floor,omitempty"`
	Room           *string          `json:"room,omitempty"`
	PurchasePrice  *decimal.Decimal `json:"purchase_price,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
}

// ===== Responses =====

type EquipmentResponse struct {
	EquipmentID       int64            `json:"equipment_id"`
	Code              string           `json:"code"`
	Name              string           `json:"name"`
	Category          string           `json:"category"`
	Description       *string          `json:"description,omitempty"`
	Specifications    *string          `json:"specifications,omitempty"`
	TotalQuantity     int              `json:"total_quantity"`
	AvailableQuantity int              `json:"available_quantity"`
	BorrowedQuantity  int              `json:"borrowed_quantity"`
	Condition         string           `json:"condition"`
	Building          string           `json:"building"`
	Floor             string           `json:"floor"`
	Room              string           `json:"room"`
	FullLocation      string           `json:"full_location"`
	PurchaseDate      *time.Time       `json:"purchase_date,omitempty"`
	PurchasePrice     *decimal.Decimal `json:"purchase_price,omitempty"`
	IsActive          bool             `json:"is_active"`
	Notes             *string          `json:"notes,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type ListEquipmentsResponse struct {
	Items []EquipmentResponse `json:"items"`
	Total int64               `json:"total"`
}

func buildEquipmentResponse(e *Equipment) EquipmentResponse {
	resp := EquipmentResponse{
		EquipmentID:       e.EquipmentID,
		Code:              e.Code,
		Name:              e.Name,
		Category:          e.Category,
		TotalQuantity:     e.TotalQuantity,
		AvailableQuantity: e.AvailableQuantity,
		BorrowedQuantity:  e.BorrowedQuantity,
		Condition:         e.Condition,
		Building:          e.Building,
		Floor:             e.Floor,
		Room:              e.Room,
		FullLocation:      e.FullLocation(),
		IsActive:          e.IsActive,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
	if e.Description.Valid {
		v := e.Description.String
		resp.Description = &v
	}
	if e.Specifications.Valid {
		v := e.Specifications.String
		resp.Specifications = &v
	}
	if e.PurchaseDate.Valid {
		v := e.PurchaseDate.Time
		resp.PurchaseDate = &v
	}
	if e.PurchasePrice.Valid {
		v := e.PurchasePrice.Decimal
		resp.PurchasePrice = &v
	}
	if e.Notes.Valid {
		v := e.Notes.String
		resp.Notes = &v
	}
	return resp
}
