package quota

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, admin gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 自分の枠
	r.GET("/quota/me", h.MyQuota)

	// admin: 任意ユーザーの枠と制限の付け外し
	admin.GET("/users/:id/quota", h.UserQuota)
	admin.POST("/users/:id/restrictions", h.AddRestriction)
	admin.DELETE("/users/:id/restrictions/:rid", h.RemoveRestriction)
}

func (h *Handler) MyQuota(c *gin.Context) {
	res, err := h.svc.GetQuotaStatus(c.Request.Context(), auth.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) UserQuota(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	res, err := h.svc.GetQuotaStatus(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

type addRestrictionRequest struct {
	Type    string     `json:"type" binding:"required"`
	Reason  string     `json:"reason" binding:"required"`
	EndDate *time.Time `json:"end_date,omitempty"`
}

func (h *Handler) AddRestriction(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var req addRestrictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json or missing required fields"})
		return
	}
	createdBy := auth.UserID(c)

	res, err := h.svc.AddRestriction(c.Request.Context(), userID, AddRestrictionInput{
		Type:      req.Type,
		Reason:    req.Reason,
		EndDate:   req.EndDate,
		CreatedBy: createdBy,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRestriction) || errors.Is(err, ErrReasonRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) RemoveRestriction(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	rid, err2 := strconv.ParseInt(c.Param("rid"), 10, 64)
	if err != nil || err2 != nil || userID <= 0 || rid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.svc.RemoveRestriction(c.Request.Context(), userID, rid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "restriction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
