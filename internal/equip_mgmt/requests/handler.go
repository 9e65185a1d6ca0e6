package requests

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/auth"
)

type Handler struct{ svc *Service }

// RegisterRoutes: 申請の作成・参照は認証ユーザー、承認/却下/返却は admin のみ
func RegisterRoutes(r gin.IRoutes, admin gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/borrow-requests", h.Create)
	r.GET("/borrow-requests", h.List)
	r.GET("/borrow-requests/my/pending", h.PendingOverview)
	r.GET("/borrow-requests/:id", h.Get)
	r.GET("/borrow-requests/:id/damages", h.ListDamages)

	admin.PUT("/borrow-requests/:id/approve", h.Approve)
	admin.PUT("/borrow-requests/:id/reject", h.Reject)
	admin.PUT("/borrow-requests/:id/return", h.Return)
	admin.POST("/borrow-requests/:id/damages", h.ReportDamage)
	admin.GET("/borrow-requests/stats/summary", h.Stats)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields", nil))
		return
	}
	res, err := h.svc.Create(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) List(c *gin.Context) {
	f := ListFilter{}
	if v := c.Query("status"); v != "" {
		st := Status(v)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid status filter", nil))
			return
		}
		f.Status = &st
	}
	if v := c.Query("borrower_id"); v != "" && auth.Role(c) == auth.RoleAdmin {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid borrower_id", nil))
			return
		}
		f.BorrowerID = &id
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid from date", nil))
			return
		}
		f.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid to date", nil))
			return
		}
		f.To = &t
	}

	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "desc"),
	}
	rows, total, err := h.svc.List(c.Request.Context(), auth.UserID(c), auth.Role(c) == auth.RoleAdmin, f, p)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": rows, "total": total})
}

func (h *Handler) PendingOverview(c *gin.Context) {
	res, err := h.svc.GetPendingOverview(c.Request.Context(), auth.UserID(c))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Get(c *gin.Context) {
	// 数値ならID、BRで始まれば申請番号、それ以外はULIDとして引く
	key := c.Param("id")
	var (
		res *RequestResponse
		err error
	)
	if id, perr := strconv.ParseInt(key, 10, 64); perr == nil {
		res, err = h.svc.Get(c.Request.Context(), auth.UserID(c), auth.Role(c) == auth.RoleAdmin, id)
	} else if strings.HasPrefix(key, "BR") {
		res, err = h.svc.GetByNumber(c.Request.Context(), auth.UserID(c), auth.Role(c) == auth.RoleAdmin, key)
	} else {
		res, err = h.svc.GetByULID(c.Request.Context(), auth.UserID(c), auth.Role(c) == auth.RoleAdmin, key)
	}
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListDamages(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid id", nil))
		return
	}
	damages, err := h.svc.ListDamages(c.Request.Context(), auth.UserID(c), auth.Role(c) == auth.RoleAdmin, id)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	out := make([]gin.H, 0, len(damages))
	for _, d := range damages {
		item := gin.H{
			"damage_id":    d.DamageID,
			"equipment_id": d.EquipmentID,
			"description":  d.Description,
			"severity":     d.Severity,
			"reported_at":  d.ReportedAt,
		}
		if d.Cost.Valid {
			item["cost"] = d.Cost.Decimal
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"damages": out})
}

func (h *Handler) ReportDamage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req DamageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields", nil))
		return
	}
	d, err := h.svc.ReportDamage(c.Request.Context(), auth.UserID(c), id, req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	item := gin.H{
		"damage_id":    d.DamageID,
		"request_id":   d.RequestID,
		"equipment_id": d.EquipmentID,
		"description":  d.Description,
		"severity":     d.Severity,
	}
	if d.Cost.Valid {
		item["cost"] = d.Cost.Decimal
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) Approve(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json", nil))
		return
	}
	res, err := h.svc.Approve(c.Request.Context(), auth.UserID(c), id, req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Reject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields", nil))
		return
	}
	res, err := h.svc.Reject(c.Request.Context(), auth.UserID(c), id, req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Return(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json", nil))
		return
	}
	res, err := h.svc.Return(c.Request.Context(), auth.UserID(c), id, req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Stats(c *gin.Context) {
	res, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- helpers ----------

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid id", nil))
		return 0, false
	}
	return id, true
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details,omitempty"`
	} `json:"error"`
}

func errorBody(code Code, msg string, details any) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	e.Error.Details = details
	return e
}

func errorFromErr(err error) errorDTO {
	var api *APIError
	if errors.As(err, &api) {
		return errorBody(api.Code, api.Message, api.Details)
	}
	return errorBody(CodeInternal, err.Error(), nil)
}
