package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &AuthHandler{svc: svc}
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
}

// RegisterProtectedRoutes: RequireAuth 済みのグループに載せる分
func RegisterProtectedRoutes(r gin.IRoutes, svc *Service) {
	h := &AuthHandler{svc: svc}
	r.GET("/auth/me", h.Me)
}

type RegisterRequest struct {
	StudentID string `json:"student_id"`
	FullName  string `json:"full_name" binding:"required"`
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	Phone     string `json:"phone"`
	Faculty   string `json:"faculty"`
	Class     string `json:"class"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type accountDTO struct {
	UserID    int64   `json:"user_id"`
	StudentID *string `json:"student_id,omitempty"`
	FullName  string  `json:"full_name"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	Phone     *string `json:"phone,omitempty"`
	Faculty   *string `json:"faculty,omitempty"`
	Class     *string `json:"class,omitempty"`
	IsActive  bool    `json:"is_active"`
}

func toAccountDTO(a *Account) accountDTO {
	d := accountDTO{
		UserID:   a.UserID,
		FullName: a.FullName,
		Email:    a.Email,
		Role:     a.Role,
		IsActive: a.IsActive,
	}
	if a.StudentID.Valid {
		v := a.StudentID.String
		d.StudentID = &v
	}
	if a.Phone.Valid {
		v := a.Phone.String
		d.Phone = &v
	}
	if a.Faculty.Valid {
		v := a.Faculty.String
		d.Faculty = &v
	}
	if a.Class.Valid {
		v := a.Class.String
		d.Class = &v
	}
	return d
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	// 公開エンドポイントからは student のみ作成可
	acct, err := h.svc.Register(c.Request.Context(), RegisterInput{
		StudentID: req.StudentID,
		FullName:  req.FullName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      RoleStudent,
		Phone:     req.Phone,
		Faculty:   req.Faculty,
		Class:     req.Class,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "email or student_id already registered"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toAccountDTO(acct))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	token, acct, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "メールアドレスまたはパスワードが間違っています"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(h.svc.tokenTTL / time.Second),
		"user":       toAccountDTO(acct),
	})
}

func (h *AuthHandler) Me(c *gin.Context) {
	acct, err := h.svc.Me(c.Request.Context(), UserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, toAccountDTO(acct))
}
