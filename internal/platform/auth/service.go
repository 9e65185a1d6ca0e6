package auth

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strconv"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrAuthFailed    = errors.New("authentication failed")
)

var emailRe = regexp.MustCompile(`^\w+([\.-]?\w+)*@\w+([\.-]?\w+)*(\.\w{2,3})+$`)

type Service struct {
	store    AccountStore
	secret   []byte
	tokenTTL time.Duration
}

func NewService(db *sql.DB, secret []byte, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{store: NewStore(db), secret: secret, tokenTTL: tokenTTL}
}

func (s *Service) Secret() []byte { return s.secret }

type RegisterInput struct {
	StudentID string
	FullName  string
	Email     string
	Password  string
	Role      string
	Phone     string
	Faculty   string
	Class     string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	if in.FullName == "" || len(in.FullName) > 100 {
		return nil, errors.New("full_name is required (max 100 chars)")
	}
	if !emailRe.MatchString(in.Email) {
		return nil, errors.New("invalid email")
	}
	if len(in.Password) < 6 {
		return nil, errors.New("password must be at least 6 chars")
	}
	if in.Role == "" {
		in.Role = RoleStudent
	}
	if in.Role != RoleStudent && in.Role != RoleAdmin {
		return nil, errors.New("invalid role")
	}
	// 学生は学籍番号・学部・クラス必須（User.js の conditional required と同じ）
	if in.Role == RoleStudent && (in.StudentID == "" || in.Faculty == "" || in.Class == "") {
		return nil, errors.New("student_id, faculty and class are required for students")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	a := &Account{
		StudentID:    toNullString(in.StudentID),
		FullName:     in.FullName,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
		Phone:        toNullString(in.Phone),
		Faculty:      toNullString(in.Faculty),
		Class:        toNullString(in.Class),
		IsActive:     true,
	}
	if err := s.store.Create(ctx, a); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	return a, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, *Account, error) {
	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if acct == nil {
		return "", nil, ErrAuthFailed
	}
	if !acct.IsActive {
		return "", nil, errors.New("account disabled")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrAuthFailed
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatInt(acct.UserID, 10),
		"role": acct.Role,
		"exp":  time.Now().Add(s.tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}

	_ = s.store.UpdateLastLogin(ctx, acct.UserID, time.Now())
	return tokenString, acct, nil
}

func (s *Service) Me(ctx context.Context, id int64) (*Account, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrNotFound
	}
	return acct, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
