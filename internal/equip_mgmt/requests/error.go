package requests

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeQuotaExceeded     Code = "QUOTA_EXCEEDED"
	CodeRestricted        Code = "RESTRICTED"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeConflict          Code = "CONFLICT"
	CodeInternal          Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
	// 判定の内訳（現在数/承認待ち/限度、在庫数、制限一覧など）。
	// 呼び出し側がそのままレスポンスに載せる。
	Details any
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func ErrQuotaExceeded(msg string, details any) *APIError {
	return &APIError{Code: CodeQuotaExceeded, Message: msg, Details: details}
}

func ErrRestricted(msg string, details any) *APIError {
	return &APIError{Code: CodeRestricted, Message: msg, Details: details}
}

func ErrInsufficientStock(msg string, details any) *APIError {
	return &APIError{Code: CodeInsufficientStock, Message: msg, Details: details}
}

// ErrInvalidTransition: 状態機械の誤用。呼び出しは no-op で終わる。
func ErrInvalidTransition(current Status, attempted string) *APIError {
	return &APIError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("%s できません。現在の状態: %s", attempted, current),
		Details: map[string]any{"current_status": current},
	}
}

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument:
			return 400
		case CodeNotFound:
			return 404
		case CodeRestricted:
			return 403
		case CodeQuotaExceeded, CodeInsufficientStock, CodeInvalidTransition, CodeConflict:
			return 409
		default:
			return 500
		}
	}
	return 500
}
