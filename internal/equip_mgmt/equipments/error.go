package equipments

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeOverRelease       Code = "OVER_RELEASE"
	CodeConflict          Code = "CONFLICT"
	CodeInternal          Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
	// 在庫不足のとき呼び出し側が数量を下げて再試行できるように返す
	Available int
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func ErrInsufficientStock(name string, available, requested int) *APIError {
	return &APIError{
		Code:      CodeInsufficientStock,
		Message:   fmt.Sprintf("機材「%s」の在庫が不足しています。在庫: %d, 要求: %d", name, available, requested),
		Available: available,
	}
}

func ErrOverRelease(name string, borrowed, requested int) *APIError {
	return &APIError{
		Code:    CodeOverRelease,
		Message: fmt.Sprintf("機材「%s」の返却数が貸出数を超えています。貸出中: %d, 返却: %d", name, borrowed, requested),
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
		case CodeInsufficientStock, CodeOverRelease, CodeConflict:
			return 409
		default:
			return 500
		}
	}
	return 500
}
