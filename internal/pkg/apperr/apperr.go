package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode int

const (
	BadRequestCode      ErrorCode = http.StatusBadRequest
	SignInRequiredCode  ErrorCode = http.StatusUnauthorized
	NotFoundCode        ErrorCode = http.StatusNotFound
	TooManyRequestsCode ErrorCode = http.StatusTooManyRequests
	InternalErrorCode   ErrorCode = http.StatusInternalServerError
	UpstreamCode        ErrorCode = http.StatusBadGateway
)

var ErrStrMap = map[ErrorCode]string{
	BadRequestCode:      "bad_request",
	SignInRequiredCode:  "sign_in_required",
	NotFoundCode:        "not_found",
	TooManyRequestsCode: "too_many_requests",
	InternalErrorCode:   "internal_error",
	UpstreamCode:        "upstream_error",
}

// AppError 對外回應的錯誤，Message 會直接顯示給使用者
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 相同 code 視為同一類錯誤
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Err == nil && t.Message == e.Message
}

// ErrSignInRequired 需要登入才能使用的功能 (promo、錢包、結帳)
// 與一般請求失敗分開，前端顯示登入提示
var ErrSignInRequired = New(SignInRequiredCode, "please sign in to continue")

// StatusError 上游回應錯誤，由 backend client 實作
type StatusError interface {
	error
	StatusCode() int
	UserMessage() string
}

// From 將任意錯誤轉成 AppError
//   - ErrSignInRequired: 401
//   - AppError: 原樣
//   - 上游 4xx: 400，保留上游訊息 (例如 promo code 無效)
//   - 上游 5xx / 網路錯誤: 502
//   - 其他: 500
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSignInRequired) {
		return Wrap(SignInRequiredCode, ErrSignInRequired.Message, err)
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode() >= 400 && statusErr.StatusCode() < 500 {
			code := BadRequestCode
			if statusErr.StatusCode() == http.StatusNotFound {
				code = NotFoundCode
			}
			return Wrap(code, statusErr.UserMessage(), err)
		}
		return Wrap(UpstreamCode, statusErr.UserMessage(), err)
	}
	return Wrap(InternalErrorCode, "internal server error", err)
}
