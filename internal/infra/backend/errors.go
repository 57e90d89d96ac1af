package backend

import (
	"fmt"
	"net/http"

	"github.com/RoyceAzure/lab/cartsync/internal/pkg/apperr"
)

// APIError 後端回應非 2xx 或無法連線
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend status %d: %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Message)
}

func (e *APIError) StatusCode() int {
	return e.Status
}

func (e *APIError) UserMessage() string {
	return e.Message
}

// Unwrap 401/403 視為需要重新登入
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return apperr.ErrSignInRequired
	}
	return e.Err
}

var _ apperr.StatusError = (*APIError)(nil)

func newUnavailableError(err error) *APIError {
	return &APIError{
		Status:  http.StatusBadGateway,
		Message: "cart service is temporarily unavailable",
		Err:     err,
	}
}
