package middleware

import (
	"net/http"

	"github.com/RoyceAzure/lab/cartsync/internal/pkg/apperr"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/ratelimit"
)

// RateLimitMiddleware 只限制會修改購物車的請求，以購物車 owner 為單位
// 需在 CartMiddleware 之後
func RateLimitMiddleware(limiter ratelimit.Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			vm, ok := GetCartViewModelFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(r.Context(), vm.Source().Owner()) {
				w.Header().Set("Retry-After", "1")
				apperr.ErrorJSON(w, apperr.New(apperr.TooManyRequestsCode, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
