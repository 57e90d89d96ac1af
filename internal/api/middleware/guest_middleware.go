package middleware

import (
	"context"
	"net/http"

	"github.com/RoyceAzure/lab/cartsync/internal/constants"
	"github.com/google/uuid"
)

// GuestMiddleware 確保每個請求都有訪客 id
// cookie 不存在或格式錯誤時重新發放，避免任意字串成為 storage key
func GuestMiddleware(cookieName string, secure bool) func(next http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = constants.DefaultGuestCookie
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guestID := ""
			if c, err := r.Cookie(cookieName); err == nil {
				if id, err := uuid.Parse(c.Value); err == nil {
					guestID = id.String()
				}
			}

			if guestID == "" {
				guestID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    guestID,
					Path:     "/",
					MaxAge:   int(constants.GuestCookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), constants.GuestIDKey, guestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetGuestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(constants.GuestIDKey).(string)
	return v, ok && v != ""
}
