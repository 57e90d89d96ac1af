package middleware

import (
	"context"
	"net/http"

	"github.com/RoyceAzure/lab/cartsync/internal/auth"
	"github.com/RoyceAzure/lab/cartsync/internal/constants"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/apperr"
	"github.com/RoyceAzure/lab/cartsync/internal/service"
	"github.com/rs/zerolog"
)

type CartMiddlewareOption func(*cartMiddleware)

// WithMigrateOnLogin 登入後第一次請求把訪客購物車搬到後端
func WithMigrateOnLogin(migrator service.ICartMigrator) CartMiddlewareOption {
	return func(m *cartMiddleware) {
		m.migrator = migrator
	}
}

func WithCartLogger(logger *zerolog.Logger) CartMiddlewareOption {
	return func(m *cartMiddleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

type cartMiddleware struct {
	factory  service.ICartSourceFactory
	migrator service.ICartMigrator
	logger   *zerolog.Logger
}

// CartMiddleware 每個請求依 cookie 決定一次購物車來源，之後整個請求都使用同一個 view model
// 需在 GuestMiddleware 之後
func CartMiddleware(factory service.ICartSourceFactory, opts ...CartMiddlewareOption) func(next http.Handler) http.Handler {
	if factory == nil {
		panic("cart source factory cannot be nil")
	}
	nop := zerolog.Nop()
	m := &cartMiddleware{factory: factory, logger: &nop}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guestID, ok := GetGuestIDFromContext(r.Context())
			if !ok {
				apperr.ErrorJSON(w, apperr.New(apperr.InternalErrorCode, "guest id missing"))
				return
			}

			authState := auth.NewAuthState(r)
			source := m.factory.Resolve(authState, guestID)
			if remote, ok := source.(*service.RemoteCartSource); ok && m.migrator != nil {
				m.migrate(r.Context(), guestID, remote)
			}

			SetOwner(r.Context(), source.Owner(), string(source.Kind()))
			ctx := context.WithValue(r.Context(), constants.AuthStateKey, authState)
			ctx = context.WithValue(ctx, constants.CartViewKey, service.ICartViewModel(service.NewCartViewModel(source)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// migrate 失敗只記錄，失敗的項目留在訪客購物車，等待重試間隔後再試
func (m *cartMiddleware) migrate(ctx context.Context, guestID string, remote *service.RemoteCartSource) {
	local := m.factory.Local(guestID)
	if !service.HasGuestItems(ctx, local) {
		return
	}
	result, err := m.migrator.Migrate(ctx, local, remote.Session())
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("request_id", GetRequestID(ctx)).
			Str("owner", remote.Owner()).
			Int("migrated", result.Migrated).
			Int("failed", len(result.Failed)).
			Msg("guest cart migration incomplete")
	}
}

func GetCartViewModelFromContext(ctx context.Context) (service.ICartViewModel, bool) {
	vm, ok := ctx.Value(constants.CartViewKey).(service.ICartViewModel)
	return vm, ok
}

func GetAuthStateFromContext(ctx context.Context) (*auth.AuthState, bool) {
	a, ok := ctx.Value(constants.AuthStateKey).(*auth.AuthState)
	return a, ok
}
