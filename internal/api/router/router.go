package router

import (
	"net/http"

	"github.com/RoyceAzure/lab/cartsync/internal/api"
	m "github.com/RoyceAzure/lab/cartsync/internal/api/middleware"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/ratelimit"
	"github.com/RoyceAzure/lab/cartsync/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Options struct {
	Factory service.ICartSourceFactory
	// Migrator nil 表示不搬移訪客購物車
	Migrator     service.ICartMigrator
	Limiter      ratelimit.Limiter
	GuestCookie  string
	SecureCookie bool
}

func SetupRouter(server *api.Server, opts Options, logger *zerolog.Logger) *chi.Mux {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	r := chi.NewRouter()

	// 全局中間件
	r.Use(m.RequestIdMiddleware)
	r.Use(middleware.RealIP)
	r.Use(m.LoggerMiddleware(logger))
	r.Use(m.RecoverMiddleware(logger))

	r.Get("/healthz", server.HealthHandler.Healthz)

	cartOpts := []m.CartMiddlewareOption{m.WithCartLogger(logger)}
	if opts.Migrator != nil {
		cartOpts = append(cartOpts, m.WithMigrateOnLogin(opts.Migrator))
	}

	// API 路由
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Use(m.GuestMiddleware(opts.GuestCookie, opts.SecureCookie))
			r.Use(m.CartMiddleware(opts.Factory, cartOpts...))
			r.Use(m.RateLimitMiddleware(opts.Limiter))

			r.Get("/", server.CartHandler.GetCart)
			r.Delete("/", server.CartHandler.ClearCart)
			r.Post("/items", server.CartHandler.AddItem)
			r.Patch("/items/{itemId}", server.CartHandler.UpdateQuantity)
			r.Delete("/items/{itemId}", server.CartHandler.RemoveItem)
			r.Post("/promo", server.CartHandler.ApplyPromo)
			r.Delete("/promo", server.CartHandler.RemovePromo)
			r.Get("/wallet", server.CartHandler.WalletBalance)
			r.Post("/checkout", server.CartHandler.Checkout)
			r.Get("/events", server.EventHandler.Events)
		})
	})

	// 在設置完所有路由後打印路由樹
	if err := chi.Walk(r, func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		logger.Debug().Str("method", method).Str("route", route).Msg("route registered")
		return nil
	}); err != nil {
		logger.Warn().Err(err).Msg("walk routes failed")
	}
	return r
}
