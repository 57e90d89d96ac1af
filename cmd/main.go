package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/api"
	"github.com/RoyceAzure/lab/cartsync/internal/api/handler"
	"github.com/RoyceAzure/lab/cartsync/internal/api/router"
	"github.com/RoyceAzure/lab/cartsync/internal/appcontext"
	"github.com/RoyceAzure/lab/cartsync/internal/config"
	"github.com/rs/zerolog/log"
)

// @title cartsync
// @version 1.0
// @description 訪客與會員購物車 BFF
// @host      localhost:8080
// @BasePath  /api/v1

func main() {
	app, err := appcontext.NewApplicationContext(config.GetConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init application")
		return
	}
	logger := app.Logger

	// 初始化 handler
	eventHandler := handler.NewEventHandler(app.Bus, 15*time.Second, logger)
	server := api.NewServer(
		handler.NewCartHandler(),
		eventHandler,
		handler.NewHealthHandler(app.Storage),
	)

	// 設置路由
	r := router.SetupRouter(server, router.Options{
		Factory:      app.SourceFactory,
		Migrator:     app.Migrator,
		Limiter:      app.Limiter,
		GuestCookie:  app.Cf.GuestCookieName,
		SecureCookie: app.Cf.GuestCookieSecure,
	}, logger)

	// SSE 長連線，不設定 WriteTimeout
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", app.Cf.ServerPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv.RegisterOnShutdown(eventHandler.Close)

	// 設置訊號監聽
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutDownCompleted := make(chan struct{}, 1)
	// 監聽退出訊號
	go func() {
		<-sigChan
		logger.Info().Msg("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown error")
		}

		if err := app.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Application shutdown error")
		}

		shutDownCompleted <- struct{}{}
	}()

	// 啟動服務
	logger.Info().Str("addr", srv.Addr).Msg("Server starting")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server stopped unexpectedly")
	}
	<-shutDownCompleted
	logger.Info().Msg("closed completed")
}
