package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/rpm/internal/domain/alert"
	"github.com/ehr/rpm/internal/domain/execution"
	"github.com/ehr/rpm/internal/domain/rules"
	"github.com/ehr/rpm/internal/engine"
	"github.com/ehr/rpm/internal/platform/auth"
	"github.com/ehr/rpm/internal/platform/db"
	"github.com/ehr/rpm/internal/platform/middleware"
	"github.com/ehr/rpm/internal/platform/telemetry"
)

const requestTimeout = 60 * time.Second

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: every API request is granted admin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	defs, err := rules.LoadDefaults(cfg.DefaultRulesFile)
	if err != nil {
		return err
	}
	if _, err := rules.SeedDefaults(ctx, a.rules, defs, logger); err != nil {
		return err
	}

	e := newEcho(a)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		engine.NewScheduler(a.engine, cfg.EvalInterval, logger).Start(ctx)
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("scheduler did not stop before shutdown deadline")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(telemetry.MetricsMiddleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	e.GET("/metrics", telemetry.Handler())

	api := e.Group("/api/v1", middleware.RequestTimeout(requestTimeout), authMiddleware(a))

	rules.NewHandler(rules.NewService(a.rules)).RegisterRoutes(api)
	alert.NewHandler(alert.NewService(a.alerts)).RegisterRoutes(api)
	execution.NewHandler(a.executions).RegisterRoutes(api)
	engine.NewHandler(a.engine).RegisterRoutes(api)

	return e
}

func authMiddleware(a *app) echo.MiddlewareFunc {
	if a.cfg.IsDev() && a.cfg.AuthIssuer == "" {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     a.cfg.AuthIssuer,
		Audience:   a.cfg.AuthAudience,
		JWKSURL:    a.cfg.AuthJWKSURL,
		SigningKey: []byte(a.cfg.AuthSigningKey),
	})
}
