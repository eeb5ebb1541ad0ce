package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/typeloader/typeloader/internal/domain/submission"
	"github.com/typeloader/typeloader/internal/platform/auth"
	"github.com/typeloader/typeloader/internal/platform/blobstore"
	"github.com/typeloader/typeloader/internal/platform/db"
	"github.com/typeloader/typeloader/internal/platform/embl"
	"github.com/typeloader/typeloader/internal/platform/fasta"
	"github.com/typeloader/typeloader/internal/platform/middleware"
)

const version = "0.1.0"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	e := newServer(a)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with middleware and every route.
func newServer(a *app) *echo.Echo {
	cfg := a.cfg
	logger := a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(a.metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "64M", "/api/v1/sequences", "/api/v1/flatfiles"))

	// Validation and submission wait on the external tool, bounded by
	// WEBIN_TIMEOUT instead.
	skip := append([]string{"/metrics"}, submission.LongRunningPaths...)
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, skip...))

	if cfg.JWTSigningKey == "" && cfg.IsDev() {
		logger.Warn().Msg("JWT_SIGNING_KEY not set, every request runs as admin")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.JWTSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if a.pinger != nil {
		e.GET("/health/db", db.HealthHandler(a.pinger))
	}
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1")

	checks := apiV1.Group("", auth.RequireRole(auth.RoleCurator))
	embl.NewHandler().RegisterRoutes(checks)
	fasta.NewHandler().RegisterRoutes(checks)

	submission.NewHandler(a.svc).RegisterRoutes(apiV1)

	blobstore.NewHandler(a.archive).RegisterRoutes(apiV1)

	return e
}
