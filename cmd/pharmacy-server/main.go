package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/pharmacy/internal/config"
	"github.com/ehr/pharmacy/internal/domain/dispensing"
	"github.com/ehr/pharmacy/internal/domain/identity"
	"github.com/ehr/pharmacy/internal/domain/inventory"
	"github.com/ehr/pharmacy/internal/domain/medication"
	"github.com/ehr/pharmacy/internal/platform/auth"
	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/internal/platform/fhir"
	"github.com/ehr/pharmacy/internal/platform/middleware"
)

const bodyLimit = "2M"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pharmacy-server",
		Short: "Pharmacy MedicationRequest reconciliation API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pharmacy API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetBool("seed")
			return runServer(seed)
		},
	}
	cmd.Flags().Bool("seed", false, "Load the demo catalog before serving (useful with STORE=memory)")
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// services bundles everything the router and the seed command need.
type services struct {
	identity   *identity.Service
	medication *medication.Service
	inventory  *inventory.Service
	dispensing *dispensing.Service
}

func newServices(cfg *config.Config, st *stores, logger zerolog.Logger) (*services, error) {
	checker, err := fhir.NewPayloadChecker(fhir.MedicationRequestRules())
	if err != nil {
		return nil, fmt.Errorf("compile payload rules: %w", err)
	}
	return &services{
		identity:   identity.NewService(st.patients),
		medication: medication.NewService(st.medications, st.requests, st.patients, checker, logger),
		inventory:  inventory.NewService(st.inventory, st.medications, logger),
		dispensing: dispensing.NewService(st.requests, st.inventory, st.tx,
			dispensing.Config{AllowRedispense: cfg.DispenseAllowRedispense}, logger),
	}, nil
}

func newRouter(cfg *config.Config, st *stores, svc *services, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit(bodyLimit))
	e.Use(echomw.Secure())

	e.GET("/health", db.HealthHandler(st.pinger, st.name))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// Auth runs first so the limiter can key on the user.
	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(rateLimitCfg))
	fhirGroup := e.Group("/fhir", authMW, middleware.RateLimit(rateLimitCfg))

	identity.NewHandler(svc.identity).RegisterRoutes(apiV1, fhirGroup)
	medication.NewHandler(svc.medication).RegisterRoutes(apiV1, fhirGroup)
	inventory.NewHandler(svc.inventory).RegisterRoutes(apiV1)
	dispensing.NewHandler(svc.dispensing).RegisterRoutes(apiV1)

	return e
}

func runServer(seed bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("store", cfg.Store).Msg("failed to open store")
		return err
	}
	defer st.close()
	logger.Info().Str("store", st.name).Msg("store ready")

	svc, err := newServices(cfg, st, logger)
	if err != nil {
		return err
	}
	if seed {
		meds, batches, err := seedCatalog(ctx, svc, logger)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info().Int("medications", meds).Int("batches", batches).Msg("demo catalog loaded")
	}

	e := newRouter(cfg, st, svc, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
