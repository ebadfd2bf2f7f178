package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/config"
	"github.com/ehr/records/internal/domain/encounter"
	"github.com/ehr/records/internal/domain/observation"
	"github.com/ehr/records/internal/domain/patient"
	"github.com/ehr/records/internal/platform/api"
	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/internal/platform/events"
	"github.com/ehr/records/internal/platform/middleware"
	"github.com/ehr/records/internal/platform/reporting"
	"github.com/ehr/records/internal/platform/telemetry"
)

const version = "0.1.0"

// services holds everything the HTTP layer and the CLI share.
type services struct {
	patients     *patient.Service
	encounters   *encounter.Service
	observations *observation.Service
	reports      *reporting.Service
}

func newServices(pool *pgxpool.Pool, publisher events.Publisher, logger zerolog.Logger) *services {
	tx := db.NewTransactor(pool)
	patientRepo := patient.NewRepo(pool)
	encounterRepo := encounter.NewRepo(pool)
	observationRepo := observation.NewRepo(pool)

	encounters := encounter.NewService(encounterRepo, observationRepo, patientRepo, tx, logger)
	return &services{
		patients:     patient.NewService(patientRepo, encounters, observationRepo, tx, publisher, logger),
		encounters:   encounters,
		observations: observation.NewService(observationRepo, patientRepo, encounters, tx, logger),
		reports:      reporting.NewService(reporting.NewPgStore(pool), tx, logger),
	}
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if !cfg.AuthEnabled() {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

// newEcho builds the HTTP server. pool may be nil when no database health
// endpoint is wanted.
func newEcho(cfg *config.Config, logger zerolog.Logger, svc *services, limiter middleware.Limiter, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	var poolStats telemetry.PoolStats
	if pool != nil {
		poolStats = func() (int32, int32) {
			st := pool.Stat()
			return st.AcquiredConns(), st.IdleConns()
		}
	}
	metrics := telemetry.New(poolStats)

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/metrics", metrics.Handler())
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	v1 := e.Group("/api/v1",
		middleware.BodyLimit(cfg.BodyLimit),
		middleware.RequestTimeout(cfg.RequestTimeout),
		middleware.RateLimit(limiter, rl, logger),
		authMiddleware(cfg),
		middleware.Audit(logger),
	)

	patient.NewHandler(svc.patients).RegisterRoutes(v1)
	encounter.NewHandler(svc.encounters).RegisterRoutes(v1)
	observation.NewHandler(svc.observations).RegisterRoutes(v1)
	reporting.NewHandler(svc.reports).RegisterRoutes(v1)
	return e
}

func newLimiter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (middleware.Limiter, func(), error) {
	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimiter(rl), func() {}, nil
	}

	client, err := middleware.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		// Requests are let through while redis is unreachable.
		logger.Warn().Err(err).Msg("redis unreachable at startup")
	}
	logger.Info().Msg("using redis rate limiter")
	return middleware.NewRedisLimiter(client, rl), func() { _ = client.Close() }, nil
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	var pubs events.Fanout
	if cfg.MQTTBroker != "" {
		pub, err := events.NewMQTTPublisher(events.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect mqtt broker: %w", err)
		}
		logger.Info().Str("broker", cfg.MQTTBroker).Msg("publishing patient events over mqtt")
		pubs = append(pubs, pub)
	}
	if len(cfg.WebhookURLs) > 0 {
		pubs = append(pubs, events.NewWebhookPublisher(events.WebhookConfig{
			URLs:       cfg.WebhookURLs,
			Secret:     cfg.WebhookSecret,
			MaxRetries: 2,
		}, logger))
		logger.Info().Int("endpoints", len(cfg.WebhookURLs)).Msg("publishing patient events to webhooks")
	}

	switch len(pubs) {
	case 0:
		return events.Noop{}, nil
	case 1:
		return pubs[0], nil
	}
	return pubs, nil
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	limiter, closeLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	e := newEcho(cfg, logger, newServices(pool, publisher, logger), limiter, pool)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
