package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/otcheredev/ris-study-ingest/internal/adapters"
	"github.com/otcheredev/ris-study-ingest/internal/cache"
	"github.com/otcheredev/ris-study-ingest/internal/config"
	"github.com/otcheredev/ris-study-ingest/internal/database"
	"github.com/otcheredev/ris-study-ingest/internal/extractor"
	"github.com/otcheredev/ris-study-ingest/internal/handlers"
	"github.com/otcheredev/ris-study-ingest/internal/middleware"
	"github.com/otcheredev/ris-study-ingest/internal/repository"
	"github.com/otcheredev/ris-study-ingest/internal/services"
	"github.com/otcheredev/ris-study-ingest/internal/viewer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// app holds the wired dependencies shared by every command
type app struct {
	cfg     *config.Config
	db      *gorm.DB // nil with the memory store
	gateway adapters.PACSGateway
	cache   cache.Cache
	audit   repository.AuditStore
	service *services.IngestionService
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var studies repository.StudyRepository

	switch cfg.Store.Driver {
	case "memory":
		log.Warn().Int("seed_patients", len(cfg.Patients.Seed)).Msg("Using in-memory study store; data is lost on exit")
		studies = repository.NewMemoryStudyRepository(repository.NewMemoryPatientDirectory(cfg.Patients.Seed...))
		a.audit = repository.NewMemoryAuditRepository()

	default:
		db, err := database.Connect(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			LogLevel: cfg.Database.LogLevel,

			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.db = db

		patients, err := repository.NewGormPatientDirectory(db, cfg.Patients.Table)
		if err != nil {
			a.close()
			return nil, err
		}
		studies = repository.NewGormStudyRepository(db, patients)
		a.audit = repository.NewAuditRepository(db)
	}

	// Initialize cache
	if cfg.Cache.Enabled {
		if cfg.Cache.Type == "redis" {
			addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			redisCache, err := cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
			if err != nil {
				a.close()
				return nil, fmt.Errorf("failed to connect to Redis: %w", err)
			}
			a.cache = redisCache
			log.Info().Str("addr", addr).Msg("Redis cache initialized")
		} else {
			a.cache = cache.NewMemoryCache(time.Minute)
			log.Info().Msg("Memory cache initialized")
		}
	} else {
		log.Info().Msg("Viewer configuration cache disabled")
	}

	gateway, err := adapters.NewOrthancGateway(adapters.Config{
		BaseURL:  cfg.PACS.URL,
		Username: cfg.PACS.Username,
		Password: cfg.PACS.Password,
		Token:    cfg.PACS.Token,
		Timeout:  cfg.PACS.Timeout,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.gateway = gateway

	var viewers *cache.ViewerStore
	if a.cache != nil {
		viewers = cache.NewViewerStore(a.cache, cfg.Cache.TTL)
	}

	a.service = services.NewIngestionService(
		extractor.New(),
		gateway,
		studies,
		a.audit,
		viewers,
		services.Options{
			Endpoints: viewer.Endpoints{
				WadoRoot:   cfg.Viewer.WadoRoot,
				WadoRsRoot: cfg.Viewer.WadoRsRoot,
				QidoRsRoot: cfg.Viewer.QidoRsRoot,
			},
			Retry: services.RetryPolicy{
				UploadRetries:  cfg.PACS.UploadRetries,
				TimeoutRetries: cfg.PACS.TimeoutRetries,
				Backoff:        cfg.PACS.RetryBackoff,
				MaxBackoff:     cfg.PACS.MaxRetryBackoff,
			},
			CompensationTimeout: cfg.PACS.CompensationTimeout,
		},
	)

	return a, nil
}

func (a *app) close() {
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

func (a *app) router() http.Handler {
	cfg := a.cfg

	healthHandler := handlers.NewHealthHandler(a.db, a.gateway)
	studyHandler := handlers.NewStudyHandler(a.service, cfg.Upload.MaxBytes)
	auditHandler := handlers.NewAuditHandler(a.audit)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5, "application/json"))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints (no authentication required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.JWTSecret))
		studyHandler.Routes(r)
		auditHandler.Routes(r)
	})

	return r
}
