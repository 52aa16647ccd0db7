package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sdiallo/bulkdisburse/internal/api/handler"
	"github.com/sdiallo/bulkdisburse/internal/api/middleware"
	"github.com/sdiallo/bulkdisburse/internal/api/spec"
	"github.com/sdiallo/bulkdisburse/internal/idempotency"
	"github.com/sdiallo/bulkdisburse/internal/repository"
	"github.com/sdiallo/bulkdisburse/internal/service"
	"go.uber.org/zap"
)

// RouterConfig carries the tunables the HTTP surface needs.
type RouterConfig struct {
	PublicRateLimitRPS   int
	CallbackRateLimitRPS int
	StreamPollInterval   time.Duration
	WaitPollInterval     time.Duration
	WaitMaxTimeout       time.Duration
}

type Router struct {
	cfg       RouterConfig
	logger    *zap.Logger
	db        *pgxpool.Pool
	store     *repository.Store
	idemStore *idempotency.Store
	redis     redis.Cmdable
}

func NewRouter(cfg RouterConfig, logger *zap.Logger, db *pgxpool.Pool, store *repository.Store, idemStore *idempotency.Store, redisClient redis.Cmdable) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     store,
		idemStore: idemStore,
		redis:     redisClient,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(chiMiddleware.RealIP)

	// Services
	bulkSvc := service.NewBulkService(api.store)
	settlementSvc := service.NewSettlementService(api.store, api.logger)
	statusSvc := service.NewStatusService(api.store, api.logger)
	accountSvc := service.NewAccountService(api.store)
	if api.cfg.WaitMaxTimeout > 0 {
		statusSvc.WaitCeiling = api.cfg.WaitMaxTimeout
	}

	// Handlers
	bulkHandler := handler.NewBulkHandler(bulkSvc, settlementSvc, statusSvc, api.logger)
	if api.cfg.StreamPollInterval > 0 {
		bulkHandler.StreamInterval = api.cfg.StreamPollInterval
	}
	if api.cfg.WaitPollInterval > 0 {
		bulkHandler.WaitPollInterval = api.cfg.WaitPollInterval
	}
	transferHandler := handler.NewTransferHandler(bulkSvc, settlementSvc)
	accountHandler := handler.NewAccountHandler(accountSvc)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Operational surfaces
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Method("GET", "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())

	// Client-facing routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Post("/v1/accounts", accountHandler.CreateAccount)
		r.Get("/v1/accounts/{accountID}", accountHandler.GetAccount)
		r.Get("/v1/parties/{idType}/{identifier}", accountHandler.GetParty)

		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/bulk-transfers", bulkHandler.CreateBulk)
		r.Get("/v1/bulk-transfers/{bulkID}", bulkHandler.GetBulk)
		r.Get("/v1/bulk-transfers/{bulkID}/stream", bulkHandler.StreamStatus)
		r.Get("/v1/bulk-transfers/{bulkID}/wait", bulkHandler.WaitForCompletion)

		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/transfers", transferHandler.CreateTransfer)
		r.Get("/v1/transfers/{transferID}", transferHandler.GetTransfer)
	})

	// Adapter callback routes. Settlement is idempotent on its own, so
	// callbacks skip the Idempotency-Key contract.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CallbackRateLimiter(api.cfg.CallbackRateLimitRPS))

		r.Put("/v1/transfers/{transferID}", transferHandler.SettlementCallback)
		r.Put("/v1/bulk-transfers/{bulkID}", bulkHandler.BatchCallback)
	})

	return r
}
