// Package gateway is the HTTP surface of the protocol gateway.
//
// DESIGN: One Gateway owns the shared state for every request:
//   - Router:   model id → endpoint + adapter
//   - Pool:     upstream credentials (shared by all upstream types)
//   - KeyStore: write-once access key checked by the gate
//   - monitoring: request logger, alerts, metrics, token estimator
//
// ROUTES:
//
//	GET  /health                      liveness + counters (no key)
//	GET  /metrics                     Prometheus exposition
//	GET  /v1/models                   model catalogue
//	POST /v1/chat/completions         translated per model type
//	POST /v1/responses                native Responses passthrough (openai only)
//	POST /v1/messages                 native Messages passthrough (anthropic only)
//	GET  /status                      dashboard or first-run key form (no key)
//	POST /status/set-key              first-run key bootstrap (no key)
//	GET  /status/balance/{index}      refresh one credential balance
//	GET  /status/balances             refresh all active balances in batches
//	GET|POST /status/skip-threshold   read / update the exhaustion floor
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/compresr/protocol-gateway/internal/adapters"
	"github.com/compresr/protocol-gateway/internal/config"
	"github.com/compresr/protocol-gateway/internal/keypool"
	"github.com/compresr/protocol-gateway/internal/monitoring"
	"github.com/compresr/protocol-gateway/internal/store"
)

// Gateway is the protocol gateway server.
type Gateway struct {
	cfg       *config.Config
	router    *Router
	pool      *keypool.Pool
	refresher *keypool.Refresher // nil when balance checks are not configured
	keys      store.KeyStore

	httpClient *http.Client
	server     *http.Server
	limiter    *rateLimiter

	logger        *monitoring.Logger
	requestLogger *monitoring.RequestLogger
	alerts        *monitoring.AlertManager
	metrics       *monitoring.MetricsCollector
	tokens        *monitoring.TokenEstimator

	startedAt time.Time
	now       func() time.Time
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithKeyStore replaces the file-backed access key store.
func WithKeyStore(ks store.KeyStore) Option {
	return func(g *Gateway) { g.keys = ks }
}

// WithHTTPClient replaces the upstream HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithBalanceFetcher replaces the HTTP balance fetcher.
func WithBalanceFetcher(f keypool.Fetcher) Option {
	return func(g *Gateway) {
		g.refresher = keypool.NewRefresher(g.pool, f, g.cfg.Balance.BatchSize, g.cfg.Balance.BatchDelay.Std())
	}
}

// WithLogger replaces the logger used for request and alert logging.
func WithLogger(l *monitoring.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithClock replaces time.Now for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New creates a gateway from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	secrets, err := keypool.Collect(cfg.Credentials.Keys, cfg.Credentials.KeysFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if len(secrets) == 0 {
		log.Warn().Msg("credential pool is empty; only requests with X-Endpoint-Authorization will succeed")
	}

	pool := keypool.New(secrets, keypool.Options{
		Algorithm:               cfg.Credentials.Algorithm,
		RemoveOnPaymentRequired: cfg.Credentials.RemoveOn402(),
		SkipThreshold:           cfg.Credentials.SkipThreshold,
	})

	g := &Gateway{
		cfg:        cfg,
		router:     NewRouter(config.NewRegistry(cfg), adapters.NewRegistry()),
		pool:       pool,
		keys:       store.NewFileKeyStore(cfg.Server.KeyFile),
		httpClient: &http.Client{Timeout: cfg.Upstream.Timeout.Std()},
		logger:     monitoring.NewFromZerolog(log.Logger),
		metrics:    monitoring.NewMetricsCollector(),
		tokens:     monitoring.NewTokenEstimator(cfg.Monitoring.EstimateTokens),
		startedAt:  time.Now(),
		now:        time.Now,
	}

	if cfg.Balance.Enabled() {
		g.refresher = keypool.NewRefresher(pool, &keypool.HTTPFetcher{
			Client:    &http.Client{Timeout: cfg.Balance.Timeout.Std()},
			URL:       cfg.Balance.URL,
			TotalPath: cfg.Balance.TotalPath,
			UsedPath:  cfg.Balance.UsedPath,
			UserAgent: cfg.Upstream.UserAgent,
		}, cfg.Balance.BatchSize, cfg.Balance.BatchDelay.Std())
	}

	for _, opt := range opts {
		opt(g)
	}

	g.requestLogger = monitoring.NewRequestLogger(g.logger, cfg.Monitoring.VerbosePayloads)
	g.alerts = monitoring.NewAlertManager(g.logger, monitoring.AlertConfig{
		HighLatencyThreshold: cfg.Monitoring.HighLatencyThreshold.Std(),
	})
	g.limiter = newRateLimiter(cfg.Server.RateLimit)

	g.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout.Std(),
		WriteTimeout:      cfg.Server.WriteTimeout.Std(),
		IdleTimeout:       cfg.Server.IdleTimeout.Std(),
	}

	return g, nil
}

// Handler builds the routed handler with the middleware chain applied.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(g.panicRecovery, g.loggingMiddleware, g.rateLimit, g.security, g.accessGate)

	r.Get("/health", g.handleHealth)
	r.Method(http.MethodGet, "/metrics", g.metrics.Handler())

	r.Get("/v1/models", g.handleModels)
	r.Post("/v1/chat/completions", g.handleChatCompletions)
	r.Post("/v1/responses", g.handleResponses)
	r.Post("/v1/messages", g.handleMessages)

	r.Get("/status", g.handleStatus)
	r.Post("/status/set-key", g.handleSetKey)
	r.Get("/status/balance/{index}", g.handleBalance)
	r.Get("/status/balances", g.handleBalances)
	r.Get("/status/skip-threshold", g.handleGetSkipThreshold)
	r.Post("/status/skip-threshold", g.handleSetSkipThreshold)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})
	return r
}

// Start listens and serves until Shutdown. It returns nil after a clean shutdown.
func (g *Gateway) Start() error {
	log.Info().
		Str("addr", g.server.Addr).
		Int("models", len(g.router.Models())).
		Int("credentials", g.pool.Len()).
		Bool("key_set", g.keys.IsSet()).
		Msg("gateway listening")

	if !g.keys.IsSet() {
		log.Warn().Msg("server key not set; visit /status to set the initial access key")
	}

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and background workers.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.limiter.stop()
	return g.server.Shutdown(ctx)
}

// Pool exposes the credential pool, used by the CLI and tests.
func (g *Gateway) Pool() *keypool.Pool {
	return g.pool
}
