package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scout-dashboard/backend/internal/api/handlers"
	"github.com/scout-dashboard/backend/internal/cache"
	"github.com/scout-dashboard/backend/internal/datasource"
	"github.com/scout-dashboard/backend/internal/insights"
	"github.com/scout-dashboard/backend/internal/llm"
	"github.com/scout-dashboard/backend/internal/metrics"
	"github.com/scout-dashboard/backend/internal/middleware/ratelimit"
	"github.com/scout-dashboard/backend/internal/middleware/security"
	"github.com/scout-dashboard/backend/internal/middleware/validation"
	"github.com/scout-dashboard/backend/internal/nlq"
	"github.com/scout-dashboard/backend/internal/patterns"
	"github.com/scout-dashboard/backend/internal/storage/sqlite"
	"github.com/scout-dashboard/backend/pkg/config"
	appLogger "github.com/scout-dashboard/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Scout NLQ API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init()
	collector := metrics.NewCollector()
	sink := metrics.Safe(metrics.Tee(metrics.PrometheusSink{}, collector), appLogger.Named("metrics"))

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var (
		source   datasource.Source
		database handlers.Pinger
	)
	if cfg.Database.URL != "" {
		pg, err := datasource.NewPostgresSource(ctx, cfg.Database.URL, sink, appLogger.Named("datasource"))
		if err != nil {
			appLogger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer pg.Close()
		source, database = pg, pg
	} else {
		appLogger.Warn("No database URL configured, chart data and live insights are disabled")
	}

	store := newCacheStore(ctx, cfg)
	queryCache := cache.NewQueryCache(store, appLogger.Named("cache"))

	window := time.Duration(cfg.NLQ.RateLimitWindowSec) * time.Second
	queryLimiter := ratelimit.New(ratelimit.Config{Window: window, Logger: appLogger.Named("ratelimit")})
	defer queryLimiter.Stop()
	tokenBudget := ratelimit.New(ratelimit.Config{Window: time.Hour, Logger: appLogger.Named("token_budget")})
	defer tokenBudget.Stop()

	engine := insights.NewEngine(insights.DefaultMatchers(), source, insights.Config{
		CacheTTL: time.Duration(cfg.NLQ.InsightCacheTTLSec) * time.Second,
		Logger:   appLogger.Named("insights"),
		Metrics:  sink,
	})
	if source != nil {
		warmCtx, warmCancel := context.WithTimeout(ctx, 15*time.Second)
		if err := engine.Warm(warmCtx); err != nil {
			appLogger.Warn("Insight pre-warm incomplete", zap.Error(err))
		}
		warmCancel()
	}
	engine.Start(ctx)
	go drainRefreshErrors(ctx, engine)

	provider := newProvider(cfg)

	svc, err := nlq.NewService(nlq.Config{
		Timeout:             cfg.NLQ.Timeout(),
		MaxRetries:          cfg.NLQ.MaxRetries,
		BaseDelay:           time.Duration(cfg.NLQ.BaseDelayMs) * time.Millisecond,
		MaxDelay:            time.Duration(cfg.NLQ.MaxDelayMs) * time.Millisecond,
		CacheTTL:            time.Duration(cfg.NLQ.CacheTTLSeconds) * time.Second,
		ConfidenceThreshold: cfg.NLQ.ConfidenceThreshold,
		RequestsPerWindow:   cfg.NLQ.RateLimitPerHour,
		TokensPerRequest:    cfg.NLQ.TokenBudget.PerRequest,
		TokensPerUserWindow: cfg.NLQ.TokenBudget.PerUserPerHour,
	}, nlq.Dependencies{
		Provider:    provider,
		Insights:    engine,
		Cache:       queryCache,
		Limiter:     queryLimiter,
		TokenBudget: tokenBudget,
		History:     sqliteClient,
		Metrics:     sink,
		Logger:      appLogger.Named("nlq"),
	})
	if err != nil {
		appLogger.Fatal("Failed to create NLQ service", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		ConnectOrigins: strings.Split(cfg.Server.AllowedOrigins, ","),
		IsDevelopment:  cfg.Server.Development,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID, X-Request-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(metrics.Middleware(sink))

	app.Get("/metrics", metrics.MetricsHandler())

	queryHandler := handlers.NewQueryHandler(handlers.QueryHandlerConfig{
		Service:           svc,
		Source:            source,
		Matcher:           patterns.Default(),
		History:           sqliteClient,
		Insights:          engine,
		ConcurrentTimeout: cfg.NLQ.ConcurrentTimeout(),
		Logger:            appLogger.Named("api"),
	})
	healthHandler := handlers.NewHealthHandler(database, source, sqliteClient, datasource.DefaultSLAs)
	metricsHandler := handlers.NewMetricsHandler(collector, sqliteClient, cfg.Metrics.Secret, appLogger.Named("api"))
	wsHandler := handlers.NewWebSocketHandler(svc, cfg.NLQ.Timeout(), appLogger.Named("ws"))

	api := app.Group("/api/v1")
	if cfg.Server.RequestsPerMinute > 0 {
		apiLimiter := ratelimit.New(ratelimit.Config{Window: time.Minute, Logger: appLogger.Named("ratelimit")})
		defer apiLimiter.Stop()
		api.Use(apiLimiter.Middleware(cfg.Server.RequestsPerMinute))
	}
	api.Use(validation.Middleware(validation.Config{
		QueryPaths: []string{"/api/v1/nlq"},
		Logger:     appLogger.Named("validation"),
	}))

	api.Post("/nlq", queryHandler.HandleQuery)
	api.Get("/nlq/suggestions", queryHandler.GetSuggestions)
	api.Get("/nlq/history", queryHandler.GetQueryHistory)
	api.Get("/nlq/insights", queryHandler.GetInsights)
	api.Get("/health", healthHandler.HandleHealth)
	api.Get("/metrics", metricsHandler.HandleMetrics)
	api.Get("/ws", wsHandler.Upgrade, websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting",
		zap.String("address", addr),
		zap.String("provider", provider.Name()),
		zap.Bool("database", source != nil),
	)

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			appLogger.Warn("Failed to close cache store", zap.Error(err))
		}
	}
	appLogger.Info("Server stopped")
}

func newCacheStore(ctx context.Context, cfg *config.Config) cache.Store {
	if cfg.Redis.Enabled {
		store, err := cache.NewRedisStore(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, appLogger.Named("cache"))
		if err == nil {
			return store
		}
		appLogger.Warn("Redis unavailable, using in-memory query cache", zap.Error(err))
	}
	return cache.NewMemoryStore(cfg.NLQ.CacheMaxEntries)
}

func newProvider(cfg *config.Config) llm.Provider {
	if cfg.LLM.Provider == "openai" {
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.NLQ.TokenBudget.PerRequest,
			Logger:      appLogger.Named("llm"),
		})
	}
	maxDelay := time.Duration(cfg.LLM.SimulatedDelayMs) * time.Millisecond
	return llm.NewSimulatedProvider(maxDelay/2, maxDelay)
}

func drainRefreshErrors(ctx context.Context, engine *insights.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-engine.Errors():
			appLogger.Warn("Live insight refresh failed",
				zap.String("matcher", e.MatcherID),
				zap.Time("at", e.At),
				zap.Error(e.Err),
			)
		}
	}
}
