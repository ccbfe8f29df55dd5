package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mentorline/internal/api"
	"mentorline/internal/chat"
	"mentorline/internal/config"
	"mentorline/internal/database"
	"mentorline/internal/hub"
	"mentorline/internal/metrics"
	"mentorline/internal/presence"
	"mentorline/internal/session"
	"mentorline/internal/signaling"
	"mentorline/internal/websocket"
	"mentorline/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	dbManager  *database.Manager
	redisStore *presence.RedisStore
	registry   *websocket.Registry
	directory  *session.Manager
	chat       *chat.Manager
	calls      *signaling.Engine
	presence   *presence.Tracker
	eventHub   *hub.Hub
	apiServer  *api.Server
	handler    http.Handler
	httpServer *http.Server
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Presence store → Registry → Directory → Chat → Signaling → Presence → Hub → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	dbManager, err := database.NewManager(cfg.DatabaseSettings(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	if err := dbManager.Migrate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info("database migrations applied", zap.String("path", cfg.Database.Path))

	// STEP 2: Select the last-active store
	var lastActive interfaces.LastActiveStore = dbManager
	var redisStore *presence.RedisStore
	if cfg.Presence.Backend == config.PresenceBackendRedis {
		redisStore, err = presence.NewRedisStore(ctx, presence.RedisOptions{
			Addr:      cfg.Presence.RedisAddr,
			Password:  cfg.Presence.RedisPassword,
			DB:        cfg.Presence.RedisDB,
			KeyPrefix: cfg.Presence.RedisKeyPrefix,
			TTL:       cfg.Presence.RedisTTL,
		})
		if err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to connect presence store: %w", err)
		}
		lastActive = redisStore
		logger.Info("presence stored in redis", zap.String("addr", cfg.Presence.RedisAddr))
	}

	// STEP 3: Metrics registry; a nil recorder disables collection
	promRegistry := prometheus.NewRegistry()
	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		promRegistry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
		recorder = metrics.New(promRegistry)
	}

	// STEP 4: Connection registry and chat directory
	registry := websocket.NewRegistry()
	directory := session.NewManager(dbManager, logger)

	// STEP 5: Chat channel, call signaling and presence share the registry
	chatManager := chat.NewManager(registry, directory, dbManager, chat.Config{
		RateLimit:  cfg.Chat.RateLimit,
		RateWindow: cfg.Chat.RateWindow,
	}, recorder, logger)
	calls := signaling.NewEngine(registry, dbManager, signaling.Config{
		DedupWindow: cfg.Call.DedupWindow,
		RingTimeout: cfg.Call.RingTimeout,
	}, recorder, logger)
	tracker := presence.NewTracker(registry, directory, dbManager, lastActive, logger)

	// STEP 6: Event hub routes inbound frames
	eventHub := hub.NewHub(registry, tracker, chatManager, calls, recorder, logger)

	// STEP 7: HTTP API for operators and collaborators
	deps := api.Dependencies{
		Health:    dbManager,
		Directory: directory,
		Chats:     chatManager,
		Presence:  tracker,
		Calls:     dbManager,
		Registry:  registry,
		Signaling: calls,
		Sessions:  directory,
	}
	if redisStore != nil {
		deps.PresenceStore = redisStore
	}
	apiServer := api.NewServer(deps, logger)

	// STEP 8: WebSocket handler
	wsHandler := websocket.NewHandler(eventHub, websocket.HandlerConfig{
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		PingInterval:    cfg.WebSocket.PingInterval,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
	}, logger)

	// STEP 9: Setup HTTP server with API, metrics and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		dbManager:  dbManager,
		redisStore: redisStore,
		registry:   registry,
		directory:  directory,
		chat:       chatManager,
		calls:      calls,
		presence:   tracker,
		eventHub:   eventHub,
		apiServer:  apiServer,
		handler:    mux,
		httpServer: httpServer,
	}, nil
}

// Start begins application execution
// Hub starts first to handle events, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting mentorline", zap.String("addr", app.httpServer.Addr))

	// STEP 1: Start event hub (background maintenance)
	if err := app.eventHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	// STEP 2: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		_ = app.eventHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("mentorline started")
		return nil
	case <-ctx.Done():
		_ = app.eventHub.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Presence store → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down mentorline")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// STEP 2: Stop event processing
	if err := app.eventHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Warn("event hub shutdown error", zap.Error(err))
	}

	// STEP 3: Close presence store and database connections
	if app.redisStore != nil {
		if err := app.redisStore.Close(); err != nil {
			app.logger.Warn("presence store shutdown error", zap.Error(err))
		}
	}
	if err := app.dbManager.Close(); err != nil {
		app.logger.Warn("database shutdown error", zap.Error(err))
	}

	app.logger.Info("mentorline shutdown complete")
	return nil
}

// Handler returns the root HTTP handler, for serving without ListenAndServe
func (app *Application) Handler() http.Handler {
	return app.handler
}

// Hub returns the event hub
func (app *Application) Hub() *hub.Hub {
	return app.eventHub
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
