package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/oprelay/internal/api/http"
	"github.com/GriffinCanCode/oprelay/internal/api/middleware"
	"github.com/GriffinCanCode/oprelay/internal/api/ws"
	"github.com/GriffinCanCode/oprelay/internal/gateway"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/config"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/oprelay/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/oprelay/internal/relay"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

// Server wraps the relay host HTTP server and its dependencies
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	core       *relay.Core
	pages      *ws.Handler
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
	closeStore func() error
}

// NewServer creates a new relay host. The backend is not contacted until
// Run or the first call.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	logger.Info("Initializing oprelay",
		zap.String("port", cfg.Server.Port),
		zap.String("transport", cfg.Backend.Transport),
		zap.String("backend", cfg.BackendSettings().Address()),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("oprelay", logger.Logger)

	store, closeStore, err := settings.Open(cfg.Settings.Path, cfg.BackendSettings())
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}
	if cfg.Settings.Path != "" {
		logger.Info("Using persisted settings", zap.String("path", cfg.Settings.Path))
	}

	gw, err := NewGateway(cfg, logger.Component("gateway"))
	if err != nil {
		closeStore()
		tracer.Close()
		return nil, err
	}

	hub := ws.NewHub()
	core, err := relay.New(relay.Config{
		Gateway:  gw,
		Store:    store,
		Renderer: relay.Renderers{relay.LogRenderer{Logger: logger.Component("renderer")}, hub},
		Logger:   logger.Logger,
		Metrics:  metrics,
		Tracer:   tracer,
		Options: relay.Options{
			SendTimeout:   cfg.Relay.SendTimeout,
			ProbeInterval: cfg.Relay.ProbeInterval,
			RetryAttempts: cfg.Relay.RetryAttempts,
			RetryInterval: cfg.Relay.RetryInterval,
		},
	})
	if err != nil {
		gw.Close()
		closeStore()
		tracer.Close()
		return nil, err
	}

	pages := ws.NewHandler(ws.Config{
		Upstream:    core,
		Hub:         hub,
		Logger:      logger.Logger,
		Metrics:     metrics,
		CallTimeout: cfg.Relay.CallTimeout,
	})

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(core, hub)

	// Register routes
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/readiness", handlers.Readiness)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Page sessions
	router.GET("/page", pages.HandleConnection)

	// Applet operations
	applets := router.Group("/applets")
	applets.POST("/load", handlers.LoadApplet)
	applets.POST("/:name/unload", handlers.UnloadApplet)
	applets.POST("/:name/invoke", handlers.InvokeApplet)
	applets.POST("/:name/focus", handlers.FocusApplet)
	applets.POST("/:name/blur", handlers.BlurApplet)
	applets.POST("/:name/move", handlers.MoveApplet)

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		core:       core,
		pages:      pages,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
		tracer:     tracer,
		closeStore: closeStore,
	}, nil
}

// NewGateway builds the backend gateway selected by cfg.
func NewGateway(cfg *config.Config, logger *zap.Logger) (gateway.Gateway, error) {
	switch cfg.Backend.Transport {
	case config.TransportHTTP:
		return gateway.NewHTTP(gateway.HTTPConfig{
			Timeout: cfg.Relay.SendTimeout,
			Logger:  logger,
		}), nil
	case config.TransportNative:
		hosts := map[string]string{cfg.Backend.NativeService: cfg.Backend.NativeHostPath}
		return gateway.NewDuplex(gateway.DuplexConfig{
			Kind:         config.TransportNative,
			Dial:         gateway.NativeDialer(cfg.Backend.NativeService, hosts, logger),
			ReplyTimeout: cfg.Backend.ReplyTimeout,
			Logger:       logger,
		}), nil
	case config.TransportWebsocket:
		return gateway.NewDuplex(gateway.DuplexConfig{
			Kind:         config.TransportWebsocket,
			Dial:         gateway.WebsocketDialer(cfg.Backend.HandshakeTimeout),
			ReplyTimeout: cfg.Backend.ReplyTimeout,
			Logger:       logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend transport %q", cfg.Backend.Transport)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Core returns the relay core.
func (s *Server) Core() *relay.Core {
	return s.core
}

// Run starts probing the backend and serves HTTP until ctx ends or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.core.Start(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := multierr.Combine(
		s.httpServer.Shutdown(ctx),
		s.core.Close(),
		s.closeStore(),
	)
	s.tracer.Close()
	if err != nil {
		s.logger.Error("Shutdown finished with errors", zap.Error(err))
	}

	// Sync logger before exit
	s.logger.Sync()

	return err
}
