package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/tradeguard/component"
	"github.com/kbukum/tradeguard/logger"
)

const shutdownTimeout = 5 * time.Second

// Server serves the status API over HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	config     Config
	engine     *gin.Engine
	httpServer *http.Server
	log        *logger.Logger

	mu       sync.Mutex
	listener net.Listener
}

// Option configures a Server.
type Option func(*options)

type options struct {
	clock clock.Clock
	log   *logger.Logger
}

// WithClock sets the clock used for response timestamps.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// New builds a status server for target. Call Start to listen.
func New(cfg Config, target Target, opts ...Option) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("statusapi: %w", err)
	}
	o := options{clock: clock.New(), log: logger.WithComponent("statusapi")}
	for _, opt := range opts {
		opt(&o)
	}

	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(recovery(o.log), requestID(), requestLogger(o.log))
	NewHandlers(target, cfg.ResetToken, o.clock, o.log).Register(engine.Group(cfg.BasePath))

	h2s := &http2.Server{IdleTimeout: cfg.IdleTimeout}
	return &Server{
		config: cfg,
		engine: engine,
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           h2c.NewHandler(engine, h2s),
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		log: o.log,
	}, nil
}

// Handler returns the root handler, for mounting or tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Name implements component.Component.
func (s *Server) Name() string { return "statusapi" }

// Start binds the port and serves in the background. It returns once the
// listener is bound.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("statusapi: bind %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server stopped", logger.Fields(logger.FieldError, err.Error()))
		}
	}()
	s.log.Info("status server started", logger.Fields("addr", ln.Addr().String(), "base_path", s.config.BasePath))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.listener != nil
	s.listener = nil
	s.mu.Unlock()
	if !started {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("statusapi: shutdown: %w", err)
	}
	s.log.Info("status server stopped")
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Health implements component.Component.
func (s *Server) Health(context.Context) component.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return component.Health{Name: s.Name(), Status: component.StatusUnhealthy, Message: "not listening"}
	}
	return component.Health{Name: s.Name(), Status: component.StatusHealthy}
}
