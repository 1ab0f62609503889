// Package api exposes LeadPipe over HTTP: the gateway webhooks, a status page
// and a health check. Run wires every module together and serves until the
// context is cancelled.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/gin-gonic/gin"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	ShutdownTimeout time.Duration
	Transport       string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithShutdownTimeout bounds how long in-flight requests get on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// WithTransportName labels the health report with the active transport.
func WithTransportName(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// Server is the HTTP front of LeadPipe.
type Server struct {
	msgService messaging.Service
	router     *gin.Engine
	addr       string
	shutdown   time.Duration
	transport  string
	started    time.Time
}

// NewServer builds the gin router for msgService.
func NewServer(msgService messaging.Service, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(), gin.CustomRecovery(func(c *gin.Context, recovered any) {
		slog.Error("Server: handler panic", "path", c.Request.URL.Path, "panic", recovered)
		writeJSONResponse(c, http.StatusInternalServerError, models.Error("Internal server error"))
	}))

	s := &Server{
		msgService: msgService,
		router:     router,
		addr:       cfg.Addr,
		shutdown:   cfg.ShutdownTimeout,
		transport:  cfg.Transport,
		started:    time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("LeadPipe API running", "addr", s.addr, "transport", s.transport)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	slog.Info("LeadPipe API stopped")
	return nil
}

// requestLogger logs each request through slog at debug level.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("Server: request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
