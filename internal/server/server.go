// Package server exposes node diagnostics over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/cellsync/internal/monitor"
	"github.com/danmuck/cellsync/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

type Config struct {
	Addr        string
	NodeID      string
	CORSOrigins []string
	// AdminToken guards the mutating monitor endpoints. Empty leaves them open.
	AdminToken string
}

// StatusFunc returns the JSON body for GET /status.
type StatusFunc func() any

type Server struct {
	cfg     Config
	router  *gin.Engine
	hub     *Hub
	monitor *monitor.Monitor
	metrics *observability.Metrics
	status  StatusFunc
	logger  zerolog.Logger
	started time.Time
}

func New(cfg Config, logger zerolog.Logger, metrics *observability.Metrics, mon *monitor.Monitor, hub *Hub, status StatusFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	logger = observability.Component(logger, "server")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(metrics, cfg.NodeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "PUT", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	if status == nil {
		status = func() any { return gin.H{} }
	}
	s := &Server{
		cfg:     cfg,
		router:  r,
		hub:     hub,
		monitor: mon,
		metrics: metrics,
		status:  status,
		logger:  logger,
		started: time.Now(),
	}
	if hub != nil {
		hub.SetAllowedOrigins(cfg.CORSOrigins)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve listens on cfg.Addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		if s.hub != nil {
			s.hub.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server.Serve diagnostics listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
