// Package httpserver exposes the DataBot status API and its Prometheus
// self-metrics over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Guliveer/databot/internal/databot"
)

// StatusProvider is the narrow DataBot contract required by the API.
type StatusProvider interface {
	Status() databot.Status
}

// Server serves /api/health, /api/status and /metrics.
type Server struct {
	addr      string
	bot       StatusProvider
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a server. gatherer may be nil, in which case /metrics is
// not registered.
func NewServer(addr string, bot StatusProvider, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if addr == "" {
		addr = "127.0.0.1:9100"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		bot:      bot,
		gatherer: gatherer,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/status", s.handleStatus)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Start begins serving HTTP requests in the background.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status API stopped", zap.Error(err))
		}
	}()
	s.logger.Info("Status API listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.bot.Status()
	code := http.StatusOK
	status := "ok"
	if st.State != databot.StateRunning && st.State != databot.StateCreated {
		code = http.StatusServiceUnavailable
		status = "unavailable"
	}
	c.JSON(code, gin.H{
		"status": status,
		"state":  st.State,
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.bot.Status())
}
