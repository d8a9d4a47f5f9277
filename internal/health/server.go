// Package health exposes a lightweight HTTP diagnostics endpoint for
// container probes.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"wa_guard_bot/internal/logging"
)

const (
	mongoPingTimeout   = 2 * time.Second
	statsTimeout       = 2 * time.Second
	readHeaderTimeout  = 2 * time.Second
	healthListenPrefix = ":"
)

// MongoChecker defines the subset of MongoDB client behavior required for health.
type MongoChecker interface {
	Ping(ctx context.Context) error
}

// ConnChecker reports whether the WhatsApp connection is up.
type ConnChecker interface {
	IsConnected() bool
}

// StatsSource provides protection-registry counts for the diagnostics body.
type StatsSource interface {
	CountRecords(ctx context.Context) (int64, error)
	CountEnabled(ctx context.Context) (int64, error)
}

// Server hosts the health endpoint and owns the underlying HTTP server.
type Server struct {
	server *http.Server
	logger *logrus.Entry

	mongoChecker MongoChecker
	connChecker  ConnChecker
	stats        StatsSource
}

type response struct {
	Status   string `json:"status"`
	Mongo    string `json:"mongo"`
	WhatsApp string `json:"whatsapp"`
	Records  *int64 `json:"records,omitempty"`
	Enabled  *int64 `json:"enabled,omitempty"`
}

// NewServer constructs a health server that exposes GET /healthz on the
// provided port.
func NewServer(port int, mongoChecker MongoChecker, connChecker ConnChecker, stats StatsSource, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:       logger,
		mongoChecker: mongoChecker,
		connChecker:  connChecker,
		stats:        stats,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "health_stopped").Info("health server stopped")
			return nil
		}

		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := response{
		Status:   "ok",
		Mongo:    s.mongoStatus(c.Request.Context()),
		WhatsApp: s.whatsappStatus(),
	}

	if resp.Mongo != "ok" || resp.WhatsApp != "ok" {
		resp.Status = "degraded"
	}

	s.fillStats(c.Request.Context(), &resp)

	c.JSON(http.StatusOK, resp)
}

func (s *Server) mongoStatus(ctx context.Context) string {
	if s.mongoChecker == nil {
		s.logger.WithField("event", "health_mongo_missing").Warn("mongo checker is not configured for health endpoint")
		return "error"
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
	defer cancel()

	if err := s.mongoChecker.Ping(pingCtx); err != nil {
		s.logger.WithField("event", "health_mongo_error").WithError(err).Warn("mongo ping failed during health check")
		return "error"
	}

	return "ok"
}

func (s *Server) whatsappStatus() string {
	if s.connChecker == nil || !s.connChecker.IsConnected() {
		return "disconnected"
	}
	return "ok"
}

func (s *Server) fillStats(ctx context.Context, resp *response) {
	if s.stats == nil {
		return
	}

	statsCtx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	records, err := s.stats.CountRecords(statsCtx)
	if err != nil {
		s.logger.WithField("event", "health_stats_error").WithError(err).Debug("could not count protection records")
		return
	}

	enabled, err := s.stats.CountEnabled(statsCtx)
	if err != nil {
		s.logger.WithField("event", "health_stats_error").WithError(err).Debug("could not count enabled records")
		return
	}

	resp.Records = &records
	resp.Enabled = &enabled
}
