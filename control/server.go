// Package control implements the gin HTTP control surface (§6), adapted
// from the teacher's order/position/activity controllers. The handlers
// are thin: every decision lives behind interfaces.ControlAPI, so this
// package owns transport concerns only (routing, status codes, JSON).
package control

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"dayrunner/interfaces"
)

// Server wraps a gin.Engine around an interfaces.ControlAPI.
type Server struct {
	engine *gin.Engine
	api    interfaces.ControlAPI
	log    *logrus.Logger

	equityGauge        prometheus.Gauge
	openPositionsGauge prometheus.Gauge
	recoveryModeGauge  prometheus.Gauge
}

// New builds a Server exposing the routes named in §6: control
// enable/disable/flatten/status/sync, and read-only positions/orders/
// metrics/position-summary.
func New(api interfaces.ControlAPI, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	registry := prometheus.NewRegistry()
	s := &Server{
		api: api,
		log: log,
		equityGauge: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "dayrunner_equity", Help: "Account equity as of the last metrics snapshot.",
		}),
		openPositionsGauge: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "dayrunner_open_positions", Help: "Count of open positions as of the last metrics snapshot.",
		}),
		recoveryModeGauge: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "dayrunner_recovery_mode", Help: "1 if the engine is in recovery mode, else 0.",
		}),
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/control/enable", s.handleEnable)
	r.POST("/control/disable", s.handleDisable)
	r.POST("/control/flatten", s.handleFlatten)
	r.GET("/control/status", s.handleStatus)
	r.POST("/control/sync", s.handleSync)
	r.GET("/positions", s.handlePositions)
	r.GET("/orders", s.handleOrders)
	r.GET("/metrics", s.handleMetrics)
	r.GET("/positions/:symbol/summary", s.handlePositionSummary)
	r.GET("/internal/prometheus", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	s.engine = r
	return s
}

// Run starts the HTTP server on addr, blocking until it errors. The
// server it starts is not exposed, so it cannot be shut down gracefully;
// Handler serves that case.
func (s *Server) Run(addr string) error {
	s.log.WithField("addr", addr).Info("control: starting HTTP server")
	return s.engine.Run(addr)
}

// Handler exposes the underlying http.Handler for tests and custom
// server lifecycle management (graceful shutdown via http.Server).
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleEnable(c *gin.Context) {
	s.api.EnableTrading()
	c.JSON(http.StatusOK, gin.H{"trading_enabled": true})
}

func (s *Server) handleDisable(c *gin.Context) {
	s.api.DisableTrading()
	c.JSON(http.StatusOK, gin.H{"trading_enabled": false})
}

func (s *Server) handleFlatten(c *gin.Context) {
	if err := s.api.FlattenAll(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flattened": true})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.api.GetEngineStatus())
}

func (s *Server) handleSync(c *gin.Context) {
	if err := s.api.SyncState(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": true})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.api.GetPositions())
}

func (s *Server) handleOrders(c *gin.Context) {
	orders, err := s.api.GetOrders()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleMetrics(c *gin.Context) {
	snap := s.api.GetMetrics()

	equity, _ := snap.Equity.Float64()
	s.equityGauge.Set(equity)
	s.openPositionsGauge.Set(float64(snap.OpenPositions))
	if snap.RecoveryMode {
		s.recoveryModeGauge.Set(1)
	} else {
		s.recoveryModeGauge.Set(0)
	}

	c.JSON(http.StatusOK, snap)
}

func (s *Server) handlePositionSummary(c *gin.Context) {
	symbol := c.Param("symbol")
	summary, err := s.api.GetPositionSummary(symbol)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
