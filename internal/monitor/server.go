package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"adaptive-trader/internal/policy"
	"adaptive-trader/internal/risk"
	"adaptive-trader/internal/state"
	"adaptive-trader/pkg/store"
)

// StateReporter exposes the adaptation controller's current state.
type StateReporter interface {
	State() string
}

// TradeStats reports cumulative execution statistics.
type TradeStats interface {
	Stats() (trades uint64, realizedPnL float64)
}

// Server is the read-only status API.
type Server struct {
	book      *policy.Book
	portfolio *state.Portfolio
	gate      *risk.Gate
	reporter  StateReporter
	stats     TradeStats
	store     *store.Store
	log       zerolog.Logger
	srv       *http.Server
	started   time.Time
}

// NewServer wires the status endpoints.
func NewServer(port string, book *policy.Book, portfolio *state.Portfolio, gate *risk.Gate, reporter StateReporter, stats TradeStats, st *store.Store, log zerolog.Logger) *Server {
	s := &Server{
		book:      book,
		portfolio: portfolio,
		gate:      gate,
		reporter:  reporter,
		stats:     stats,
		store:     st,
		log:       log.With().Str("component", "monitor").Logger(),
		started:   time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/policy", s.handlePolicy)
	api.GET("/positions", s.handlePositions)
	api.GET("/audit", s.handleAudit)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.srv = &http.Server{Addr: ":" + port, Handler: router}
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("status server stopped")
		}
	}()
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	active := s.book.Active()
	body := gin.H{
		"state":          s.reporter.State(),
		"policy_version": active.Number,
		"accuracy":       active.Accuracy,
		"uptime":         time.Since(s.started).String(),
		"risk":           s.gate.Metrics(),
		"exposure":       s.portfolio.Exposure(),
		"server_time":    time.Now(),
	}
	if s.stats != nil {
		trades, pnl := s.stats.Stats()
		body["trades"] = trades
		body["realized_pnl"] = pnl
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handlePolicy(c *gin.Context) {
	active := s.book.Active()
	c.JSON(http.StatusOK, gin.H{
		"number":     active.Number,
		"created_at": active.CreatedAt,
		"accuracy":   active.Accuracy,
		"window":     active.Pattern.Window,
		"embedding":  active.Pattern.EmbeddingSize,
		"levels":     active.Policy.Levels,
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.portfolio.Positions())
}

func (s *Server) handleAudit(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, []store.RiskRecord{})
		return
	}
	records, err := s.store.RecentRiskRecords(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}
