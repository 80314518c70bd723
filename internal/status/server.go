// Package status serves a read-only JSON view of the ledger and the metrics endpoint.
package status

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/spread_engine/internal/models"
	"github.com/eddiefleurent/spread_engine/internal/storage"
)

// PositionSource is the read side of the position ledger.
type PositionSource interface {
	All() []models.Position
	Get(id string) (models.Position, bool)
}

// Server exposes engine state over HTTP.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	ledger    PositionSource
	metrics   http.Handler
	logger    logrus.FieldLogger
	blocked   func() bool
	now       func() time.Time
	addr      string
	authToken string
}

type Config struct {
	Addr      string
	AuthToken string
}

// PositionView is the JSON shape of one position.
type PositionView struct {
	ID          string       `json:"id"`
	Underlying  string       `json:"underlying"`
	Strategy    string       `json:"strategy"`
	State       string       `json:"state"`
	Description string       `json:"description"`
	ExitCause   string       `json:"exit_cause,omitempty"`
	Expiration  string       `json:"expiration"`
	EntryDate   time.Time    `json:"entry_date,omitempty"`
	ExitDate    time.Time    `json:"exit_date,omitempty"`
	Legs        []models.Leg `json:"legs"`
	DTE         int          `json:"dte"`
	Quantity    int          `json:"quantity"`
	EntryCredit float64      `json:"entry_credit"`
	LastMark    float64      `json:"last_mark"`
	PnL         float64      `json:"pnl"` // realized when closed, unrealized from the last mark otherwise
	PnLPercent  float64      `json:"pnl_percent"`
	MaxLoss     float64      `json:"max_loss"`
	IsProfit    bool         `json:"is_profit"`
}

// Option customizes a Server.
type Option func(*Server)

// WithEntriesBlocked reports reconciliation blocking on /health.
func WithEntriesBlocked(fn func() bool) Option {
	return func(s *Server) { s.blocked = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(cfg Config, ledger PositionSource, metrics http.Handler, logger logrus.FieldLogger, opts ...Option) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		ledger:    ledger,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/positions/{id}", s.handleGetPosition)
	s.router.Get("/api/stats", s.handleGetStats)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.Header.Get("X-Auth-Token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting status server on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().Unix(),
	}
	if s.blocked != nil {
		health["entries_blocked"] = s.blocked()
	}
	s.writeJSON(w, health)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	positions := s.ledger.All()

	views := make([]PositionView, 0, len(positions))
	for i := range positions {
		if !all && !positions[i].IsActive() {
			continue
		}
		views = append(views, s.convertPositionToView(&positions[i]))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	position, found := s.ledger.Get(id)
	if !found {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.convertPositionToView(&position))
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, storage.ComputeStatistics(s.ledger.All()))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) convertPositionToView(pos *models.Position) PositionView {
	pnl := pos.RealizedPnL
	if pos.State != models.StateClosed {
		pnl = 0
		if pos.State != models.StatePending && pos.State != models.StateRejected && !pos.LastMarkAt.IsZero() {
			pnl = pos.DollarPnL(pos.UnrealizedPnL(pos.LastMark))
		}
	}
	pnlPercent := 0.0
	if credit := pos.DollarPnL(pos.EntryCredit); credit > 0 {
		pnlPercent = pnl / credit * 100
	}

	return PositionView{
		ID:          pos.ID,
		Underlying:  pos.Underlying,
		Strategy:    pos.Strategy.String(),
		State:       string(pos.State),
		Description: pos.GetStateDescription(),
		ExitCause:   pos.ExitCause,
		Expiration:  pos.Expiration.Format("2006-01-02"),
		EntryDate:   pos.EntryDate,
		ExitDate:    pos.ExitDate,
		Legs:        pos.Legs,
		DTE:         pos.CalculateDTE(s.now()),
		Quantity:    pos.Quantity,
		EntryCredit: pos.EntryCredit,
		LastMark:    pos.LastMark,
		PnL:         pnl,
		PnLPercent:  pnlPercent,
		MaxLoss:     pos.MaxLoss(),
		IsProfit:    pnl > 0,
	}
}
