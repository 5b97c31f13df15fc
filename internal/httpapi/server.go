// Package httpapi exposes the query surface over HTTP: a thin adapter
// that parses request parameters, calls a core function, and serializes
// the result. It carries no business logic of its own.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/drewstake/topsignal/internal/apperr"
	"github.com/drewstake/topsignal/internal/metrics"
	"github.com/drewstake/topsignal/internal/tradeevent"
	"github.com/drewstake/topsignal/internal/upstream"
)

// Queryer is the subset of query.Service the HTTP layer depends on.
type Queryer interface {
	ListAccounts(ctx context.Context) ([]upstream.AccountSummary, error)
	RefreshAccountTrades(ctx context.Context, accountID int64, start, end *time.Time) error
	ListTradeEvents(ctx context.Context, accountID int64, limit int, start, end *time.Time, symbolQuery string) ([]tradeevent.Event, error)
	SummarizeTradeEvents(ctx context.Context, accountID int64, start, end *time.Time) (metrics.TradeSummary, error)
	GetTradeEventPnLCalendar(ctx context.Context, accountID int64, start, end *time.Time) ([]metrics.DayPnL, error)
}

// Server is the queryapi HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	svc       Queryer
	log       *logrus.Logger
	authToken string
}

// Config configures a Server.
type Config struct {
	ListenAddr string
	AuthToken  string
}

// New builds a Server with its routes pre-registered.
func New(cfg Config, svc Queryer, log *logrus.Logger) *Server {
	s := &Server{router: chi.NewRouter(), svc: svc, log: log, authToken: cfg.AuthToken}
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/api/accounts", s.handleListAccounts)
		r.Post("/api/accounts/{accountID}/refresh", s.handleRefresh)
		r.Get("/api/accounts/{accountID}/trades", s.handleListTrades)
		r.Get("/api/accounts/{accountID}/summary", s.handleSummary)
		r.Get("/api/accounts/{accountID}/calendar", s.handleCalendar)
	})
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := s.log.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"remote_ip": r.RemoteAddr,
		})
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		entry.WithFields(logrus.Fields{
			"status":   wrapped.Status(),
			"bytes":    wrapped.BytesWritten(),
			"duration": time.Since(start),
		}).Info("http request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
		if !s.isValidToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.authToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.ListAccounts(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.svc.RefreshAccountTrades(r.Context(), accountID, start, end); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := 500
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := s.svc.ListTradeEvents(r.Context(), accountID, limit, start, end, r.URL.Query().Get("symbol"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	summary, err := s.svc.SummarizeTradeEvents(r.Context(), accountID, start, end)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	calendar, err := s.svc.GetTradeEventPnLCalendar(r.Context(), accountID, start, end)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calendar)
}

// writeServiceError classifies an error from the query surface by cause,
// not by type, and reports it at the matching status class: configuration
// failures as 500, validation failures as 400, everything else (upstream
// failures) as 502.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	s.log.WithError(err).Warn("query surface error")

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, apperr.ErrConfiguration):
		status = http.StatusInternalServerError
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func accountIDFromPath(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "accountID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid accountID %q: %w", raw, apperr.ErrValidation)
	}
	if id <= 0 {
		return 0, fmt.Errorf("accountID must be > 0, got %d: %w", id, apperr.ErrValidation)
	}
	return id, nil
}

func parseRange(r *http.Request) (*time.Time, *time.Time, error) {
	start, err := parseTimeParam(r, "start")
	if err != nil {
		return nil, nil, err
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	t = t.UTC()
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ListenAndServe starts the server and blocks until Shutdown is called.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
