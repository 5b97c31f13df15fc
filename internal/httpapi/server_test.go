package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drewstake/topsignal/internal/apperr"
	"github.com/drewstake/topsignal/internal/metrics"
	"github.com/drewstake/topsignal/internal/tradeevent"
	"github.com/drewstake/topsignal/internal/upstream"
)

type fakeQueryer struct {
	accounts     []upstream.AccountSummary
	summary      metrics.TradeSummary
	refreshError error
}

func (f *fakeQueryer) ListAccounts(context.Context) ([]upstream.AccountSummary, error) {
	return f.accounts, nil
}

func (f *fakeQueryer) RefreshAccountTrades(context.Context, int64, *time.Time, *time.Time) error {
	return f.refreshError
}

func (f *fakeQueryer) ListTradeEvents(context.Context, int64, int, *time.Time, *time.Time, string) ([]tradeevent.Event, error) {
	return nil, nil
}

func (f *fakeQueryer) SummarizeTradeEvents(context.Context, int64, *time.Time, *time.Time) (metrics.TradeSummary, error) {
	return f.summary, nil
}

func (f *fakeQueryer) GetTradeEventPnLCalendar(context.Context, int64, *time.Time, *time.Time) ([]metrics.DayPnL, error) {
	return nil, nil
}

func newTestServer() *Server {
	return newTestServerWithQueryer(&fakeQueryer{
		accounts: []upstream.AccountSummary{{ID: 1, Name: "demo"}},
		summary:  metrics.TradeSummary{TradeCount: 3, RealizedPnL: 120},
	})
}

func newTestServerWithQueryer(q Queryer) *Server {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(Config{ListenAddr: ":0", AuthToken: "secret-token"}, q, log)
}

func TestHealthNeedsNoAuth(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAccountsRejectsMissingToken(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAccountsRejectsWrongToken(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAccountsHappyPath(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}
}

func TestSummaryHappyPath(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/accounts/1/summary", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRefreshRejectsBadAccountID(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/not-a-number/refresh", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRefreshRejectsNonPositiveAccountID(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	for _, id := range []string{"0", "-1"} {
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/"+id+"/refresh", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("accountID=%s: status = %d, want 400", id, rec.Code)
		}
	}
}

func TestRefreshReportsValidationErrorAs400(t *testing.T) {
	t.Parallel()
	s := newTestServerWithQueryer(&fakeQueryer{
		refreshError: fmt.Errorf("start after end: %w", apperr.ErrValidation),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/1/refresh", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRefreshReportsConfigurationErrorAs500(t *testing.T) {
	t.Parallel()
	s := newTestServerWithQueryer(&fakeQueryer{
		refreshError: fmt.Errorf("missing credentials: %w", apperr.ErrConfiguration),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/1/refresh", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRefreshReportsUpstreamErrorAs502(t *testing.T) {
	t.Parallel()
	s := newTestServerWithQueryer(&fakeQueryer{
		refreshError: fmt.Errorf("non-2xx response: %w", upstream.ErrUpstream),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/1/refresh", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
