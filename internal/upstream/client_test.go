package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoginAndListAccounts(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/loginKey":
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1", "expiresIn": 1200})
		case "/api/Account/search":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"accounts": []map[string]any{
					{"id": float64(2), "name": "b", "balance": float64(100), "canTrade": true},
					{"id": float64(1), "name": "a", "balance": float64(50), "canTrade": true},
					{"id": float64(3), "name": "c", "canTrade": false},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "key", WithRateLimit(1000, 1000))
	accts, err := c.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accts) != 2 {
		t.Fatalf("expected 2 active accounts, got %d", len(accts))
	}
	if accts[0].ID != 1 || accts[1].ID != 2 {
		t.Errorf("expected accounts sorted ascending by id, got %+v", accts)
	}
}

func TestPostRetriesOnceOn401(t *testing.T) {
	t.Parallel()
	var logins int32
	var trades int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/loginKey":
			n := atomic.AddInt32(&logins, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{"token": fmtToken(n), "expiresIn": 1200})
		case "/api/Trade/search":
			n := atomic.AddInt32(&trades, 1)
			if n == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"trades": []any{}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "key", WithRateLimit(1000, 1000))
	_, err := c.FetchTradeHistory(context.Background(), 1, time.Now().Add(-time.Hour), time.Now(), 0, 0)
	if err != nil {
		t.Fatalf("FetchTradeHistory: %v", err)
	}
	if atomic.LoadInt32(&trades) != 2 {
		t.Errorf("expected exactly one retry (2 total attempts), got %d", trades)
	}
	if atomic.LoadInt32(&logins) != 2 {
		t.Errorf("expected a second login after the 401 invalidated the cache, got %d", logins)
	}
}

func TestPostSurfacesFailureEnvelope(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/loginKey":
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok", "expiresIn": 1200})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "errorMessage": "bad account"})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "key", WithRateLimit(1000, 1000))
	_, err := c.ListAccounts(context.Background())
	var upErr *Error
	if err == nil {
		t.Fatal("expected an error")
	}
	if !asUpstreamError(err, &upErr) {
		t.Fatalf("expected *upstream.Error, got %T: %v", err, err)
	}
	if upErr.Message != "bad account" {
		t.Errorf("Message = %q, want %q", upErr.Message, "bad account")
	}
}

func TestParseTokenExpiry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	in := 1200.0
	exp := parseTokenExpiry(now, "", "", &in)
	if want := now.Add(1200 * time.Second); !exp.Equal(want) {
		t.Errorf("relative seconds: got %v, want %v", exp, want)
	}

	exp = parseTokenExpiry(now, "2026-01-01T01:00:00Z", "", nil)
	if want := now.Add(time.Hour); !exp.Equal(want) {
		t.Errorf("absolute iso: got %v, want %v", exp, want)
	}

	exp = parseTokenExpiry(now, "", "", nil)
	if want := now.Add(defaultTokenTTL); !exp.Equal(want) {
		t.Errorf("default: got %v, want %v", exp, want)
	}
}

func fmtToken(n int32) string {
	return "tok-" + string(rune('a'+n))
}

func asUpstreamError(err error, out **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*out = e
	}
	return ok
}
