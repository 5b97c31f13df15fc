package upstream

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/drewstake/topsignal/internal/timeutil"
)

// tokenSafetyWindow is how far ahead of actual expiry a cached token is
// treated as already-expired, avoiding races with near-expiry tokens.
const tokenSafetyWindow = 60 * time.Second

// defaultTokenTTL is used when the login response carries no expiry hint at
// all.
const defaultTokenTTL = 20 * time.Minute

// tokenCache is a small shared object guarding the one piece of mutable
// state this client has: the current bearer token. A mutex protects the
// cached value; singleflight collapses concurrent cache-miss refreshes into
// one login call rather than letting every racing goroutine hit the login
// endpoint.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// get returns a usable token, logging in (or refreshing) through fetch if
// the cache is empty or within the safety window of expiry.
func (c *tokenCache) get(ctx context.Context, fetch func(context.Context) (string, time.Time, error)) (string, error) {
	c.mu.Lock()
	tok, exp := c.token, c.expiresAt
	c.mu.Unlock()

	if tok != "" && time.Until(exp) > tokenSafetyWindow {
		return tok, nil
	}

	v, err, _ := c.group.Do("login", func() (any, error) {
		// Re-check: another goroutine may have refreshed while we waited
		// for the singleflight slot.
		c.mu.Lock()
		tok, exp := c.token, c.expiresAt
		c.mu.Unlock()
		if tok != "" && time.Until(exp) > tokenSafetyWindow {
			return tok, nil
		}

		newTok, newExp, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token, c.expiresAt = newTok, newExp
		c.mu.Unlock()
		return newTok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// invalidate clears the cached token, forcing the next get to log in again.
// Called after a 401 from an authenticated call.
func (c *tokenCache) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// parseTokenExpiry interprets the several shapes the login response has been
// observed to use for expiry: an absolute ISO timestamp, epoch seconds,
// epoch milliseconds, or a bare relative-seconds count. Absent any of these,
// it defaults to defaultTokenTTL from now.
func parseTokenExpiry(now time.Time, expiresAt, expiration string, expiresIn *float64) time.Time {
	for _, s := range []string{expiresAt, expiration} {
		if strings.TrimSpace(s) == "" {
			continue
		}
		if t, ok := timeutil.ParseTimestamp(s); ok {
			return t
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return expiryFromNumber(now, n)
		}
	}
	if expiresIn != nil {
		return expiryFromNumber(now, *expiresIn)
	}
	return now.Add(defaultTokenTTL)
}

func expiryFromNumber(now time.Time, n float64) time.Time {
	switch {
	case timeutil.LooksLikeEpochMillis(n):
		return timeutil.ParseEpochMillis(int64(n))
	case n > 1e9:
		return time.Unix(int64(n), 0).UTC()
	default:
		return now.Add(time.Duration(n) * time.Second)
	}
}
