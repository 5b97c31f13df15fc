// Package query implements the read/refresh surface consumed by the HTTP
// adapter: it wires the sync planner, the day-sync orchestrator, the
// event store, and the metrics engine behind a small set of functions
// that do no business logic of their own.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drewstake/topsignal/internal/daysync"
	"github.com/drewstake/topsignal/internal/metrics"
	"github.com/drewstake/topsignal/internal/store"
	"github.com/drewstake/topsignal/internal/syncplan"
	"github.com/drewstake/topsignal/internal/timeutil"
	"github.com/drewstake/topsignal/internal/tradeevent"
	"github.com/drewstake/topsignal/internal/upstream"
)

// Upstream is the subset of the upstream client the service needs.
type Upstream interface {
	ListAccounts(ctx context.Context) ([]upstream.AccountSummary, error)
	FetchTradeHistory(ctx context.Context, accountID int64, start, end time.Time, limit, offset int) ([]tradeevent.Event, error)
}

// Service implements the query/refresh surface.
type Service struct {
	store     *store.Store
	upstream  Upstream
	orch      *daysync.Orchestrator
	lookback  int
	chunkDays int
	pageLimit int
	log       *logrus.Logger
	now       func() time.Time
}

// Options configures a Service.
type Options struct {
	LookbackDays   int
	ChunkDays      int
	DaySyncLimit   int
	RefreshMinutes int
}

// New builds a Service over a store and upstream client.
func New(st *store.Store, up Upstream, opts Options) *Service {
	return &Service{
		store:     st,
		upstream:  up,
		orch:      daysync.New(up, st, opts.DaySyncLimit, opts.RefreshMinutes),
		lookback:  opts.LookbackDays,
		chunkDays: opts.ChunkDays,
		pageLimit: opts.DaySyncLimit,
		log:       logrus.StandardLogger(),
		now:       time.Now,
	}
}

// ListAccounts returns tradeable accounts as reported by upstream.
func (s *Service) ListAccounts(ctx context.Context) ([]upstream.AccountSummary, error) {
	return s.upstream.ListAccounts(ctx)
}

// HasLocalTrades reports whether any row has ever been cached for account.
func (s *Service) HasLocalTrades(ctx context.Context, accountID int64) (bool, error) {
	return s.store.HasLocalTrades(ctx, accountID)
}

// GetEarliestTradeTimestamp returns the earliest non-voided trade timestamp cached locally.
func (s *Service) GetEarliestTradeTimestamp(ctx context.Context, accountID int64) (time.Time, bool, error) {
	return s.store.GetEarliestTradeTimestamp(ctx, accountID)
}

// ListTradeEvents returns closing trades for an account, optionally bounded
// by time range and filtered by symbol substring.
func (s *Service) ListTradeEvents(ctx context.Context, accountID int64, limit int, start, end *time.Time, symbolQuery string) ([]tradeevent.Event, error) {
	startT, endT := rangeOrZero(start, end)
	return s.store.ListTradeEvents(ctx, accountID, startT, endT, symbolQuery, limit)
}

// SummarizeTradeEvents computes a TradeSummary over the cached, non-voided
// event range for an account.
func (s *Service) SummarizeTradeEvents(ctx context.Context, accountID int64, start, end *time.Time) (metrics.TradeSummary, error) {
	startT, endT := rangeOrZero(start, end)
	events, err := s.store.ListAllNonVoided(ctx, accountID, startT, endT)
	if err != nil {
		return metrics.TradeSummary{}, err
	}
	return metrics.ComputeTradeSummary(metrics.ToSamples(events)), nil
}

// GetTradeEventPnLCalendar computes a daily P&L calendar over the cached,
// non-voided event range for an account.
func (s *Service) GetTradeEventPnLCalendar(ctx context.Context, accountID int64, start, end *time.Time) ([]metrics.DayPnL, error) {
	startT, endT := rangeOrZero(start, end)
	events, err := s.store.ListAllNonVoided(ctx, accountID, startT, endT)
	if err != nil {
		return nil, err
	}
	return metrics.ComputeDailyPnLCalendar(metrics.ToSamples(events)), nil
}

// RefreshAccountTrades forces an upstream pull for accountID, bypassing
// any cache freshness check.
func (s *Service) RefreshAccountTrades(ctx context.Context, accountID int64, start, end *time.Time) error {
	return s.EnsureTradeCacheForRequest(ctx, accountID, start, end, true)
}

// EnsureTradeCacheForRequest makes sure the local cache covers [start, end]
// for accountID, refreshing from upstream per the sync planner. When start
// and end resolve to the same UTC calendar date, it delegates to the
// single-day hot path instead of planning multi-day windows; there, refresh
// forces a fetch even when the cached day is already complete. Otherwise the
// planner always appends an incremental window from the local latest
// timestamp, so repeated calls (e.g. the scheduler's periodic tick) keep
// picking up new upstream rows regardless of refresh.
func (s *Service) EnsureTradeCacheForRequest(ctx context.Context, accountID int64, start, end *time.Time, refresh bool) error {
	now := s.now().UTC()

	if start != nil && end != nil && timeutil.SameUTCDate(*start, *end) {
		_, err := s.orch.SyncDay(ctx, accountID, timeutil.FormatDate(*start), now, refresh)
		return err
	}

	local := syncplan.Local{}
	if latest, ok, err := s.store.GetLatestTradeTimestamp(ctx, accountID); err != nil {
		return err
	} else if ok {
		local.HasData = true
		local.Latest = latest
		if earliest, ok, err := s.store.GetEarliestTradeTimestamp(ctx, accountID); err != nil {
			return err
		} else if ok {
			local.Earliest = earliest
		}
	}

	var explicitStart, explicitEnd time.Time
	if start != nil {
		explicitStart = *start
	}
	if end != nil {
		explicitEnd = *end
	}

	windows, err := syncplan.BuildWindows(now, explicitStart, explicitEnd, local, s.lookback)
	if err != nil {
		return err
	}

	for _, w := range windows {
		for _, chunk := range syncplan.IterTimeChunks(w, s.chunkDays) {
			events, err := s.fetchChunk(ctx, accountID, chunk)
			if err != nil {
				return fmt.Errorf("query: refreshing account %d window [%v, %v]: %w", accountID, chunk.Start, chunk.End, err)
			}
			if _, err := s.store.UpsertTradeEvents(ctx, events); err != nil {
				return err
			}
		}
	}

	return nil
}

// fetchChunk pages a single window until a short page, with the same page
// size and 200-page ceiling as the single-day path. It has no page-signature
// truncation check, does not dedupe, and does no day-sync bookkeeping.
func (s *Service) fetchChunk(ctx context.Context, accountID int64, w syncplan.Window) ([]tradeevent.Event, error) {
	var all []tradeevent.Event
	offset := 0
	for page := 0; page < 200; page++ {
		events, err := s.upstream.FetchTradeHistory(ctx, accountID, w.Start, w.End, s.pageLimit, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
		if len(events) < s.pageLimit {
			return all, nil
		}
		offset += s.pageLimit
	}
	s.log.WithFields(logrus.Fields{"accountId": accountID, "window": w}).Warn("multi-day refresh hit the hard page ceiling")
	return all, nil
}

func rangeOrZero(start, end *time.Time) (time.Time, time.Time) {
	var s, e time.Time
	if start != nil {
		s = *start
	}
	if end != nil {
		e = *end
	}
	return s, e
}
