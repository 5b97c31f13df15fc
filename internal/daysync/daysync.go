// Package daysync implements the single-day "hot path": given a request
// whose start and end resolve to the same UTC calendar date, it decides
// whether to serve from the local cache or page the upstream API to
// exhaustion, then records the day as partial or complete.
package daysync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drewstake/topsignal/internal/apperr"
	"github.com/drewstake/topsignal/internal/store"
	"github.com/drewstake/topsignal/internal/timeutil"
	"github.com/drewstake/topsignal/internal/tradeevent"
)

// maxPages is the hard pagination ceiling; hitting it is treated as
// truncation even if the page-signature check never fired.
const maxPages = 200

// Fetcher is the subset of the upstream client the orchestrator needs,
// narrowed to ease testing with a fake.
type Fetcher interface {
	FetchTradeHistory(ctx context.Context, accountID int64, start, end time.Time, limit, offset int) ([]tradeevent.Event, error)
}

// Store is the subset of the event store the orchestrator needs.
type Store interface {
	GetDaySync(ctx context.Context, accountID int64, date string) (store.DaySync, bool, error)
	UpsertDaySync(ctx context.Context, accountID int64, date, status string, rowCount int) error
	UpsertTradeEvents(ctx context.Context, events []tradeevent.Event) (int, error)
}

// Orchestrator runs the day-sync state machine described by the hot-path
// decision table: today always re-fetches (and can never complete);
// yesterday and earlier days serve from cache when complete and fresh.
type Orchestrator struct {
	fetcher        Fetcher
	store          Store
	pageLimit      int
	refreshMinutes int
	log            *logrus.Logger
}

// New builds an Orchestrator. pageLimit is PROJECTX_DAY_SYNC_LIMIT;
// refreshMinutes is PROJECTX_YESTERDAY_REFRESH_MINUTES.
func New(fetcher Fetcher, st Store, pageLimit, refreshMinutes int) *Orchestrator {
	return &Orchestrator{fetcher: fetcher, store: st, pageLimit: pageLimit, refreshMinutes: refreshMinutes, log: logrus.StandardLogger()}
}

// Result reports what SyncDay did.
type Result struct {
	CacheHit  bool
	Status    string // "partial" | "complete", only meaningful when !CacheHit
	RowCount  int
	Truncated bool
}

// SyncDay runs the decision table for accountID on the UTC calendar date
// `date` (YYYY-MM-DD), given the current instant `now` and whether the
// caller explicitly requested a refresh.
func (o *Orchestrator) SyncDay(ctx context.Context, accountID int64, date string, now time.Time, explicitRefresh bool) (Result, error) {
	today := timeutil.FormatDate(now)
	yesterday := timeutil.FormatDate(now.AddDate(0, 0, -1))

	existing, found, err := o.store.GetDaySync(ctx, accountID, date)
	if err != nil {
		return Result{}, err
	}

	isToday := date == today
	isYesterday := date == yesterday

	var allowComplete bool
	switch {
	case isToday:
		allowComplete = false
	case isYesterday:
		stale := !found || existing.Status != store.DaySyncComplete || now.Sub(existing.LastSyncedAt) > time.Duration(o.refreshMinutes)*time.Minute
		if !stale && !explicitRefresh {
			return Result{CacheHit: true, Status: existing.Status, RowCount: existing.RowCount}, nil
		}
		allowComplete = true
	default: // earlier
		if found && existing.Status == store.DaySyncComplete && !explicitRefresh {
			return Result{CacheHit: true, Status: existing.Status, RowCount: existing.RowCount}, nil
		}
		allowComplete = true
	}

	dayStart, err := time.Parse("2006-01-02", date)
	if err != nil {
		return Result{}, fmt.Errorf("daysync: invalid date %q: %w", date, err)
	}
	dayStart = dayStart.UTC()
	dayEnd := dayStart.Add(24*time.Hour - time.Nanosecond)

	events, truncated, err := o.fetchAllPages(ctx, accountID, dayStart, dayEnd)
	if err != nil {
		// Best-effort partial marker; the fetch error itself is still
		// re-raised to the caller.
		_ = o.store.UpsertDaySync(ctx, accountID, date, store.DaySyncPartial, 0)
		return Result{}, err
	}

	status := store.DaySyncPartial
	if allowComplete && !truncated {
		status = store.DaySyncComplete
	}

	if _, err := o.store.UpsertTradeEvents(ctx, events); err != nil {
		return Result{}, err
	}
	if err := o.store.UpsertDaySync(ctx, accountID, date, status, len(events)); err != nil {
		return Result{}, err
	}

	return Result{Status: status, RowCount: len(events), Truncated: truncated}, nil
}

// fetchAllPages pages the upstream trade-search endpoint until it runs out,
// detects truncation via page-signature equality (no opaque cursor is
// available), and returns the deduplicated accumulator.
func (o *Orchestrator) fetchAllPages(ctx context.Context, accountID int64, dayStart, dayEnd time.Time) ([]tradeevent.Event, bool, error) {
	seen := map[string]tradeevent.Event{}
	order := make([]string, 0)

	var lastSignature string
	offset := 0
	for page := 0; page < maxPages; page++ {
		events, err := o.fetcher.FetchTradeHistory(ctx, accountID, dayStart, dayEnd, o.pageLimit, offset)
		if err != nil {
			return nil, false, err
		}

		signature := pageSignature(events)
		if len(events) == o.pageLimit && offset > 0 && signature == lastSignature {
			o.log.WithError(apperr.ErrTruncated).WithFields(logrus.Fields{"accountId": accountID, "date": timeutil.FormatDate(dayStart), "offset": offset}).
				Warn("day sync pagination signature repeated, treating as truncated")
			return dedupe(seen, order), true, nil
		}

		for _, ev := range events {
			key := store.IdentityKey(ev)
			if _, ok := seen[key]; !ok {
				order = append(order, key)
			}
			seen[key] = ev
		}

		if len(events) < o.pageLimit {
			return dedupe(seen, order), false, nil
		}

		lastSignature = signature
		offset += o.pageLimit
	}

	o.log.WithError(apperr.ErrTruncated).WithFields(logrus.Fields{"accountId": accountID, "date": timeutil.FormatDate(dayStart)}).
		Warn("day sync hit the hard page ceiling, treating as truncated")
	return dedupe(seen, order), true, nil
}

func pageSignature(events []tradeevent.Event) string {
	s := ""
	for _, ev := range events {
		s += store.IdentityKey(ev) + "|"
	}
	return s
}

func dedupe(seen map[string]tradeevent.Event, order []string) []tradeevent.Event {
	out := make([]tradeevent.Event, 0, len(order))
	for _, k := range order {
		out = append(out, seen[k])
	}
	return out
}
