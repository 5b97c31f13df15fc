// Package syncplan decides which upstream time windows a refresh request
// should pull -- first-sync, incremental tail, historical backfill, or an
// explicit range -- and splits each window into fetch-sized chunks.
package syncplan

import (
	"fmt"
	"time"

	"github.com/drewstake/topsignal/internal/apperr"
)

// ErrInvalidRange is returned when an explicit start is after end. It wraps
// apperr.ErrValidation so the HTTP adapter classifies it as a 400, not the
// 502 used for upstream failures.
var ErrInvalidRange = fmt.Errorf("syncplan: start after end: %w", apperr.ErrValidation)

// incrementalOverlap is deliberately applied to the tail of local coverage
// so late-arriving upstream rows with timestamps at or before the previous
// latest are not missed; it is load-bearing, not a rounding convenience.
const incrementalOverlap = 5 * time.Minute

// Window is a half-open [Start, End] time range to pull from upstream.
type Window struct {
	Start time.Time
	End   time.Time
}

// Local summarizes what is already cached for an account, as input to the
// window planner.
type Local struct {
	HasData  bool
	Earliest time.Time
	Latest   time.Time
}

// BuildWindows computes the window set for a refresh request. start/end are
// zero-value when not explicitly given by the caller; end defaults to now.
func BuildWindows(now time.Time, start, end time.Time, local Local, lookbackDays int) ([]Window, error) {
	if end.IsZero() {
		end = now
	}

	if !start.IsZero() {
		if start.After(end) {
			return nil, ErrInvalidRange
		}
		return []Window{{Start: start, End: end}}, nil
	}

	historyFloor := now.AddDate(0, 0, -lookbackDays)

	if !local.HasData {
		return dropInverted([]Window{{Start: historyFloor, End: end}}), nil
	}

	var windows []Window
	if local.Earliest.After(historyFloor) {
		windows = append(windows, Window{Start: historyFloor, End: local.Earliest})
	}
	windows = append(windows, Window{Start: local.Latest.Add(-incrementalOverlap), End: end})

	return dropInverted(windows), nil
}

func dropInverted(windows []Window) []Window {
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		if !w.Start.After(w.End) {
			out = append(out, w)
		}
	}
	return out
}

// chunkGap separates consecutive chunks by a microsecond so they never
// share an endpoint.
const chunkGap = time.Microsecond

// IterTimeChunks splits w into contiguous chunkDays-sized half-open chunks.
func IterTimeChunks(w Window, chunkDays int) []Window {
	if chunkDays <= 0 {
		chunkDays = 90
	}
	var chunks []Window
	cursor := w.Start
	for cursor.Before(w.End) {
		chunkEnd := cursor.AddDate(0, 0, chunkDays)
		if chunkEnd.After(w.End) {
			chunkEnd = w.End
		}
		chunks = append(chunks, Window{Start: cursor, End: chunkEnd})
		cursor = chunkEnd.Add(chunkGap)
	}
	return chunks
}
