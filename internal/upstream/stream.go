package upstream

import (
	"context"
	"time"

	"github.com/drewstake/topsignal/internal/tradeevent"
)

// streamLookback is the fixed one-second window StreamUserTrades re-fetches on
// every poll, so a row landing right at the watermark is never missed by a
// strict ">" comparison against it.
const streamLookback = 1 * time.Second

// StreamUserTrades presents polling as a cancellable channel of new
// executions: a tight fetch -> emit -> sleep loop that tracks a watermark
// timestamp and the set of order IDs already emitted at that exact instant,
// so repeated polls don't double-emit rows sharing a timestamp. The channel
// closes when ctx is cancelled.
func (c *Client) StreamUserTrades(ctx context.Context, accountID int64, start time.Time, pollInterval time.Duration) <-chan tradeevent.Event {
	if pollInterval < time.Second {
		pollInterval = time.Second
	}

	out := make(chan tradeevent.Event)
	go func() {
		defer close(out)

		watermark := start
		seenAtWatermark := map[string]struct{}{}

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			events, err := c.FetchTradeHistory(ctx, accountID, watermark.Add(-streamLookback), time.Now().UTC(), 0, 0)
			if err == nil {
				for _, ev := range events {
					if ev.TradeTimestamp.Before(watermark) {
						continue
					}
					if ev.TradeTimestamp.Equal(watermark) {
						if _, seen := seenAtWatermark[ev.OrderID]; seen {
							continue
						}
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
					if ev.TradeTimestamp.After(watermark) {
						watermark = ev.TradeTimestamp
						seenAtWatermark = map[string]struct{}{ev.OrderID: {}}
					} else {
						seenAtWatermark[ev.OrderID] = struct{}{}
					}
				}
			} else {
				c.log.WithError(err).WithField("accountId", accountID).Warn("stream poll failed")
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
