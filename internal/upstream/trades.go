package upstream

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/drewstake/topsignal/internal/timeutil"
	"github.com/drewstake/topsignal/internal/tradeevent"
)

// tradeSearchRequest is the wire body for POST /api/Trade/search.
type tradeSearchRequest struct {
	AccountID      int64  `json:"accountId"`
	StartTimestamp string `json:"startTimestamp"`
	EndTimestamp   string `json:"endTimestamp,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

// FetchTradeHistory pulls one page of trade-search rows for accountID in
// [start, end], normalizes each row, drops voided and unparseable rows, and
// returns the survivors sorted by timestamp ascending.
func (c *Client) FetchTradeHistory(ctx context.Context, accountID int64, start, end time.Time, limit, offset int) ([]tradeevent.Event, error) {
	req := tradeSearchRequest{
		AccountID:      accountID,
		StartTimestamp: timeutil.ISOUTC(start),
		Limit:          limit,
		Offset:         offset,
	}
	if !end.IsZero() {
		req.EndTimestamp = timeutil.ISOUTC(end)
	}

	var resp struct {
		Trades []json.RawMessage `json:"trades"`
		Data   []json.RawMessage `json:"data"`
		Items  []json.RawMessage `json:"items"`
	}
	if err := c.post(ctx, "/api/Trade/search", req, &resp); err != nil {
		return nil, err
	}

	rawRows := rawFirstNonEmpty(resp.Trades, resp.Data, resp.Items)
	events := make([]tradeevent.Event, 0, len(rawRows))
	for _, raw := range rawRows {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		ev, ok := tradeevent.Normalize(accountID, fields, raw)
		if !ok {
			continue
		}
		events = append(events, ev)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].TradeTimestamp.Before(events[j].TradeTimestamp)
	})
	return events, nil
}

func rawFirstNonEmpty(groups ...[]json.RawMessage) []json.RawMessage {
	for _, g := range groups {
		if len(g) > 0 {
			return g
		}
	}
	return nil
}
