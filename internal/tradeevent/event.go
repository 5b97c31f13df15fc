// Package tradeevent defines the canonical execution-event record and the
// normalizer that maps heterogeneous upstream trade-search rows onto it.
package tradeevent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drewstake/topsignal/internal/timeutil"
)

// Side enumerates the normalized trade direction.
const (
	SideBuy     = "BUY"
	SideSell    = "SELL"
	SideUnknown = "UNKNOWN"
)

// Event is the canonical, persisted execution record. It is the interchange
// shape between the normalizer (component C) and the event store
// (component D), and the row shape the store itself returns on reads.
type Event struct {
	ID             int64
	AccountID      int64
	ContractID     string
	Symbol         string
	Side           string
	Size           decimal.Decimal
	Price          decimal.Decimal
	TradeTimestamp time.Time
	Fees           decimal.Decimal
	PnL            *decimal.Decimal
	OrderID        string
	SourceTradeID  string
	Status         string
	RawPayload     json.RawMessage
	CreatedAt      time.Time
}

// IsClosing reports whether the event carries broker-reported realized P&L.
func (e Event) IsClosing() bool { return e.PnL != nil }

// Normalize maps one upstream trade-search row into an Event. It returns
// ok=false for voided rows and rows whose timestamp cannot be parsed --
// both rejections the caller must skip rather than propagate as errors.
func Normalize(accountID int64, raw map[string]any, rawPayload json.RawMessage) (Event, bool) {
	if IsVoided(rawPayload) {
		return Event{}, false
	}

	ts, ok := parseEventTimestamp(raw)
	if !ok {
		return Event{}, false
	}

	contractID := firstNonEmptyString(raw, "contractId", "contract_id")
	if contractID == "" {
		contractID = "UNKNOWN"
	}
	symbol := firstNonEmptyString(raw, "symbol")
	if symbol == "" {
		symbol = contractID
	}

	sourceTradeID := firstNonEmptyString(raw, "id", "sourceTradeId", "source_trade_id")
	orderID := firstNonEmptyString(raw, "orderId", "order_id")
	if orderID == "" {
		orderID = sourceTradeID
	}
	if orderID == "" {
		orderID = fmt.Sprintf("fallback-%d", ts.UnixMilli())
	}

	side := timeutil.NormalizeSide(firstPresent(raw, "side"))

	size := firstDecimal(raw, "size", "quantity")
	price := firstDecimal(raw, "price", "fillPrice")
	fees := firstDecimal(raw, "fees", "commission")

	var pnl *decimal.Decimal
	if v, present := firstDecimalPresent(raw, "profitAndLoss", "pnl"); present {
		pnl = &v
	}

	status := firstNonEmptyString(raw, "status")

	return Event{
		AccountID:      accountID,
		ContractID:     contractID,
		Symbol:         symbol,
		Side:           side,
		Size:           size,
		Price:          price,
		TradeTimestamp: ts,
		Fees:           fees,
		PnL:            pnl,
		OrderID:        orderID,
		SourceTradeID:  sourceTradeID,
		Status:         status,
		RawPayload:     rawPayload,
		CreatedAt:      time.Now().UTC(),
	}, true
}

func parseEventTimestamp(raw map[string]any) (time.Time, bool) {
	s := firstNonEmptyString(raw, "creationTimestamp", "timestamp")
	if s == "" {
		return time.Time{}, false
	}
	return timeutil.ParseTimestamp(s)
}

func firstPresent(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmptyString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

func firstDecimal(raw map[string]any, keys ...string) decimal.Decimal {
	v, _ := firstDecimalPresent(raw, keys...)
	return v
}

// firstDecimalPresent returns the first of keys that is present with a
// numeric-looking value, and whether any such key was found at all --
// distinguishing "absent" (nullable pnl) from "present but zero".
func firstDecimalPresent(raw map[string]any, keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return decimal.NewFromFloat(t), true
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(t))
			if err != nil {
				return decimal.Zero, true
			}
			return d, true
		}
	}
	return decimal.Zero, false
}

// IsVoided reports whether the raw payload marks the row voided. Truthy
// means the JSON boolean true, any non-zero JSON number, or the strings
// "true"/"1" (case-insensitive).
func IsVoided(rawPayload json.RawMessage) bool {
	if len(rawPayload) == 0 {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(rawPayload, &m); err != nil {
		return false
	}
	v, ok := m["voided"]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "1"
	case float64:
		return t != 0
	default:
		return false
	}
}
