// Package metrics derives trade-performance summaries, drawdown episodes,
// and daily P&L calendars from an ordered sequence of execution samples.
package metrics

import (
	"time"

	"github.com/drewstake/topsignal/internal/tradeevent"
)

// Sample is the flattened, float64 view of a TradeEvent that the
// computations below operate on. Money fields are converted from
// decimal.Decimal at this single boundary; everything upstream of it
// stays exact.
type Sample struct {
	Timestamp time.Time
	PnL       *float64
	Fees      float64
	OrderID   string
	Symbol    string
	Side      string
	Size      float64
	Price     float64
}

// IsClosing reports whether this sample carries a realized P&L.
func (s Sample) IsClosing() bool { return s.PnL != nil }

// ToSample converts a tradeevent.Event into a Sample, doubling fees on
// closing rows: the closing leg's reported fee is modeled as covering
// only itself, so the round trip's entry-leg fee (charged separately as
// an open-leg event) is approximated by doubling it here. This is a
// known approximation, not a reconciliation against the entry leg.
func ToSample(ev tradeevent.Event) Sample {
	fees, _ := ev.Fees.Float64()
	size, _ := ev.Size.Float64()
	price, _ := ev.Price.Float64()

	var pnl *float64
	if ev.PnL != nil {
		v, _ := ev.PnL.Float64()
		pnl = &v
		fees *= 2
	}

	return Sample{
		Timestamp: ev.TradeTimestamp,
		PnL:       pnl,
		Fees:      fees,
		OrderID:   ev.OrderID,
		Symbol:    ev.Symbol,
		Side:      ev.Side,
		Size:      size,
		Price:     price,
	}
}

// ToSamples converts a slice of events, preserving order.
func ToSamples(events []tradeevent.Event) []Sample {
	out := make([]Sample, len(events))
	for i, ev := range events {
		out[i] = ToSample(ev)
	}
	return out
}
