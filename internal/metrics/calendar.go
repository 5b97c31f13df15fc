package metrics

import (
	"sort"

	"github.com/drewstake/topsignal/internal/util"
)

// DayPnL is one entry in a daily P&L calendar.
type DayPnL struct {
	Date       string // YYYY-MM-DD, UTC
	TradeCount int
	GrossPnL   float64
	Fees       float64
	NetPnL     float64
}

// ComputeDailyPnLCalendar groups closing rows only by UTC calendar date
// and returns entries sorted by date ascending, rounded to 2 decimals.
func ComputeDailyPnLCalendar(samples []Sample) []DayPnL {
	byDay := map[string]*DayPnL{}

	for _, s := range samples {
		if !s.IsClosing() {
			continue
		}
		date := s.Timestamp.UTC().Format("2006-01-02")
		d, ok := byDay[date]
		if !ok {
			d = &DayPnL{Date: date}
			byDay[date] = d
		}
		d.TradeCount++
		d.GrossPnL += *s.PnL
		d.Fees += s.Fees
	}

	out := make([]DayPnL, 0, len(byDay))
	for _, d := range byDay {
		d.NetPnL = d.GrossPnL - d.Fees
		d.GrossPnL = util.Round2(d.GrossPnL)
		d.Fees = util.Round2(d.Fees)
		d.NetPnL = util.Round2(d.NetPnL)
		out = append(out, *d)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
