package metrics

import (
	"math"
	"sort"

	"github.com/drewstake/topsignal/internal/util"
)

// TradeSummary is the full performance record computed by
// ComputeTradeSummary. All money fields are rounded to 2 decimals, rates
// and ratios to 2-4, at emission time only.
type TradeSummary struct {
	RealizedPnL float64
	Fees        float64
	NetPnL      float64

	TradeCount         int
	ExecutionCount     int
	HalfTurnCount      int
	WinCount           int
	LossCount          int
	BreakevenCount     int
	WinRate            float64
	ProfitFactor       float64
	AvgWin             float64
	AvgLoss            float64
	ExpectancyPerTrade float64
	TailRisk5Pct       float64

	MaxDrawdown                float64
	AverageDrawdown            float64
	RiskDrawdownScore          float64
	MaxDrawdownLengthHours     float64
	RecoveryTimeHours          float64
	AverageRecoveryLengthHours float64

	ActiveDays        int
	GreenDays         int
	RedDays           int
	FlatDays          int
	DayWinRate        float64
	AvgTradesPerDay   float64
	EfficiencyPerHour float64
	ProfitPerDay      float64
}

// ComputeTradeSummary derives a TradeSummary from a timestamp-ordered
// sample sequence. Only closing rows (PnL non-nil) contribute to
// realized P&L and win/loss classification; open-leg rows still count
// toward ExecutionCount and HalfTurnCount.
func ComputeTradeSummary(samples []Sample) TradeSummary {
	var sum TradeSummary
	if len(samples) == 0 {
		return sum
	}

	sum.ExecutionCount = len(samples)

	orderIDs := map[string]struct{}{}
	closedPnLs := make([]float64, 0, len(samples))
	netByDay := map[string]float64{}
	firstByDay := map[string]struct{ first, last int64 }{}

	var wins, losses []float64

	for _, s := range samples {
		if s.OrderID != "" {
			orderIDs[s.OrderID] = struct{}{}
		}

		day := s.Timestamp.UTC().Format("2006-01-02")
		unix := s.Timestamp.UTC().Unix()
		span, ok := firstByDay[day]
		if !ok {
			span = struct{ first, last int64 }{unix, unix}
		} else {
			if unix < span.first {
				span.first = unix
			}
			if unix > span.last {
				span.last = unix
			}
		}
		firstByDay[day] = span

		if !s.IsClosing() {
			continue
		}
		pnl := *s.PnL
		sum.TradeCount++
		sum.RealizedPnL += pnl
		sum.Fees += s.Fees
		closedPnLs = append(closedPnLs, pnl)
		netByDay[day] += pnl - s.Fees

		switch {
		case pnl > 0:
			sum.WinCount++
			wins = append(wins, pnl)
		case pnl < 0:
			sum.LossCount++
			losses = append(losses, pnl)
		default:
			sum.BreakevenCount++
		}
	}

	if len(orderIDs) > 0 {
		sum.HalfTurnCount = len(orderIDs)
	} else {
		sum.HalfTurnCount = sum.ExecutionCount
	}

	sum.NetPnL = sum.RealizedPnL - sum.Fees

	if sum.TradeCount > 0 {
		sum.WinRate = util.RoundN(float64(sum.WinCount)/float64(sum.TradeCount)*100, 2)
	}

	if len(losses) > 0 {
		lossSum := 0.0
		for _, v := range losses {
			lossSum += v
		}
		winSum := 0.0
		for _, v := range wins {
			winSum += v
		}
		sum.ProfitFactor = util.RoundN(winSum/math.Abs(lossSum), 4)
		sum.AvgLoss = util.Round2(mean(losses))
	}
	if len(wins) > 0 {
		sum.AvgWin = util.Round2(mean(wins))
	}
	if sum.TradeCount > 0 {
		sum.ExpectancyPerTrade = util.Round2(sum.RealizedPnL / float64(sum.TradeCount))
	}

	sum.TailRisk5Pct = util.Round2(tailRisk5Pct(closedPnLs))

	episodes := buildDrawdownEpisodes(samples)
	applyDrawdownMetrics(&sum, episodes, samples)

	applyDailyAggregates(&sum, netByDay, firstByDay)

	sum.RealizedPnL = util.Round2(sum.RealizedPnL)
	sum.Fees = util.Round2(sum.Fees)
	sum.NetPnL = util.Round2(sum.NetPnL)

	return sum
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range xs {
		total += v
	}
	return total / float64(len(xs))
}

// tailRisk5Pct is the mean of the worst ceil(5% x closed) closed P&Ls,
// or the single worst when closed is too small for that to exceed one,
// clipped to be no greater than zero (a profitable tail reports 0, not
// a positive number).
func tailRisk5Pct(closedPnLs []float64) float64 {
	n := len(closedPnLs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, closedPnLs)
	sort.Float64s(sorted)

	k := int(math.Ceil(0.05 * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	worst := mean(sorted[:k])
	if worst > 0 {
		return 0
	}
	return worst
}

func applyDailyAggregates(sum *TradeSummary, netByDay map[string]float64, spanByDay map[string]struct{ first, last int64 }) {
	sum.ActiveDays = len(netByDay)
	if sum.ActiveDays == 0 {
		return
	}

	var activeSeconds float64
	for day, span := range spanByDay {
		if _, ok := netByDay[day]; !ok {
			continue
		}
		secs := float64(span.last - span.first)
		if secs < 60 {
			secs = 60
		}
		activeSeconds += secs
	}

	for _, net := range netByDay {
		switch {
		case net > 0:
			sum.GreenDays++
		case net < 0:
			sum.RedDays++
		default:
			sum.FlatDays++
		}
	}

	sum.DayWinRate = util.RoundN(float64(sum.GreenDays)/float64(sum.ActiveDays)*100, 2)
	sum.AvgTradesPerDay = util.RoundN(float64(sum.TradeCount)/float64(sum.ActiveDays), 2)
	sum.ProfitPerDay = util.Round2(sum.NetPnL / float64(sum.ActiveDays))

	activeHours := activeSeconds / 3600
	if activeHours > 0 {
		sum.EfficiencyPerHour = util.Round2(sum.NetPnL / activeHours)
	}
}
