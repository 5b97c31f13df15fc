package metrics

import (
	"math"
	"time"

	"github.com/drewstake/topsignal/internal/util"
)

// episode is one drawdown period on the equity curve built from
// cumulative net P&L (pnl - fees) over closing rows only.
type episode struct {
	peakEquity     float64
	startTS        time.Time
	troughTS       time.Time
	endTS          time.Time
	hasEnd         bool
	troughDrawdown float64
}

// buildDrawdownEpisodes walks the equity curve equity_i = sum(net_j, j<=i)
// over closing rows, tracking the running peak. An episode begins the
// first time equity falls below a previously-seen peak and ends the
// first time equity recovers to or above that peak; an episode still
// open at the end of the series is left with hasEnd=false.
func buildDrawdownEpisodes(samples []Sample) []episode {
	var episodes []episode
	var equity, peak float64

	var current *episode

	for _, s := range samples {
		if !s.IsClosing() {
			continue
		}
		net := *s.PnL - s.Fees
		equity += net

		if equity < peak {
			if current == nil {
				current = &episode{peakEquity: peak, startTS: s.Timestamp, troughTS: s.Timestamp, troughDrawdown: equity - peak}
			} else if equity-peak < current.troughDrawdown {
				current.troughDrawdown = equity - peak
				current.troughTS = s.Timestamp
			}
			continue
		}

		// equity >= peak: recovery, if an episode was open.
		if current != nil {
			current.endTS = s.Timestamp
			current.hasEnd = true
			episodes = append(episodes, *current)
			current = nil
		}
		peak = equity
	}

	if current != nil {
		episodes = append(episodes, *current)
	}

	return episodes
}

// applyDrawdownMetrics folds the episode list into the summary fields.
func applyDrawdownMetrics(sum *TradeSummary, episodes []episode, samples []Sample) {
	if len(episodes) == 0 {
		return
	}

	var lastTS time.Time
	for _, s := range samples {
		if s.IsClosing() {
			lastTS = s.Timestamp
		}
	}

	var maxDD float64
	var sumDD float64
	var maxLenHours float64
	var deepest episode
	var recoveryLens []float64

	for _, ep := range episodes {
		sumDD += ep.troughDrawdown
		if ep.troughDrawdown < maxDD {
			maxDD = ep.troughDrawdown
			deepest = ep
		}

		end := ep.endTS
		if !ep.hasEnd {
			end = lastTS
		}
		lenHours := end.Sub(ep.startTS).Hours()
		if lenHours > maxLenHours {
			maxLenHours = lenHours
		}

		if ep.hasEnd {
			recoveryLens = append(recoveryLens, ep.endTS.Sub(ep.troughTS).Hours())
		}
	}

	sum.MaxDrawdown = util.Round2(maxDD)
	sum.AverageDrawdown = util.Round2(sumDD / float64(len(episodes)))
	sum.MaxDrawdownLengthHours = util.RoundN(maxLenHours, 2)

	peakAtMax := deepest.peakEquity
	denom := math.Max(peakAtMax, math.Max(math.Abs(maxDD), 1))
	sum.RiskDrawdownScore = util.RoundN(math.Abs(maxDD)/denom*100, 2)

	recoveryEnd := deepest.endTS
	if !deepest.hasEnd {
		recoveryEnd = lastTS
	}
	sum.RecoveryTimeHours = util.RoundN(recoveryEnd.Sub(deepest.troughTS).Hours(), 2)

	if len(recoveryLens) > 0 {
		sum.AverageRecoveryLengthHours = util.RoundN(mean(recoveryLens), 2)
	}
}
