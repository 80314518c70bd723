package storage

import (
	"sort"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// Statistics summarizes closed positions.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // percent of decided trades
	TotalPnL      float64 `json:"total_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	MaxDrawdown   float64 `json:"max_drawdown"` // largest peak-to-trough drop of cumulative P&L, <= 0
	CurrentStreak int     `json:"current_streak"` // positive wins, negative losses
	OpenPositions int     `json:"open_positions"`
}

// ComputeStatistics derives ledger statistics. Closed positions are taken in exit order.
func ComputeStatistics(positions []models.Position) *Statistics {
	stats := &Statistics{}
	var closed []models.Position
	for _, p := range positions {
		switch {
		case p.State == models.StateClosed:
			closed = append(closed, p)
		case p.IsActive():
			stats.OpenPositions++
		}
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].ExitDate.Before(closed[j].ExitDate) })

	var totalWins, totalLosses, cumulative, peak float64
	for _, p := range closed {
		pnl := p.RealizedPnL
		stats.TotalTrades++
		stats.TotalPnL += pnl

		switch {
		case pnl > 0:
			stats.WinningTrades++
			totalWins += pnl
			if stats.CurrentStreak >= 0 {
				stats.CurrentStreak++
			} else {
				stats.CurrentStreak = 1
			}
		case pnl < 0:
			stats.LosingTrades++
			totalLosses += pnl
			if stats.CurrentStreak <= 0 {
				stats.CurrentStreak--
			} else {
				stats.CurrentStreak = -1
			}
		}
		// pnl == 0 is breakeven: neither a win nor a loss

		cumulative += pnl
		if cumulative > peak {
			peak = cumulative
		}
		if dd := cumulative - peak; dd < stats.MaxDrawdown {
			stats.MaxDrawdown = dd
		}
	}

	if stats.WinningTrades > 0 {
		stats.AverageWin = totalWins / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AverageLoss = totalLosses / float64(stats.LosingTrades)
	}
	if decided := stats.WinningTrades + stats.LosingTrades; decided > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(decided) * 100
	}
	return stats
}
