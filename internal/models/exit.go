package models

import "time"

// ExitCause names the rule that triggered a close.
type ExitCause string

const (
	ExitStopLoss     ExitCause = "stop-loss"
	ExitProfitTarget ExitCause = "profit-target"
	ExitDTE          ExitCause = "dte-exit"
)

// ExitSignal carries the values observed when an exit rule fired.
type ExitSignal struct {
	At            time.Time `json:"at"`
	Cause         ExitCause `json:"cause"`
	UnrealizedPnL float64   `json:"unrealized_pnl"` // per share
	CostToClose   float64   `json:"cost_to_close"`
	DTE           int       `json:"dte"`
}
