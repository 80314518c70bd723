// Package risk sizes spread candidates against per-trade and portfolio limits.
package risk

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

// Config holds the risk limits.
type Config struct {
	MaxRiskPerTrade           float64 // dollars
	MaxPositions              int
	MaxPositionsPerUnderlying int // 0 disables
	MaxContracts              int // 0 disables
}

// Exposure is the active position count the decision is made against.
type Exposure struct {
	Open              int
	OpenForUnderlying int
}

// Decision is the sizing outcome. Quantity is zero unless Approved.
type Decision struct {
	Reason   string
	Quantity int
	Approved bool
}

// Sizer computes contract quantities.
type Sizer struct {
	cfg Config
}

// NewSizer creates a sizer.
func NewSizer(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size returns the number of contracts to trade. Rounding is always downward so
// Quantity × MaxLossPerContract never exceeds MaxRiskPerTrade.
func (s *Sizer) Size(c *models.SpreadCandidate, exp Exposure) Decision {
	if c == nil {
		return reject("no candidate")
	}
	if exp.Open >= s.cfg.MaxPositions {
		return reject(fmt.Sprintf("max positions reached (%d/%d)", exp.Open, s.cfg.MaxPositions))
	}
	if s.cfg.MaxPositionsPerUnderlying > 0 && exp.OpenForUnderlying >= s.cfg.MaxPositionsPerUnderlying {
		return reject(fmt.Sprintf("max positions for %s reached (%d/%d)",
			c.Underlying, exp.OpenForUnderlying, s.cfg.MaxPositionsPerUnderlying))
	}

	perContract := c.MaxLossPerContract()
	if perContract <= 0 || math.IsNaN(perContract) || math.IsInf(perContract, 0) {
		return reject(fmt.Sprintf("max loss per contract %.2f is not positive", perContract))
	}

	qty := int(math.Floor(s.cfg.MaxRiskPerTrade / perContract))
	// Division can land a hair above an integer; step back if the product overshoots.
	for qty > 0 && float64(qty)*perContract > s.cfg.MaxRiskPerTrade {
		qty--
	}
	if s.cfg.MaxContracts > 0 && qty > s.cfg.MaxContracts {
		qty = s.cfg.MaxContracts
	}
	if qty < 1 {
		return reject(fmt.Sprintf("max loss per contract $%.2f exceeds risk budget $%.2f",
			perContract, s.cfg.MaxRiskPerTrade))
	}
	return Decision{Quantity: qty, Approved: true}
}

func reject(reason string) Decision {
	return Decision{Reason: reason}
}
