// Package util provides common utility functions for price calculations.
package util

import "math"

// tickEpsilon absorbs float error so exact multiples are not pushed a tick away.
const tickEpsilon = 1e-9

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	tick, ok := usableTick(x, tick)
	if !ok {
		return x
	}
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to a tick multiple. Used for credit limits.
func FloorToTick(x, tick float64) float64 {
	tick, ok := usableTick(x, tick)
	if !ok {
		return x
	}
	return math.Floor(x/tick+tickEpsilon) * tick
}

// CeilToTick rounds x up to a tick multiple. Used for debit limits.
func CeilToTick(x, tick float64) float64 {
	tick, ok := usableTick(x, tick)
	if !ok {
		return x
	}
	return math.Ceil(x/tick-tickEpsilon) * tick
}

func usableTick(x, tick float64) (float64, bool) {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(tick) || math.IsNaN(x) || math.IsInf(x, 0) {
		return tick, false
	}
	return tick, true
}
