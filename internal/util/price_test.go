package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"rounds down", 1.2345, 0.01, 1.23},
		{"rounds up", 1.2367, 0.01, 1.24},
		{"negative", -1.2345, 0.01, -1.23},
		{"nickel tick", 1.27, 0.05, 1.25},
		{"exact multiple", 1.25, 0.05, 1.25},
		{"negative tick uses magnitude", 1.2367, -0.01, 1.24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RoundToTick(tt.x, tt.tick), 1e-10)
		})
	}
}

func TestFloorToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"credit just under a cent", 1.2899, 0.01, 1.28},
		{"exact credit stays", 1.30, 0.01, 1.30},
		{"float noise below a multiple", 0.7 - 1e-12, 0.01, 0.70},
		{"nickel tick", 1.34, 0.05, 1.30},
		{"below one tick", 0.004, 0.01, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, FloorToTick(tt.x, tt.tick), 1e-10)
		})
	}
}

func TestCeilToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"debit just over a cent", 0.0701, 0.01, 0.08},
		{"exact debit stays", 0.07, 0.01, 0.07},
		{"float noise above a multiple", 0.3 + 1e-12, 0.01, 0.30},
		{"nickel tick", 1.31, 0.05, 1.35},
		{"tiny debit becomes one tick", 0.001, 0.01, 0.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CeilToTick(tt.x, tt.tick), 1e-10)
		})
	}
}

func TestTickRoundingEdgeCases(t *testing.T) {
	for name, fn := range map[string]func(x, tick float64) float64{
		"round": RoundToTick,
		"floor": FloorToTick,
		"ceil":  CeilToTick,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, 1.2345, fn(1.2345, 0), "zero tick returns input")
			assert.True(t, math.IsNaN(fn(math.NaN(), 0.01)))
			assert.True(t, math.IsInf(fn(math.Inf(1), 0.01), 1))
			assert.True(t, math.IsInf(fn(math.Inf(-1), 0.01), -1))
			assert.Equal(t, 1.2345, fn(1.2345, math.NaN()), "NaN tick returns input")
		})
	}
}
