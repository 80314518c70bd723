package models

import (
	"math"
	"testing"
	"time"
)

func TestSpreadCandidate_MaxLoss(t *testing.T) {
	c := testCandidate()
	if got := c.MaxLossPerContract(); math.Abs(got-350) > 1e-9 {
		t.Errorf("MaxLossPerContract = %.2f, want 350", got)
	}
	if got := c.MaxLoss(3); math.Abs(got-1050) > 1e-9 {
		t.Errorf("MaxLoss(3) = %.2f, want 1050", got)
	}
}

func TestSpreadCandidate_Validate(t *testing.T) {
	asOf := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		mutate  func(c *SpreadCandidate)
		wantErr bool
	}{
		{"valid", func(c *SpreadCandidate) {}, false},
		{"zero width", func(c *SpreadCandidate) { c.Width = 0 }, true},
		{"zero credit", func(c *SpreadCandidate) { c.NetCredit = 0 }, true},
		{"credit above width", func(c *SpreadCandidate) { c.NetCredit = 6 }, true},
		{"expired", func(c *SpreadCandidate) { c.Expiration = asOf.AddDate(0, 0, -1) }, true},
		{"expires today", func(c *SpreadCandidate) { c.Expiration = asOf }, false},
		{"no trade", func(c *SpreadCandidate) { c.Strategy = NoTrade }, true},
		{"no legs", func(c *SpreadCandidate) { c.Legs = nil }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCandidate()
			tt.mutate(c)
			if err := c.Validate(asOf); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStrategyType_Text(t *testing.T) {
	for _, s := range []StrategyType{NoTrade, BullPutSpread, BearCallSpread, IronCondor} {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", s, err)
		}
		var back StrategyType
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Errorf("round trip of %s gave %s (%v)", s, back, err)
		}
	}
	if _, err := StrategyType(42).MarshalText(); err == nil {
		t.Error("Unknown strategy should not marshal")
	}
}

func TestStrategyType_Sides(t *testing.T) {
	if got := IronCondor.Sides(); len(got) != 2 {
		t.Errorf("Iron condor should have two sides, got %v", got)
	}
	if got := BullPutSpread.Sides(); len(got) != 1 || got[0] != RightPut {
		t.Errorf("Bull put spread sells puts, got %v", got)
	}
	if got := BearCallSpread.Sides(); len(got) != 1 || got[0] != RightCall {
		t.Errorf("Bear call spread sells calls, got %v", got)
	}
	if NoTrade.Sides() != nil {
		t.Error("No trade has no sides")
	}
}

func TestDaysToExpiration(t *testing.T) {
	asOf := time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC)
	exp := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	if got := DaysToExpiration(asOf, exp); got != 4 {
		t.Errorf("DaysToExpiration = %d, want 4", got)
	}
}
