package analyzer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/tradingkb/internal/buffer"
)

func floatPtr(v float64) *float64 { return &v }

func testBands() SizingBands {
	return SizingBands{MinBuy: 100, MaxBuy: 5000, MinSell: 100, MaxSell: 5000}
}

func decisionWith(action buffer.Action, qty float64, snap buffer.Snapshot) buffer.Decision {
	return buffer.Decision{
		ID:        "t",
		Symbol:    "XYZ",
		Action:    action,
		Quantity:  qty,
		Price:     snap.Price,
		Snapshot:  snap,
		Timestamp: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
}

func TestSkillScoreIgnoresOutcome(t *testing.T) {
	an := New(testBands())
	snap := buffer.Snapshot{
		Price: 100,
		RSI:   floatPtr(28),
		MA50:  floatPtr(95),
		MA200: floatPtr(90),
		VWAP:  floatPtr(101),
	}
	dec := decisionWith(buffer.Buy, 10, snap)

	up := an.Analyze(dec, floatPtr(110), 0, nil)
	down := an.Analyze(dec, floatPtr(90), 0, nil)
	none := an.Analyze(dec, nil, 0, nil)

	assert.Equal(t, up.SkillScore, down.SkillScore)
	assert.Equal(t, up.SkillScore, none.SkillScore)
	assert.NotEqual(t, up.OutcomeScore, down.OutcomeScore)
}

func TestIndicatorAlignment_BuySetup(t *testing.T) {
	an := New(testBands())
	snap := buffer.Snapshot{
		Price: 100,
		RSI:   floatPtr(25),           // oversold, +10
		MA50:  floatPtr(95),           // uptrend with MA200 below, +10
		MA200: floatPtr(90),
		VWAP:  floatPtr(102),          // buying below VWAP, +10
	}
	a := an.Analyze(decisionWith(buffer.Buy, 10, snap), nil, 0, nil)
	assert.Equal(t, 30, a.IndicatorAlignment)
	assert.True(t, a.IndicatorsAligned())
}

func TestIndicatorAlignment_BuyingOverboughtScoresNothingForRSI(t *testing.T) {
	an := New(testBands())
	withExtreme := an.Analyze(decisionWith(buffer.Buy, 10, buffer.Snapshot{Price: 100, RSI: floatPtr(75)}), nil, 0, nil)
	withNeutral := an.Analyze(decisionWith(buffer.Buy, 10, buffer.Snapshot{Price: 100, RSI: floatPtr(50)}), nil, 0, nil)
	assert.Less(t, withExtreme.IndicatorAlignment, withNeutral.IndicatorAlignment)
}

func TestPositionSizing_OversizingWorseThanUndersizing(t *testing.T) {
	an := New(testBands())

	inBand := an.Analyze(decisionWith(buffer.Buy, 10, buffer.Snapshot{Price: 100}), nil, 0, nil)   // $1000
	under := an.Analyze(decisionWith(buffer.Buy, 0.5, buffer.Snapshot{Price: 100}), nil, 0, nil)   // $50
	over := an.Analyze(decisionWith(buffer.Buy, 100, buffer.Snapshot{Price: 100}), nil, 0, nil)    // $10000

	assert.Equal(t, 20, inBand.PositionSizing)
	assert.Equal(t, 10, under.PositionSizing)
	assert.Equal(t, 5, over.PositionSizing)
}

func TestPatternMatch_Buckets(t *testing.T) {
	an := New(testBands())
	dec := decisionWith(buffer.Buy, 10, buffer.Snapshot{Price: 100})

	mk := func(wins, losses int) []Pattern {
		var ps []Pattern
		for i := 0; i < wins; i++ {
			ps = append(ps, Pattern{Symbol: "XYZ", Action: "buy", Profitable: true})
		}
		for i := 0; i < losses; i++ {
			ps = append(ps, Pattern{Symbol: "XYZ", Action: "buy", Profitable: false})
		}
		return ps
	}

	assert.Equal(t, 25, an.Analyze(dec, nil, 0, mk(7, 3)).PatternMatch)
	assert.Equal(t, 18, an.Analyze(dec, nil, 0, mk(5, 5)).PatternMatch)
	assert.Equal(t, 12, an.Analyze(dec, nil, 0, mk(3, 7)).PatternMatch)
	assert.Equal(t, 5, an.Analyze(dec, nil, 0, mk(1, 9)).PatternMatch)

	// No history at all, and history for other symbols only: both neutral.
	assert.Equal(t, 12, an.Analyze(dec, nil, 0, nil).PatternMatch)
	other := []Pattern{{Symbol: "ABC", Action: "buy", Profitable: false}}
	assert.Equal(t, 12, an.Analyze(dec, nil, 0, other).PatternMatch)
}

func TestOutcome_ProfitableBuyGetsAllBonuses(t *testing.T) {
	an := New(testBands())
	dec := decisionWith(buffer.Buy, 10, buffer.Snapshot{Price: 100})

	a := an.Analyze(dec, floatPtr(105), 0, nil)

	assert.Equal(t, 100, a.OutcomeScore) // profit 50 + beat market 25 + drawdown 25
	assert.True(t, a.Profitable)
	assert.True(t, a.BeatMarket)
	assert.True(t, a.ProfitLoss.Equal(decimal.NewFromInt(50)))
}

func TestOutcome_SellProfitsWhenPriceFalls(t *testing.T) {
	an := New(testBands())
	dec := decisionWith(buffer.Sell, 10, buffer.Snapshot{Price: 100})

	a := an.Analyze(dec, floatPtr(95), 0, nil)
	assert.True(t, a.Profitable)
	assert.True(t, a.ProfitLoss.Equal(decimal.NewFromInt(50)))

	b := an.Analyze(dec, floatPtr(110), 0, nil)
	assert.False(t, b.Profitable)
	require.True(t, b.ProfitLoss.IsNegative())
}

func TestOutcome_NoNextPriceStaysNeutral(t *testing.T) {
	an := New(testBands())
	a := an.Analyze(decisionWith(buffer.Buy, 10, buffer.Snapshot{Price: 100}), nil, 0, nil)
	assert.Equal(t, 50, a.OutcomeScore)
	assert.True(t, a.ProfitLoss.IsZero())
}

func TestLuckFactor_GapBetweenSkillAndOutcome(t *testing.T) {
	an := New(testBands())
	// Weak setup (overbought buy, oversized) that still pays off big.
	snap := buffer.Snapshot{Price: 100, RSI: floatPtr(80), MA50: floatPtr(110), MA200: floatPtr(120), VWAP: floatPtr(95)}
	a := an.Analyze(decisionWith(buffer.Buy, 100, snap), floatPtr(110), 0, nil)

	assert.Less(t, a.SkillScore, 50)
	assert.Equal(t, 100, a.OutcomeScore)
	assert.InDelta(t, float64(a.OutcomeScore-a.SkillScore)/100, a.LuckFactor, 1e-9)
}
