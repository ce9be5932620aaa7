// Package analyzer grades a trading decision on process quality (skill)
// separately from realized outcome. Skill components read only the
// indicator snapshot captured at decision time; the outcome never feeds
// back into them, which is what keeps luck and skill separable downstream.
package analyzer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantpulse/tradingkb/internal/buffer"
)

// Pattern is a prior graded decision used for pattern matching.
type Pattern struct {
	Symbol     string `json:"symbol"`
	Action     string `json:"action"`
	Profitable bool   `json:"profitable"`
}

// Analysis is the scored evaluation of a single decision.
type Analysis struct {
	Symbol   string        `json:"symbol"`
	Action   buffer.Action `json:"action"`
	Quantity float64       `json:"quantity"`
	Price    float64       `json:"price"`

	IndicatorAlignment int `json:"indicator_alignment"` // 0-30
	PositionSizing     int `json:"position_sizing"`     // 0-20
	RiskReward         int `json:"risk_reward"`         // 0-25
	PatternMatch       int `json:"pattern_match"`       // 0-25

	SkillScore   int     `json:"skill_score"`   // 0-100, sum of components
	OutcomeScore int     `json:"outcome_score"` // 0-100
	TotalScore   int     `json:"total_score"`
	LuckFactor   float64 `json:"luck_factor"` // |outcome - skill| normalized

	ProfitLoss decimal.Decimal `json:"profit_loss"`
	Profitable bool            `json:"profitable"`
	BeatMarket bool            `json:"beat_market"`

	WhatWentRight string `json:"what_went_right"`
	WhatWentWrong string `json:"what_went_wrong"`
	LessonLearned string `json:"lesson"`
}

// IndicatorsAligned reports whether the snapshot strongly supported the
// action; feeds the statistical skill score.
func (a Analysis) IndicatorsAligned() bool { return a.IndicatorAlignment >= 20 }

// SizedCorrectly reports whether notional fell inside the configured band.
func (a Analysis) SizedCorrectly() bool { return a.PositionSizing >= 15 }

// HistoricalSuccessRate maps the pattern-match bucket back to [0,1].
func (a Analysis) HistoricalSuccessRate() float64 { return float64(a.PatternMatch) / 25 }

// ExpectedReturn estimates the return the setup justified, from indicator
// alignment alone. Sells expect the price to fall.
func (a Analysis) ExpectedReturn() float64 {
	f := 0.01 * float64(a.IndicatorAlignment) / 30
	if a.Action == buffer.Sell {
		return -f
	}
	return f
}

// SizingBands is the configured notional range per action type.
type SizingBands struct {
	MinBuy  float64
	MaxBuy  float64
	MinSell float64
	MaxSell float64
}

type Analyzer struct {
	bands SizingBands
}

func New(bands SizingBands) *Analyzer {
	return &Analyzer{bands: bands}
}

// Analyze is pure: same inputs, same scores. nextPrice nil means no
// outcome is observable yet; the outcome score stays neutral (50).
func (an *Analyzer) Analyze(dec buffer.Decision, nextPrice *float64, marketReturn float64, past []Pattern) Analysis {
	snap := dec.Snapshot
	a := Analysis{
		Symbol:   dec.Symbol,
		Action:   dec.Action,
		Quantity: dec.Quantity,
		Price:    snap.Price,
	}

	a.IndicatorAlignment = scoreIndicatorAlignment(dec.Action, snap)
	a.PositionSizing = an.scorePositionSizing(dec.Action, dec.Quantity, snap.Price)
	a.RiskReward = scoreRiskReward(dec.Action, snap)
	a.PatternMatch = scorePatternMatch(dec.Symbol, dec.Action, past)
	a.SkillScore = a.IndicatorAlignment + a.PositionSizing + a.RiskReward + a.PatternMatch

	a.OutcomeScore = 50
	a.ProfitLoss = decimal.Zero

	if nextPrice != nil && snap.Price > 0 {
		priceChange := (*nextPrice - snap.Price) / snap.Price
		notional := decimal.NewFromFloat(snap.Price).Mul(decimal.NewFromFloat(dec.Quantity))

		switch dec.Action {
		case buffer.Buy:
			a.ProfitLoss = notional.Mul(decimal.NewFromFloat(priceChange))
			a.Profitable = priceChange > 0
			a.BeatMarket = priceChange > marketReturn
		case buffer.Sell:
			// Selling "profits" by avoiding the decline that followed.
			a.ProfitLoss = notional.Mul(decimal.NewFromFloat(-priceChange))
			a.Profitable = priceChange < 0
			a.BeatMarket = -priceChange > marketReturn
		}

		a.OutcomeScore = 0
		if a.Profitable {
			a.OutcomeScore += 50
		}
		if a.BeatMarket {
			a.OutcomeScore += 25
		}
		// Drawdown bonus: loss no worse than 2% of notional.
		floor := notional.Mul(decimal.NewFromFloat(-0.02))
		if a.ProfitLoss.GreaterThanOrEqual(floor) {
			a.OutcomeScore += 25
		}
	}

	a.TotalScore = int(float64(a.SkillScore)*0.6 + float64(a.OutcomeScore)*0.4)
	a.LuckFactor = abs(float64(a.OutcomeScore)/100 - float64(a.SkillScore)/100)

	a.WhatWentRight = rightAnalysis(a)
	a.WhatWentWrong = wrongAnalysis(a, snap)
	a.LessonLearned = lessonText(a, snap)

	return a
}

func scoreIndicatorAlignment(action buffer.Action, snap buffer.Snapshot) int {
	score := 0

	if snap.RSI != nil {
		rsi := *snap.RSI
		switch {
		case action == buffer.Buy && rsi < 30:
			score += 10
		case action == buffer.Buy && rsi > 70:
			// Buying overbought earns nothing.
		case action == buffer.Sell && rsi > 70:
			score += 10
		case action == buffer.Sell && rsi < 30:
			// Selling oversold earns nothing.
		default:
			score += 5
		}
	}

	price := snap.Price
	if snap.MA50 != nil && snap.MA200 != nil && price > 0 {
		ma50, ma200 := *snap.MA50, *snap.MA200
		uptrend := price > ma50 && ma50 > ma200
		downtrend := price < ma50 && ma50 < ma200
		switch {
		case action == buffer.Buy && uptrend:
			score += 10
		case action == buffer.Buy && downtrend:
		case action == buffer.Sell && downtrend:
			score += 10
		case action == buffer.Sell && uptrend:
		default:
			score += 5
		}
	}

	if snap.VWAP != nil && price > 0 {
		vwap := *snap.VWAP
		switch {
		case action == buffer.Buy && price < vwap:
			score += 10
		case action == buffer.Sell && price > vwap:
			score += 10
		default:
			score += 5
		}
	}

	return min(score, 30)
}

// Oversizing scores below undersizing: blowing the band upward risks the
// account, coming in under it only costs opportunity.
func (an *Analyzer) scorePositionSizing(action buffer.Action, quantity, price float64) int {
	if quantity <= 0 || price <= 0 {
		return 0
	}
	amount := quantity * price

	switch action {
	case buffer.Buy:
		switch {
		case amount >= an.bands.MinBuy && amount <= an.bands.MaxBuy:
			return 20
		case amount < an.bands.MinBuy:
			return 10
		default:
			return 5
		}
	case buffer.Sell:
		switch {
		case amount >= an.bands.MinSell && amount <= an.bands.MaxSell:
			return 20
		case amount < an.bands.MinSell:
			return 10
		default:
			return 5
		}
	}
	return 10
}

func scoreRiskReward(action buffer.Action, snap buffer.Snapshot) int {
	score := 12

	price := snap.Price
	if price > 0 && snap.MA50 != nil && *snap.MA50 > 0 {
		dist := (price - *snap.MA50) / *snap.MA50
		switch action {
		case buffer.Buy:
			if dist < 0 {
				score += 8
			} else if dist < 0.05 {
				score += 4
			}
		case buffer.Sell:
			if dist > 0.1 {
				score += 8
			} else if dist > 0.05 {
				score += 4
			}
		}
	}

	if snap.RSI != nil {
		rsi := *snap.RSI
		if action == buffer.Buy && rsi < 40 {
			score += 5
		} else if action == buffer.Sell && rsi > 60 {
			score += 5
		}
	}

	return min(score, 25)
}

// Absent history is neutral (12), never zero: absence of evidence is not
// evidence of failure.
func scorePatternMatch(symbol string, action buffer.Action, past []Pattern) int {
	similar := 0
	successful := 0
	for _, p := range past {
		if p.Symbol == symbol && p.Action == string(action) {
			similar++
			if p.Profitable {
				successful++
			}
		}
	}
	if similar == 0 {
		return 12
	}

	rate := float64(successful) / float64(similar)
	switch {
	case rate >= 0.7:
		return 25
	case rate >= 0.5:
		return 18
	case rate >= 0.3:
		return 12
	default:
		return 5
	}
}

func rightAnalysis(a Analysis) string {
	var points []string
	if a.IndicatorAlignment >= 20 {
		points = append(points, "Indicators strongly supported the decision")
	} else if a.IndicatorAlignment >= 15 {
		points = append(points, "Indicators moderately aligned with decision")
	}
	if a.PositionSizing >= 15 {
		points = append(points, "Position size was appropriate")
	}
	if a.Profitable {
		points = append(points, "Trade was profitable")
	}
	if len(points) == 0 {
		points = append(points, "Decision followed systematic process")
	}
	return join(points)
}

func wrongAnalysis(a Analysis, snap buffer.Snapshot) string {
	var points []string
	if a.IndicatorAlignment < 15 {
		points = append(points, "Indicators did not strongly support this decision")
	}
	if a.PositionSizing < 15 {
		points = append(points, "Position size was not optimal")
	}
	if !a.Profitable {
		points = append(points, "Trade resulted in a loss")
	}
	if snap.RSI != nil {
		if a.Action == buffer.Buy && *snap.RSI > 70 {
			points = append(points, "Bought when RSI indicated overbought conditions")
		} else if a.Action == buffer.Sell && *snap.RSI < 30 {
			points = append(points, "Sold when RSI indicated oversold conditions")
		}
	}
	if len(points) == 0 {
		points = append(points, "No significant issues identified")
	}
	return join(points)
}

func lessonText(a Analysis, snap buffer.Snapshot) string {
	switch {
	case a.SkillScore >= 70 && a.OutcomeScore >= 70:
		return "Good process led to good outcome. Continue this approach."
	case a.SkillScore >= 70 && a.OutcomeScore < 50:
		return fmt.Sprintf("Process was sound but outcome was unlucky (luck factor: %.0f%%). Don't change strategy based on this.", a.LuckFactor*100)
	case a.SkillScore < 50 && a.OutcomeScore >= 70:
		return fmt.Sprintf("Got lucky despite weak setup (luck factor: %.0f%%). Don't repeat this decision type.", a.LuckFactor*100)
	case a.SkillScore < 50 && a.OutcomeScore < 50:
		return "Poor process led to poor outcome. Review indicator analysis before similar decisions."
	}
	if snap.RSI != nil && (*snap.RSI > 70 || *snap.RSI < 30) {
		return fmt.Sprintf("Consider RSI extremes more carefully. RSI was %.0f.", *snap.RSI)
	}
	return "Mixed results. Continue monitoring similar setups."
}

func join(points []string) string {
	out := ""
	for i, p := range points {
		if i > 0 {
			out += "; "
		}
		out += p
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
