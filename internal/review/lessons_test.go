package review

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/tradingkb/internal/analyzer"
	"github.com/quantpulse/tradingkb/internal/buffer"
	"github.com/quantpulse/tradingkb/internal/kb"
	"github.com/quantpulse/tradingkb/internal/stats"
)

type stubGen struct {
	response string
	err      error
	calls    int
}

func (s *stubGen) Generate(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.response, s.err
}

func lessonGrade(symbol string, action buffer.Action, skill, outcome int, quad stats.Quadrant) kb.Grade {
	g := kb.Grade{
		Analysis: analyzer.Analysis{
			Symbol:        symbol,
			Action:        action,
			SkillScore:    skill,
			OutcomeScore:  outcome,
			ProfitLoss:    decimal.NewFromInt(10),
			WhatWentRight: "indicators aligned",
			WhatWentWrong: "entered late",
		},
	}
	if quad != "" {
		g.Luck = &stats.Analysis{Quadrant: quad}
	}
	return g
}

func TestBasicLessonsBandByScores(t *testing.T) {
	grades := []kb.Grade{
		lessonGrade("NVDA", buffer.Buy, 80, 90, ""),  // Q1
		lessonGrade("TSLA", buffer.Buy, 30, 85, ""),  // Q2
		lessonGrade("AMD", buffer.Sell, 70, 20, ""),  // Q3
		lessonGrade("INTC", buffer.Buy, 20, 10, ""),  // Q4
	}

	lessons := LessonGenerator{}.Generate(context.Background(), "2026-08-28", grades, 60)
	require.Len(t, lessons, 4)
	assert.Contains(t, lessons[0].Text, "[Q1] NVDA: BUY")
	assert.Contains(t, lessons[1].Text, "[Q2] TSLA: BUY")
	assert.Contains(t, lessons[2].Text, "[Q3] AMD: SELL")
	assert.Contains(t, lessons[3].Text, "[Q4] INTC: BUY")
	assert.Equal(t, string(stats.Q2NoSkillLuck), lessons[1].Quadrant)
	for _, l := range lessons {
		assert.Equal(t, "2026-08-28", l.Date)
	}
}

func TestBasicLessonsPreferStatisticalQuadrant(t *testing.T) {
	// Scores band to Q1, but the statistical verdict says the win was luck.
	grades := []kb.Grade{lessonGrade("NVDA", buffer.Buy, 80, 90, stats.Q2NoSkillLuck)}

	lessons := LessonGenerator{}.Generate(context.Background(), "2026-08-28", grades, 60)
	require.Len(t, lessons, 1)
	assert.Contains(t, lessons[0].Text, "[Q2]")
}

func TestLLMLessonsParsedAndCapped(t *testing.T) {
	gen := &stubGen{response: `1. Buy strength only with volume confirmation
2. Respect the RSI extremes
- Size down when conviction is low

4. Never average into a loser
5. Take partial profits into spikes
6. A sixth lesson that should be dropped`}

	lessons := LessonGenerator{Gen: gen}.Generate(context.Background(), "2026-08-28",
		[]kb.Grade{lessonGrade("NVDA", buffer.Buy, 80, 90, "")}, 60)

	require.Len(t, lessons, 5)
	assert.Equal(t, "Buy strength only with volume confirmation", lessons[0].Text)
	assert.Equal(t, "Size down when conviction is low", lessons[2].Text)
	assert.Equal(t, 1, gen.calls)
}

func TestLLMFailureFallsBackToTaggedLessons(t *testing.T) {
	gen := &stubGen{err: errors.New("timeout")}

	lessons := LessonGenerator{Gen: gen}.Generate(context.Background(), "2026-08-28",
		[]kb.Grade{lessonGrade("NVDA", buffer.Buy, 80, 90, "")}, 60)

	require.Len(t, lessons, 1)
	assert.Regexp(t, `\[Q\d\]\s+\w+:\s+(BUY|SELL|HOLD)`, lessons[0].Text)
}

func TestEmptyGradesNoLessons(t *testing.T) {
	gen := &stubGen{response: "should not be called"}
	lessons := LessonGenerator{Gen: gen}.Generate(context.Background(), "2026-08-28", nil, 60)
	assert.Empty(t, lessons)
	assert.Zero(t, gen.calls)
}
