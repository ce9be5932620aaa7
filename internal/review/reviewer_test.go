package review

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/tradingkb/internal/analyzer"
	"github.com/quantpulse/tradingkb/internal/broker"
	"github.com/quantpulse/tradingkb/internal/buffer"
	"github.com/quantpulse/tradingkb/internal/dedup"
	"github.com/quantpulse/tradingkb/internal/journal"
	"github.com/quantpulse/tradingkb/internal/kb"
	"github.com/quantpulse/tradingkb/internal/stats"
)

func fp(v float64) *float64 { return &v }

func goodBuySnapshot() buffer.Snapshot {
	return buffer.Snapshot{
		Price: 100, RSI: fp(25), MA50: fp(95), MA200: fp(90),
		VWAP: fp(102), DayHigh: fp(104), DayLow: fp(99),
	}
}

type harness struct {
	rev    *Reviewer
	buf    *buffer.DecisionBuffer
	store  *kb.Store
	jrnl   *journal.Journal
	market *broker.Mock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	buf := buffer.New(filepath.Join(dir, "decision_buffer.json"))
	store, err := kb.Open(filepath.Join(dir, "kb"), kb.DefaultCaps())
	require.NoError(t, err)
	jrnl, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { jrnl.Close() })

	market := broker.NewMock()
	grader := analyzer.New(analyzer.SizingBands{MinBuy: 1, MaxBuy: 10000, MinSell: 1, MaxSell: 10000})
	cfg := Config{SkillThreshold: 60, LuckyZ: 1.0, MinHistory: 10, Denoise: stats.DenoiseWavelet}

	rev := New(cfg, buf, grader, store, jrnl, market, dedup.PatternKeyDeduplicator{}, LessonGenerator{})
	return &harness{rev: rev, buf: buf, store: store, jrnl: jrnl, market: market}
}

func TestRunFullDay(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.buf.StartNewDay(100000))

	_, err := h.buf.RecordDecision("NVDA", buffer.Buy, 10, goodBuySnapshot(), time.Time{})
	require.NoError(t, err)
	_, err = h.buf.RecordDecision("TSLA", buffer.Sell, 5, buffer.Snapshot{Price: 250}, time.Time{})
	require.NoError(t, err)
	require.NoError(t, h.buf.RecordTradeResult("NVDA", buffer.ResultSuccess, "filled"))
	require.NoError(t, h.buf.RecordTradeResult("TSLA", buffer.ResultError, "rejected"))

	h.market.SetPrice("NVDA", 105)

	res, err := h.rev.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Decisions)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Analyses)
	assert.Equal(t, 1, res.LessonsGenerated)
	assert.Equal(t, 1, res.LessonsWritten)
	assert.Zero(t, res.DuplicatesRemoved)
	assert.Empty(t, res.Error)
	assert.Equal(t, StateCleared, h.rev.State())

	// Buffer drained only after the KB write landed.
	assert.Zero(t, h.buf.Count())
	_, err = os.Stat(filepath.Join(h.store.Root(), "sessions", res.Date, "decisions.json"))
	assert.NoError(t, err)

	patterns, err := h.jrnl.PastPatterns()
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "NVDA", patterns[0].Symbol)
}

func TestRunNoSuccessfulTrades(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.buf.StartNewDay(100000))
	_, err := h.buf.RecordDecision("NVDA", buffer.Buy, 10, goodBuySnapshot(), time.Time{})
	require.NoError(t, err)
	// XYZ never gets an outcome at all; NVDA's execution failed.
	_, err = h.buf.RecordDecision("XYZ", buffer.Buy, 10, buffer.Snapshot{Price: 100}, time.Time{})
	require.NoError(t, err)
	require.NoError(t, h.buf.RecordTradeResult("NVDA", buffer.ResultError, "insufficient funds"))

	res, err := h.rev.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Decisions)
	assert.Zero(t, res.Successful)
	assert.Zero(t, res.Analyses)
	assert.Zero(t, res.LessonsWritten)
	assert.Equal(t, 2, h.buf.Count(), "buffer stays intact without a qualifying trade")
	assert.Empty(t, h.store.SessionDates())
	assert.Equal(t, StateIdle, h.rev.State())
}

func TestRunEmptyBuffer(t *testing.T) {
	h := newHarness(t)

	res, err := h.rev.Run(context.Background(), "2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-28", res.Date)
	assert.Zero(t, res.Decisions)
	assert.Equal(t, StateCleared, h.rev.State())
}

func TestRunKBWriteFailureKeepsBuffer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.buf.StartNewDay(100000))
	_, err := h.buf.RecordDecision("NVDA", buffer.Buy, 10, goodBuySnapshot(), time.Time{})
	require.NoError(t, err)
	require.NoError(t, h.buf.RecordTradeResult("NVDA", buffer.ResultSuccess, "filled"))
	h.market.SetPrice("NVDA", 105)

	// A plain file where the sessions directory belongs makes the write fail.
	sessions := filepath.Join(h.store.Root(), "sessions")
	require.NoError(t, os.RemoveAll(sessions))
	require.NoError(t, os.WriteFile(sessions, []byte("in the way"), 0644))

	res, err := h.rev.Run(context.Background(), "")
	require.Error(t, err)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, StateWriting, h.rev.State())
	assert.Equal(t, 1, h.buf.Count(), "buffer must survive a failed write")
}

func TestRunQuoteFailureGradesNeutral(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.buf.StartNewDay(100000))
	_, err := h.buf.RecordDecision("NVDA", buffer.Buy, 10, goodBuySnapshot(), time.Time{})
	require.NoError(t, err)
	require.NoError(t, h.buf.RecordTradeResult("NVDA", buffer.ResultSuccess, "filled"))
	// No price set: the quote fails and the outcome is graded neutral.

	res, err := h.rev.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Analyses)

	grades := readSessionGrades(t, h.store, res.Date)
	require.Len(t, grades, 1)
	assert.Equal(t, 50, grades[0].Analysis.OutcomeScore)
	assert.Nil(t, grades[0].Luck)
}

func seedJournalReturns(t *testing.T, jrnl *journal.Journal, symbol string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		date := time.Date(2026, 8, 1+i, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
		ret := 0.002 * float64(i%5-2)
		require.NoError(t, jrnl.RecordDay(date, []kb.Grade{{
			DecisionID:   "seed-" + symbol + "-" + date,
			ActualReturn: ret,
			Analysis:     analyzer.Analysis{Symbol: symbol, Action: buffer.Hold},
		}}))
	}
}

func TestRunClassifiesWithJournalHistory(t *testing.T) {
	h := newHarness(t)
	seedJournalReturns(t, h.jrnl, "NVDA", 12)

	require.NoError(t, h.buf.StartNewDay(100000))
	_, err := h.buf.RecordDecision("NVDA", buffer.Buy, 10, goodBuySnapshot(), time.Time{})
	require.NoError(t, err)
	require.NoError(t, h.buf.RecordTradeResult("NVDA", buffer.ResultSuccess, "filled"))
	h.market.SetPrice("NVDA", 105)

	res, err := h.rev.Run(context.Background(), "")
	require.NoError(t, err)

	grades := readSessionGrades(t, h.store, res.Date)
	require.Len(t, grades, 1)
	require.NotNil(t, grades[0].Luck)
	assert.NotEmpty(t, grades[0].Luck.Quadrant)
	assert.InDelta(t, 0.05, grades[0].ActualReturn, 1e-9)
}

func TestRunOtherSymbolHistoryLeavesUnclassified(t *testing.T) {
	h := newHarness(t)
	// Plenty of history, all of it for the wrong symbol.
	seedJournalReturns(t, h.jrnl, "SPY", 12)

	require.NoError(t, h.buf.StartNewDay(100000))
	_, err := h.buf.RecordDecision("NVDA", buffer.Buy, 10, goodBuySnapshot(), time.Time{})
	require.NoError(t, err)
	require.NoError(t, h.buf.RecordTradeResult("NVDA", buffer.ResultSuccess, "filled"))
	h.market.SetPrice("NVDA", 105)

	res, err := h.rev.Run(context.Background(), "")
	require.NoError(t, err)

	grades := readSessionGrades(t, h.store, res.Date)
	require.Len(t, grades, 1)
	assert.Nil(t, grades[0].Luck, "SPY returns must not classify NVDA")
	assert.Equal(t, StateCleared, h.rev.State())
}

func TestRunBarsBackfillClassifies(t *testing.T) {
	h := newHarness(t)

	// No journal history; daily bars supply the return series.
	base := time.Now().UTC().AddDate(0, 0, -20)
	bars := make([]broker.Bar, 0, 15)
	price := 100.0
	for i := 0; i < 15; i++ {
		price *= 1 + 0.003*float64(i%5-2)
		bars = append(bars, broker.Bar{Time: base.AddDate(0, 0, i), Close: price})
	}
	h.market.SetBars("NVDA", bars)
	h.market.SetPrice("NVDA", 105)

	require.NoError(t, h.buf.StartNewDay(100000))
	_, err := h.buf.RecordDecision("NVDA", buffer.Buy, 10, goodBuySnapshot(), time.Time{})
	require.NoError(t, err)
	require.NoError(t, h.buf.RecordTradeResult("NVDA", buffer.ResultSuccess, "filled"))

	res, err := h.rev.Run(context.Background(), "")
	require.NoError(t, err)

	grades := readSessionGrades(t, h.store, res.Date)
	require.Len(t, grades, 1)
	require.NotNil(t, grades[0].Luck)
	assert.NotEmpty(t, grades[0].Luck.Quadrant)
}

func TestRepeatDayDeduplicatesLessons(t *testing.T) {
	h := newHarness(t)

	runDay := func() Result {
		require.NoError(t, h.buf.StartNewDay(100000))
		_, err := h.buf.RecordDecision("NVDA", buffer.Buy, 10, goodBuySnapshot(), time.Time{})
		require.NoError(t, err)
		require.NoError(t, h.buf.RecordTradeResult("NVDA", buffer.ResultSuccess, "filled"))
		h.market.SetPrice("NVDA", 105)
		res, err := h.rev.Run(context.Background(), "")
		require.NoError(t, err)
		return res
	}

	first := runDay()
	assert.Equal(t, 1, first.LessonsWritten)

	second := runDay()
	assert.Equal(t, 1, second.LessonsGenerated)
	assert.Zero(t, second.LessonsWritten)
	assert.Equal(t, 1, second.DuplicatesRemoved)

	assert.Len(t, h.store.ExistingLessons(), 1)
}

func readSessionGrades(t *testing.T, store *kb.Store, date string) []kb.Grade {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(store.Root(), "sessions", date, "decisions.json"))
	require.NoError(t, err)
	var grades []kb.Grade
	require.NoError(t, json.Unmarshal(data, &grades))
	return grades
}
