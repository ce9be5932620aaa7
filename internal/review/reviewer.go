// Package review runs the end-of-day pipeline: drain the decision
// buffer, grade each successful decision, separate skill from luck,
// distill lessons, deduplicate them, and write the day into the
// knowledge base and journal. The buffer is only cleared after the
// knowledge base write succeeds, so a crash at any earlier stage leaves
// the day reviewable.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantpulse/tradingkb/internal/analyzer"
	"github.com/quantpulse/tradingkb/internal/broker"
	"github.com/quantpulse/tradingkb/internal/buffer"
	"github.com/quantpulse/tradingkb/internal/dedup"
	"github.com/quantpulse/tradingkb/internal/journal"
	"github.com/quantpulse/tradingkb/internal/kb"
	"github.com/quantpulse/tradingkb/internal/observ"
	"github.com/quantpulse/tradingkb/internal/stats"
)

type State string

const (
	StateIdle              State = "IDLE"
	StateDraining          State = "DRAINING"
	StateClassifying       State = "CLASSIFYING"
	StateGeneratingLessons State = "GENERATING_LESSONS"
	StateDeduplicating     State = "DEDUPLICATING"
	StateWriting           State = "WRITING"
	StateCleared           State = "CLEARED"
)

// Result summarizes one review run. It is returned even on failure so
// callers can report how far the pipeline got.
type Result struct {
	Date              string `json:"date"`
	Decisions         int    `json:"decisions"`
	Successful        int    `json:"successful"`
	Analyses          int    `json:"analyses"`
	LessonsGenerated  int    `json:"lessons_generated"`
	LessonsWritten    int    `json:"lessons_written"`
	DuplicatesRemoved int    `json:"duplicates_removed"`
	Error             string `json:"error,omitempty"`
}

type Config struct {
	SkillThreshold float64
	LuckyZ         float64
	MinHistory     int
	Denoise        stats.Method
	ReturnLookback int // how many journaled returns to fit against
}

type Reviewer struct {
	cfg     Config
	buf     *buffer.DecisionBuffer
	grader  *analyzer.Analyzer
	store   *kb.Store
	jrnl    *journal.Journal
	market  broker.Client
	dedup   dedup.Deduplicator
	lessons LessonGenerator

	state State
	now   func() time.Time
}

func New(cfg Config, buf *buffer.DecisionBuffer, grader *analyzer.Analyzer, store *kb.Store, jrnl *journal.Journal, market broker.Client, dd dedup.Deduplicator, lg LessonGenerator) *Reviewer {
	if cfg.ReturnLookback == 0 {
		cfg.ReturnLookback = 250
	}
	return &Reviewer{
		cfg:     cfg,
		buf:     buf,
		grader:  grader,
		store:   store,
		jrnl:    jrnl,
		market:  market,
		dedup:   dd,
		lessons: lg,
		state:   StateIdle,
		now:     time.Now,
	}
}

func (r *Reviewer) State() State { return r.state }

func (r *Reviewer) transition(s State, kv map[string]any) {
	r.state = s
	if kv == nil {
		kv = map[string]any{}
	}
	kv["state"] = string(s)
	observ.IncCounter("review_transitions", map[string]string{"state": string(s)})
	observ.Log("review_state", kv)
}

// Run executes the full end-of-day review for the given date. An empty
// date means the buffer's own day.
func (r *Reviewer) Run(ctx context.Context, date string) (Result, error) {
	r.transition(StateDraining, nil)
	snap := r.buf.SnapshotForEOD()
	if date == "" {
		date = snap.Date
	}
	if date == "" {
		date = r.now().UTC().Format("2006-01-02")
	}

	res := Result{Date: date, Decisions: len(snap.Decisions)}
	if len(snap.Decisions) == 0 {
		r.transition(StateCleared, map[string]any{"date": date, "reason": "empty_buffer"})
		return res, nil
	}

	successful := r.buf.SuccessfulDecisions()
	res.Successful = len(successful)
	if len(successful) == 0 {
		// No qualifying trades: nothing to learn from, and the buffer
		// stays intact in case outcomes arrive late.
		r.transition(StateIdle, map[string]any{"date": date, "reason": "no_qualifying_trades"})
		return res, nil
	}

	r.transition(StateClassifying, map[string]any{"date": date, "successful": len(successful)})
	grades, err := r.classify(ctx, successful)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Analyses = len(grades)

	r.transition(StateGeneratingLessons, map[string]any{"date": date})
	candidates := r.lessons.Generate(ctx, date, grades, r.cfg.SkillThreshold)
	res.LessonsGenerated = len(candidates)

	r.transition(StateDeduplicating, map[string]any{"date": date, "candidates": len(candidates)})
	dd, err := r.dedup.Deduplicate(ctx, candidates, r.store.ExistingLessons())
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("deduplicate: %w", err)
	}
	res.LessonsWritten = len(dd.New)
	res.DuplicatesRemoved = dd.Removed

	r.transition(StateWriting, map[string]any{"date": date, "lessons": len(dd.New)})
	day := kb.DaySummary{
		Date:           date,
		Grades:         grades,
		Lessons:        dd.New,
		Merges:         dd.Merges,
		SkillThreshold: r.cfg.SkillThreshold,
		StartValue:     decimal.NewFromFloat(snap.StartValue),
	}
	if r.market != nil {
		if p, err := r.market.Portfolio(ctx); err == nil {
			day.EndValue = p.Value
		} else {
			observ.Warn("portfolio_unavailable", map[string]any{"error": err.Error()})
		}
	}
	if err := r.store.WriteDay(day); err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("write knowledge base: %w", err)
	}
	if err := r.jrnl.RecordDay(date, grades); err != nil {
		// Upserts make a rerun safe here, so the buffer is kept.
		res.Error = err.Error()
		return res, fmt.Errorf("journal day: %w", err)
	}

	// The write is durable; only now is it safe to drop the day.
	if err := r.buf.Clear(); err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("clear buffer: %w", err)
	}
	r.transition(StateCleared, map[string]any{
		"date":               date,
		"analyses":           res.Analyses,
		"lessons_written":    res.LessonsWritten,
		"duplicates_removed": res.DuplicatesRemoved,
	})
	observ.SetGauge("lessons_written", nil, float64(res.LessonsWritten))
	observ.Log("review_metrics", observ.Snapshot())
	return res, nil
}

// classify grades each decision deterministically and, when enough
// return history exists, classifies it into a skill/luck quadrant.
func (r *Reviewer) classify(ctx context.Context, decisions []buffer.Decision) ([]kb.Grade, error) {
	past, err := r.jrnl.PastPatterns()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	// One analyzer per symbol; luck is measured against that symbol's
	// own return distribution, never a pooled one.
	luckBySymbol := map[string]*stats.Analyzer{}

	grades := make([]kb.Grade, 0, len(decisions))
	for _, d := range decisions {
		var nextPrice *float64
		if r.market != nil {
			if q, err := r.market.Quote(ctx, d.Symbol); err == nil {
				nextPrice = &q.Price
			} else {
				observ.Warn("quote_unavailable", map[string]any{"symbol": d.Symbol, "error": err.Error()})
			}
		}

		analysis := r.grader.Analyze(d, nextPrice, 0, past)
		g := kb.Grade{DecisionID: d.ID, Analysis: analysis}
		if nextPrice != nil && d.Price > 0 {
			g.ActualReturn = (*nextPrice - d.Price) / d.Price
		}
		luck, ok := luckBySymbol[d.Symbol]
		if !ok {
			luck = r.symbolAnalyzer(ctx, d.Symbol)
			luckBySymbol[d.Symbol] = luck
		}
		if luck != nil && nextPrice != nil {
			la := luck.AnalyzeDecision(
				g.ActualReturn,
				analysis.ExpectedReturn(),
				analysis.IndicatorsAligned(),
				analysis.SizedCorrectly(),
				analysis.HistoricalSuccessRate(),
			)
			g.Luck = &la
		}
		grades = append(grades, g)
	}
	return grades, nil
}

// symbolAnalyzer builds a luck analyzer over the symbol's own return
// history. Journaled per-decision returns come first; when they fall
// short, daily bars from the broker top the series up. A symbol whose
// history is still under MinHistory stays unclassified.
func (r *Reviewer) symbolAnalyzer(ctx context.Context, symbol string) *stats.Analyzer {
	series, err := r.jrnl.Returns(symbol, r.cfg.ReturnLookback)
	if err != nil {
		observ.Warn("luck_history_unavailable", map[string]any{"symbol": symbol, "error": err.Error()})
		return nil
	}
	if len(series) < r.cfg.MinHistory && r.market != nil {
		end := r.now()
		// Calendar days outnumber trading days; over-fetch the window.
		start := end.AddDate(0, 0, -2*r.cfg.ReturnLookback)
		bars, err := r.market.Bars(ctx, symbol, start, end, r.cfg.ReturnLookback+1)
		if err != nil {
			observ.Warn("bars_unavailable", map[string]any{"symbol": symbol, "error": err.Error()})
		} else {
			series = append(barReturns(bars), series...)
		}
	}
	if len(series) < r.cfg.MinHistory {
		observ.Warn("luck_history_short", map[string]any{
			"symbol": symbol,
			"have":   len(series),
			"need":   r.cfg.MinHistory,
		})
		return nil
	}
	if len(series) > r.cfg.ReturnLookback {
		series = series[len(series)-r.cfg.ReturnLookback:]
	}
	luck, err := stats.New(series, stats.Config{
		SkillThreshold: r.cfg.SkillThreshold,
		LuckyZ:         r.cfg.LuckyZ,
		MinHistory:     r.cfg.MinHistory,
		Denoise:        r.cfg.Denoise,
	})
	if err != nil {
		observ.Warn("luck_analyzer_failed", map[string]any{"symbol": symbol, "error": err.Error()})
		return nil
	}
	return luck
}

// barReturns converts daily bars to close-to-close returns.
func barReturns(bars []broker.Bar) []float64 {
	out := make([]float64, 0, len(bars))
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev <= 0 {
			continue
		}
		out = append(out, (bars[i].Close-prev)/prev)
	}
	return out
}
