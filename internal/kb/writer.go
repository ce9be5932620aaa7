package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quantpulse/tradingkb/internal/analyzer"
	"github.com/quantpulse/tradingkb/internal/observ"
	"github.com/quantpulse/tradingkb/internal/stats"
)

// Grade is one fully evaluated decision: the deterministic skill/outcome
// analysis plus, when enough return history existed, the statistical
// luck classification.
type Grade struct {
	DecisionID   string            `json:"decision_id"`
	ActualReturn float64           `json:"actual_return"`
	Analysis     analyzer.Analysis `json:"analysis"`
	Luck         *stats.Analysis   `json:"luck,omitempty"`
}

// Skilled reports whether the decision process was sound. The quadrant
// verdict wins when available; otherwise the deterministic skill score
// is compared against the configured threshold.
func (g Grade) Skilled(threshold float64) bool {
	if g.Luck != nil {
		return g.Luck.Quadrant == stats.Q1SkillLuck || g.Luck.Quadrant == stats.Q3SkillNoLuck
	}
	return float64(g.Analysis.SkillScore) >= threshold
}

// Lucky reports whether chance moved in the decision's favor.
func (g Grade) Lucky() bool {
	if g.Luck == nil {
		return false
	}
	return g.Luck.Quadrant == stats.Q1SkillLuck || g.Luck.Quadrant == stats.Q2NoSkillLuck
}

func (g Grade) quadrant() string {
	if g.Luck == nil {
		return ""
	}
	return string(g.Luck.Quadrant)
}

// Merge records a lesson-text replacement produced by deduplication: the
// existing KB lesson is rewritten in place rather than duplicated.
type Merge struct {
	OldText string
	NewText string
}

// DaySummary is everything the reviewer hands the store for one trading
// day. WriteDay is safe to retry: a crash after a partial write followed
// by a rerun with the same summary converges on the same state.
type DaySummary struct {
	Date           string
	Grades         []Grade
	Lessons        []Lesson
	Merges         []Merge
	SkillThreshold float64
	StartValue     decimal.Decimal
	EndValue       decimal.Decimal
}

// WriteDay persists the per-day artifacts, folds the day's findings into
// the structured sections, recomputes aggregate statistics, compacts,
// and re-renders the markdown view.
func (s *Store) WriteDay(day DaySummary) error {
	if err := s.writeSessionArtifacts(day); err != nil {
		return err
	}
	if err := s.updateLessons(day); err != nil {
		return err
	}
	if err := s.updateRules(day); err != nil {
		return err
	}
	if err := s.updateNeverRepeat(day); err != nil {
		return err
	}
	if err := s.updatePatterns(day); err != nil {
		return err
	}
	if err := s.updateErrors(day); err != nil {
		return err
	}
	if err := s.writeStats(); err != nil {
		return err
	}
	if err := s.Compact(); err != nil {
		return err
	}
	if err := s.ExportMarkdown(); err != nil {
		return err
	}
	observ.Log("kb_day_written", map[string]any{
		"date":      day.Date,
		"decisions": len(day.Grades),
		"lessons":   len(day.Lessons),
	})
	return nil
}

func (s *Store) writeSessionArtifacts(day DaySummary) error {
	dir := s.sessionDir(day.Date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}

	decData, err := json.MarshalIndent(day.Grades, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal grades: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "decisions.json"), decData, 0644); err != nil {
		return fmt.Errorf("write decisions.json: %w", err)
	}

	type quadEntry struct {
		Symbol   string  `json:"symbol"`
		Action   string  `json:"action"`
		Quadrant string  `json:"quadrant"`
		Skill    int     `json:"skill_score"`
		Outcome  int     `json:"outcome_score"`
		ZScore   float64 `json:"z_score,omitempty"`
	}
	breakdown := struct {
		Date    string         `json:"date"`
		Counts  map[string]int `json:"counts"`
		Entries []quadEntry    `json:"entries"`
	}{Date: day.Date, Counts: map[string]int{}}
	for _, g := range day.Grades {
		q := g.quadrant()
		if q == "" {
			q = "UNCLASSIFIED"
		}
		breakdown.Counts[q]++
		e := quadEntry{
			Symbol:   g.Analysis.Symbol,
			Action:   string(g.Analysis.Action),
			Quadrant: q,
			Skill:    g.Analysis.SkillScore,
			Outcome:  g.Analysis.OutcomeScore,
		}
		if g.Luck != nil {
			e.ZScore = g.Luck.ZScore
		}
		breakdown.Entries = append(breakdown.Entries, e)
	}
	quadData, err := json.MarshalIndent(breakdown, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal quadrants: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "quadrants.json"), quadData, 0644); err != nil {
		return fmt.Errorf("write quadrants.json: %w", err)
	}

	md := s.renderSessionSummary(day)
	if err := os.WriteFile(filepath.Join(dir, "summary.md"), []byte(md), 0644); err != nil {
		return fmt.Errorf("write summary.md: %w", err)
	}
	return nil
}

func (s *Store) renderSessionSummary(day DaySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trading Session %s\n\n", day.Date)
	if !day.StartValue.IsZero() || !day.EndValue.IsZero() {
		change := day.EndValue.Sub(day.StartValue)
		fmt.Fprintf(&b, "Portfolio: %s -> %s (%s)\n\n",
			day.StartValue.StringFixed(2), day.EndValue.StringFixed(2), change.StringFixed(2))
	}
	fmt.Fprintf(&b, "## Decisions (%d)\n\n", len(day.Grades))
	b.WriteString("| Symbol | Action | Skill | Outcome | P/L | Quadrant |\n")
	b.WriteString("|--------|--------|-------|---------|-----|----------|\n")
	for _, g := range day.Grades {
		q := g.quadrant()
		if g.Luck != nil {
			q = g.Luck.Quadrant.Indicator() + " " + q
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %s | %s |\n",
			g.Analysis.Symbol, g.Analysis.Action, g.Analysis.SkillScore,
			g.Analysis.OutcomeScore, g.Analysis.ProfitLoss.StringFixed(2), q)
	}
	if len(day.Lessons) > 0 {
		b.WriteString("\n## Lessons\n\n")
		for _, l := range day.Lessons {
			fmt.Fprintf(&b, "- %s\n", l.Text)
		}
	}
	return b.String()
}

func lessonKind(l Lesson) LessonKind {
	switch l.Quadrant {
	case string(stats.Q2NoSkillLuck), string(stats.Q4NoSkillNoLuck):
		return LessonAvoid
	}
	if strings.Contains(strings.ToUpper(l.Text), "AVOID") {
		return LessonAvoid
	}
	return LessonWorks
}

func (s *Store) updateLessons(day DaySummary) error {
	records := s.readLessonRecords()

	for _, m := range day.Merges {
		for i := range records {
			if records[i].Text == m.OldText {
				records[i].Text = m.NewText
				records[i].Date = day.Date
			}
		}
	}

	existing := make(map[string]bool, len(records))
	for _, r := range records {
		existing[r.Text] = true
	}
	for _, l := range day.Lessons {
		if existing[l.Text] {
			continue // retry of a partially completed write
		}
		records = append(records, lessonRecord{Lesson: l, Kind: lessonKind(l)})
		existing[l.Text] = true
	}

	records = capPerKind(records, s.caps.Lessons)
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r
	}
	if err := s.writeLines(fileLessons, out); err != nil {
		return err
	}

	return s.updateRecentLessons(day)
}

// capPerKind keeps the newest entries of each kind. Records are stored
// oldest first, so eviction drops from the front.
func capPerKind(records []lessonRecord, cap int) []lessonRecord {
	if cap <= 0 {
		return records
	}
	counts := map[LessonKind]int{}
	for _, r := range records {
		counts[r.Kind]++
	}
	var out []lessonRecord
	for _, r := range records {
		if counts[r.Kind] > cap {
			counts[r.Kind]--
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *Store) updateRecentLessons(day DaySummary) error {
	recent := s.readRecentLessons() // newest first

	for _, m := range day.Merges {
		for i := range recent {
			if recent[i].Text == m.OldText {
				recent[i].Text = m.NewText
			}
		}
	}

	seen := make(map[string]bool, len(recent))
	for _, l := range recent {
		seen[l.Text] = true
	}
	// Prepend in reverse so the day's own ordering survives.
	for i := len(day.Lessons) - 1; i >= 0; i-- {
		l := day.Lessons[i]
		if seen[l.Text] {
			continue
		}
		recent = append([]Lesson{l}, recent...)
		seen[l.Text] = true
	}
	if len(recent) > s.caps.RecentLessons {
		recent = recent[:s.caps.RecentLessons]
	}
	out := make([]any, len(recent))
	for i, l := range recent {
		out[i] = l
	}
	return s.writeLines(fileRecentLessons, out)
}

func ruleFile(action string) (string, int) {
	switch strings.ToUpper(action) {
	case "BUY":
		return fileBuyRules, 0
	case "SELL":
		return fileSellRules, 1
	default:
		return fileHoldRules, 2
	}
}

func (s *Store) updateRules(day DaySummary) error {
	files := []string{fileBuyRules, fileSellRules, fileHoldRules}
	caps := []int{s.caps.BuyRules, s.caps.SellRules, s.caps.HoldRules}
	sections := make([][]Rule, 3)
	for i, f := range files {
		sections[i] = s.readRules(f)
	}

	for _, g := range day.Grades {
		if !g.Skilled(day.SkillThreshold) || !g.Analysis.Profitable {
			continue
		}
		text := fmt.Sprintf("%s %s: %s", g.Analysis.Action, g.Analysis.Symbol, g.Analysis.WhatWentRight)
		_, idx := ruleFile(string(g.Analysis.Action))
		key := PatternKey(text)
		dup := false
		for _, r := range sections[idx] {
			if PatternKey(r.Text) == key {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		sections[idx] = append(sections[idx], Rule{
			Date:     day.Date,
			Symbol:   g.Analysis.Symbol,
			Action:   string(g.Analysis.Action),
			Text:     text,
			Skill:    g.Analysis.SkillScore,
			Quadrant: g.quadrant(),
		})
	}

	for i, f := range files {
		sec := sections[i]
		if len(sec) > caps[i] {
			sec = sec[len(sec)-caps[i]:]
		}
		out := make([]any, len(sec))
		for j, r := range sec {
			out[j] = r
		}
		if err := s.writeLines(f, out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) updateNeverRepeat(day DaySummary) error {
	rules := s.readNeverRepeat()
	index := make(map[string]int, len(rules))
	for i, r := range rules {
		index[PatternKey(r.Pattern)] = i
	}

	for _, g := range day.Grades {
		if g.Skilled(day.SkillThreshold) {
			continue
		}
		pattern := fmt.Sprintf("%s %s when skill<%.0f", g.Analysis.Action, g.Analysis.Symbol, day.SkillThreshold)
		key := PatternKey(pattern)
		if i, ok := index[key]; ok {
			// Same-day repeats of one pattern count once, which also
			// keeps a retried write from inflating the tally.
			if rules[i].LastSeen != day.Date {
				rules[i].Occurrences++
				rules[i].LastSeen = day.Date
			}
			if g.Analysis.WhatWentWrong != "" {
				rules[i].Reason = g.Analysis.WhatWentWrong
			}
			continue
		}
		rules = append(rules, NeverRepeatRule{
			Pattern:     pattern,
			Reason:      g.Analysis.WhatWentWrong,
			Occurrences: 1,
			FirstSeen:   day.Date,
			LastSeen:    day.Date,
		})
		index[key] = len(rules) - 1
	}

	rules = consolidateNeverRepeat(rules, s.caps.NeverRepeat)
	out := make([]any, len(rules))
	for i, r := range rules {
		out[i] = r
	}
	return s.writeLines(fileNeverRepeat, out)
}

// consolidateNeverRepeat merges entries that share a pattern key, summing
// occurrences and widening the date range, then enforces the cap by
// dropping the lowest-evidence entries. Running it twice is a no-op.
func consolidateNeverRepeat(rules []NeverRepeatRule, cap int) []NeverRepeatRule {
	byKey := map[string]*NeverRepeatRule{}
	var order []string
	for _, r := range rules {
		key := PatternKey(r.Pattern)
		cur, ok := byKey[key]
		if !ok {
			cp := r
			byKey[key] = &cp
			order = append(order, key)
			continue
		}
		cur.Occurrences += r.Occurrences
		if r.FirstSeen < cur.FirstSeen {
			cur.FirstSeen = r.FirstSeen
		}
		if r.LastSeen > cur.LastSeen {
			cur.LastSeen = r.LastSeen
			cur.Reason = r.Reason
		}
	}
	out := make([]NeverRepeatRule, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	if cap > 0 && len(out) > cap {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Occurrences != out[j].Occurrences {
				return out[i].Occurrences > out[j].Occurrences
			}
			return out[i].LastSeen > out[j].LastSeen
		})
		out = out[:cap]
	}
	return out
}

// updatePatterns folds the day's outcomes into the per-pair win/loss
// tallies. A pair already stamped with today's date is a retried write
// and is not counted again.
func (s *Store) updatePatterns(day DaySummary) error {
	patterns := s.readPatterns()
	index := make(map[string]int, len(patterns))
	for i, p := range patterns {
		index[p.Symbol+"|"+p.Action] = i
	}

	type delta struct{ wins, losses int }
	deltas := map[string]delta{}
	for _, g := range day.Grades {
		key := g.Analysis.Symbol + "|" + string(g.Analysis.Action)
		d := deltas[key]
		if g.Analysis.Profitable {
			d.wins++
		} else {
			d.losses++
		}
		deltas[key] = d
	}

	for _, g := range day.Grades {
		key := g.Analysis.Symbol + "|" + string(g.Analysis.Action)
		d, pending := deltas[key]
		if !pending {
			continue
		}
		delete(deltas, key)

		if i, ok := index[key]; ok {
			if patterns[i].LastSeen == day.Date {
				continue
			}
			patterns[i].Wins += d.wins
			patterns[i].Losses += d.losses
			patterns[i].LastSeen = day.Date
		} else {
			patterns = append(patterns, MarketPattern{
				Symbol:   g.Analysis.Symbol,
				Action:   string(g.Analysis.Action),
				Wins:     d.wins,
				Losses:   d.losses,
				LastSeen: day.Date,
			})
			index[key] = len(patterns) - 1
		}
	}

	for i := range patterns {
		if total := patterns[i].Wins + patterns[i].Losses; total > 0 {
			patterns[i].WinRate = float64(patterns[i].Wins) / float64(total)
		}
	}

	patterns = capPatterns(patterns, s.caps.Patterns)
	out := make([]any, len(patterns))
	for i, p := range patterns {
		out[i] = p
	}
	return s.writeLines(filePatterns, out)
}

// capPatterns keeps the highest-evidence pairs, most recent first on ties.
func capPatterns(patterns []MarketPattern, cap int) []MarketPattern {
	if cap <= 0 || len(patterns) <= cap {
		return patterns
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		ei, ej := patterns[i].Wins+patterns[i].Losses, patterns[j].Wins+patterns[j].Losses
		if ei != ej {
			return ei > ej
		}
		return patterns[i].LastSeen > patterns[j].LastSeen
	})
	return patterns[:cap]
}

func (s *Store) updateErrors(day DaySummary) error {
	entries := s.readErrors()
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Date+"|"+e.Symbol+"|"+e.What] = true
	}

	for _, g := range day.Grades {
		if g.Analysis.Profitable || g.Skilled(day.SkillThreshold) {
			continue
		}
		e := ErrorEntry{
			Date:   day.Date,
			Symbol: g.Analysis.Symbol,
			What:   fmt.Sprintf("%s with skill score %d", g.Analysis.Action, g.Analysis.SkillScore),
			Loss:   g.Analysis.ProfitLoss.StringFixed(2),
			Lesson: g.Analysis.LessonLearned,
		}
		if seen[e.Date+"|"+e.Symbol+"|"+e.What] {
			continue
		}
		entries = append(entries, e)
		seen[e.Date+"|"+e.Symbol+"|"+e.What] = true
	}

	if len(entries) > s.caps.Errors {
		entries = entries[len(entries)-s.caps.Errors:]
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e
	}
	return s.writeLines(fileErrors, out)
}

func (s *Store) writeStats() error {
	st := s.Statistics()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	if err := os.WriteFile(s.path(fileStats)+".tmp", data, 0644); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return os.Rename(s.path(fileStats)+".tmp", s.path(fileStats))
}

// Compact re-consolidates the never-repeat section and re-applies every
// cap. It exists for recovery and maintenance; WriteDay already calls it.
func (s *Store) Compact() error {
	rules := consolidateNeverRepeat(s.readNeverRepeat(), s.caps.NeverRepeat)
	out := make([]any, len(rules))
	for i, r := range rules {
		out[i] = r
	}
	if err := s.writeLines(fileNeverRepeat, out); err != nil {
		return err
	}

	for _, sec := range []struct {
		file string
		cap  int
	}{
		{fileBuyRules, s.caps.BuyRules},
		{fileSellRules, s.caps.SellRules},
		{fileHoldRules, s.caps.HoldRules},
	} {
		recs := s.readRules(sec.file)
		if len(recs) > sec.cap {
			recs = recs[len(recs)-sec.cap:]
		}
		o := make([]any, len(recs))
		for i, r := range recs {
			o[i] = r
		}
		if err := s.writeLines(sec.file, o); err != nil {
			return err
		}
	}

	lessons := capPerKind(s.readLessonRecords(), s.caps.Lessons)
	lo := make([]any, len(lessons))
	for i, l := range lessons {
		lo[i] = l
	}
	if err := s.writeLines(fileLessons, lo); err != nil {
		return err
	}

	recent := s.readRecentLessons()
	if len(recent) > s.caps.RecentLessons {
		recent = recent[:s.caps.RecentLessons]
	}
	ro := make([]any, len(recent))
	for i, l := range recent {
		ro[i] = l
	}
	if err := s.writeLines(fileRecentLessons, ro); err != nil {
		return err
	}

	patterns := capPatterns(s.readPatterns(), s.caps.Patterns)
	po := make([]any, len(patterns))
	for i, p := range patterns {
		po[i] = p
	}
	if err := s.writeLines(filePatterns, po); err != nil {
		return err
	}

	errs := s.readErrors()
	if len(errs) > s.caps.Errors {
		errs = errs[len(errs)-s.caps.Errors:]
	}
	eo := make([]any, len(errs))
	for i, e := range errs {
		eo[i] = e
	}
	return s.writeLines(fileErrors, eo)
}
