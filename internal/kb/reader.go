package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quantpulse/tradingkb/internal/observ"
)

// ExistingLessons returns every stored lesson, newest last, for the
// deduplicator to compare a day's candidates against.
func (s *Store) ExistingLessons() []Lesson {
	records := s.readLessonRecords()
	out := make([]Lesson, 0, len(records))
	for _, r := range records {
		out = append(out, r.Lesson)
	}
	return out
}

// NeverRepeatRules returns the consolidated failure patterns.
func (s *Store) NeverRepeatRules() []NeverRepeatRule {
	return s.readNeverRepeat()
}

// Rules returns the learned rules for one action ("BUY", "SELL", "HOLD").
func (s *Store) Rules(action string) []Rule {
	f, _ := ruleFile(action)
	return s.readRules(f)
}

// MarketPatterns returns the per-pair win/loss tallies.
func (s *Store) MarketPatterns() []MarketPattern {
	return s.readPatterns()
}

// SessionDates lists every recorded session directory in ascending order.
func (s *Store) SessionDates() []string {
	entries, err := os.ReadDir(filepath.Join(s.root, sessionsDir))
	if err != nil {
		return nil
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			dates = append(dates, e.Name())
		}
	}
	sort.Strings(dates)
	return dates
}

// Statistics recomputes the aggregate view by scanning every session's
// decision artifact. Unreadable sessions are skipped with a warning.
func (s *Store) Statistics() Stats {
	var st Stats
	var skillSum, luckSum float64
	var wins int

	for _, date := range s.SessionDates() {
		data, err := os.ReadFile(filepath.Join(s.root, sessionsDir, date, "decisions.json"))
		if err != nil {
			continue
		}
		var grades []Grade
		if err := json.Unmarshal(data, &grades); err != nil {
			observ.Warn("kb_session_corrupt", map[string]any{"date": date, "error": err.Error()})
			continue
		}
		st.TotalDays++
		for _, g := range grades {
			st.TotalDecisions++
			skillSum += float64(g.Analysis.SkillScore)
			luckSum += g.Analysis.LuckFactor
			if g.Analysis.Profitable {
				wins++
			}
		}
	}
	if st.TotalDecisions > 0 {
		st.AvgSkillScore = skillSum / float64(st.TotalDecisions)
		st.AvgLuckFactor = luckSum / float64(st.TotalDecisions)
		st.WinRate = float64(wins) / float64(st.TotalDecisions)
	}
	return st
}

// ExportMarkdown renders the master index from the structured sections.
// The markdown is a derived view; deleting it loses nothing.
func (s *Store) ExportMarkdown() error {
	st := s.Statistics()
	var b strings.Builder

	b.WriteString("# Trading Knowledge Base\n\n")
	fmt.Fprintf(&b, "Sessions: %d | Decisions: %d | Win rate: %.0f%% | Avg skill: %.1f\n\n",
		st.TotalDays, st.TotalDecisions, st.WinRate*100, st.AvgSkillScore)

	if recent := s.readRecentLessons(); len(recent) > 0 {
		b.WriteString("## Recent Lessons\n\n")
		for _, l := range recent {
			fmt.Fprintf(&b, "- [%s] %s\n", l.Date, l.Text)
		}
		b.WriteString("\n")
	}

	if never := s.readNeverRepeat(); len(never) > 0 {
		b.WriteString("## Never Repeat\n\n")
		for _, r := range never {
			fmt.Fprintf(&b, "- **%s** (seen %dx, %s to %s): %s\n",
				r.Pattern, r.Occurrences, r.FirstSeen, r.LastSeen, r.Reason)
		}
		b.WriteString("\n")
	}

	for _, sec := range []struct {
		title string
		file  string
	}{
		{"Buy Rules", fileBuyRules},
		{"Sell Rules", fileSellRules},
		{"Hold Rules", fileHoldRules},
	} {
		rules := s.readRules(sec.file)
		if len(rules) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", sec.title)
		for _, r := range rules {
			fmt.Fprintf(&b, "- [%s] %s (skill %d)\n", r.Date, r.Text, r.Skill)
		}
		b.WriteString("\n")
	}

	records := s.readLessonRecords()
	var works, avoid []lessonRecord
	for _, r := range records {
		if r.Kind == LessonAvoid {
			avoid = append(avoid, r)
		} else {
			works = append(works, r)
		}
	}
	if len(works) > 0 {
		b.WriteString("## What Works\n\n")
		for _, r := range works {
			fmt.Fprintf(&b, "- %s\n", r.Text)
		}
		b.WriteString("\n")
	}
	if len(avoid) > 0 {
		b.WriteString("## What Doesn't\n\n")
		for _, r := range avoid {
			fmt.Fprintf(&b, "- %s\n", r.Text)
		}
		b.WriteString("\n")
	}

	if patterns := s.readPatterns(); len(patterns) > 0 {
		b.WriteString("## Market Patterns\n\n")
		for _, p := range patterns {
			fmt.Fprintf(&b, "- %s %s: %d wins / %d losses (%.0f%%), last %s\n",
				strings.ToUpper(p.Action), p.Symbol, p.Wins, p.Losses, p.WinRate*100, p.LastSeen)
		}
		b.WriteString("\n")
	}

	if errs := s.readErrors(); len(errs) > 0 {
		b.WriteString("## Error Log\n\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- [%s] %s %s, loss %s: %s\n", e.Date, e.Symbol, e.What, e.Loss, e.Lesson)
		}
		b.WriteString("\n")
	}

	return os.WriteFile(s.path(fileMasterIndex), []byte(b.String()), 0644)
}

// Purge removes everything the store owns: session artifacts, the
// structured sections, statistics, and the rendered markdown. Files the
// store does not recognize stay in place, so user-authored notes in the
// same directory survive.
func (s *Store) Purge() error {
	owned := []string{
		fileBuyRules, fileSellRules, fileHoldRules,
		fileLessons, fileRecentLessons, fileNeverRepeat,
		filePatterns, fileErrors, fileStats, fileMasterIndex,
	}
	for _, name := range owned {
		if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("purge %s: %w", name, err)
		}
	}
	if err := os.RemoveAll(filepath.Join(s.root, sessionsDir)); err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(s.root, sessionsDir), 0755); err != nil {
		return err
	}
	observ.Log("kb_purged", map[string]any{"root": s.root})
	return nil
}
