// Package kb is the durable knowledge store. Structured JSONL files are
// the source of truth, one record per line per section, each section
// under a hard entry cap; markdown is rendered from them as a derived
// view. Only the EOD reviewer writes here, which is what makes the store
// safe without locking.
package kb

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/quantpulse/tradingkb/internal/observ"
)

const (
	fileBuyRules      = "rules_buy.jsonl"
	fileSellRules     = "rules_sell.jsonl"
	fileHoldRules     = "rules_hold.jsonl"
	fileLessons       = "lessons.jsonl"
	fileRecentLessons = "recent_lessons.jsonl"
	fileNeverRepeat   = "never_repeat.jsonl"
	filePatterns      = "market_patterns.jsonl"
	fileErrors        = "errors.jsonl"
	fileStats         = "stats.json"
	fileMasterIndex   = "master_index.md"
	sessionsDir       = "sessions"
)

// Lesson is the unit of deduplication and of lesson-stream growth.
type Lesson struct {
	Text     string `json:"text"`
	Quadrant string `json:"quadrant,omitempty"`
	Date     string `json:"date"`
}

type LessonKind string

const (
	LessonWorks LessonKind = "works" // Q1/Q3: skill was present
	LessonAvoid LessonKind = "avoid" // Q2/Q4: skill was absent
)

type lessonRecord struct {
	Lesson
	Kind LessonKind `json:"kind"`
}

// Rule is a learned trading rule derived from a skilled decision.
type Rule struct {
	Date     string `json:"date"`
	Symbol   string `json:"symbol"`
	Action   string `json:"action"`
	Text     string `json:"text"`
	Skill    int    `json:"skill"`
	Quadrant string `json:"quadrant,omitempty"`
}

// NeverRepeatRule is a consolidated failure pattern. Duplicate patterns
// merge into one entry with an occurrence count and a widened date range
// instead of stacking rows.
type NeverRepeatRule struct {
	Pattern     string `json:"pattern"`
	Reason      string `json:"reason"`
	Occurrences int    `json:"occurrences"`
	FirstSeen   string `json:"first_seen"`
	LastSeen    string `json:"last_seen"`
}

// MarketPattern is a running win/loss tally for one symbol/action pair,
// the KB-visible digest of the journal's full history.
type MarketPattern struct {
	Symbol   string  `json:"symbol"`
	Action   string  `json:"action"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	WinRate  float64 `json:"win_rate"`
	LastSeen string  `json:"last_seen"`
}

type ErrorEntry struct {
	Date   string `json:"date"`
	Symbol string `json:"symbol"`
	What   string `json:"what"`
	Loss   string `json:"loss"`
	Lesson string `json:"lesson"`
}

type Stats struct {
	TotalDays      int     `json:"total_days"`
	TotalDecisions int     `json:"total_decisions"`
	AvgSkillScore  float64 `json:"avg_skill_score"`
	AvgLuckFactor  float64 `json:"avg_luck_factor"`
	WinRate        float64 `json:"win_rate"`
}

// Caps are the hard per-section entry limits. Writes beyond a cap evict
// the oldest entries.
type Caps struct {
	BuyRules      int
	SellRules     int
	HoldRules     int
	RecentLessons int
	Lessons       int // per lesson kind
	Patterns      int
	Errors        int
	NeverRepeat   int
}

func DefaultCaps() Caps {
	return Caps{
		BuyRules:      15,
		SellRules:     15,
		HoldRules:     10,
		RecentLessons: 5,
		Lessons:       20,
		Patterns:      10,
		Errors:        25,
		NeverRepeat:   15,
	}
}

type Store struct {
	root string
	caps Caps
}

func Open(root string, caps Caps) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, sessionsDir), 0755); err != nil {
		return nil, fmt.Errorf("kb structure: %w", err)
	}
	return &Store{root: root, caps: caps}, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) path(name string) string { return filepath.Join(s.root, name) }

func (s *Store) sessionDir(date string) string {
	// Dates can arrive with time components; keep directory names tame.
	dir := strings.NewReplacer(":", "", " ", "_").Replace(date)
	return filepath.Join(s.root, sessionsDir, dir)
}

// readLines decodes a JSONL section. A missing or unreadable file reads
// as empty; a corrupt line is skipped, never fatal, and the file is left
// untouched until the next full section rewrite.
func (s *Store) readLines(name string, decode func([]byte) bool) {
	f, err := os.Open(s.path(name))
	if err != nil {
		if !os.IsNotExist(err) {
			observ.Warn("kb_section_unreadable", map[string]any{"file": name, "error": err.Error()})
		}
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !decode([]byte(line)) {
			observ.Warn("kb_line_corrupt", map[string]any{"file": name})
		}
	}
}

// writeLines rewrites a whole section atomically. Sections are small
// (cap-bounded) so full rewrites stay cheap.
func (s *Store) writeLines(name string, records []any) error {
	var b strings.Builder
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", name, err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	tmp := s.path(name) + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (s *Store) readRules(name string) []Rule {
	var out []Rule
	s.readLines(name, func(line []byte) bool {
		var r Rule
		if json.Unmarshal(line, &r) != nil {
			return false
		}
		out = append(out, r)
		return true
	})
	return out
}

func (s *Store) readLessonRecords() []lessonRecord {
	var out []lessonRecord
	s.readLines(fileLessons, func(line []byte) bool {
		var r lessonRecord
		if json.Unmarshal(line, &r) != nil {
			return false
		}
		out = append(out, r)
		return true
	})
	return out
}

func (s *Store) readRecentLessons() []Lesson {
	var out []Lesson
	s.readLines(fileRecentLessons, func(line []byte) bool {
		var l Lesson
		if json.Unmarshal(line, &l) != nil {
			return false
		}
		out = append(out, l)
		return true
	})
	return out
}

func (s *Store) readNeverRepeat() []NeverRepeatRule {
	var out []NeverRepeatRule
	s.readLines(fileNeverRepeat, func(line []byte) bool {
		var r NeverRepeatRule
		if json.Unmarshal(line, &r) != nil {
			return false
		}
		out = append(out, r)
		return true
	})
	return out
}

func (s *Store) readPatterns() []MarketPattern {
	var out []MarketPattern
	s.readLines(filePatterns, func(line []byte) bool {
		var p MarketPattern
		if json.Unmarshal(line, &p) != nil {
			return false
		}
		out = append(out, p)
		return true
	})
	return out
}

func (s *Store) readErrors() []ErrorEntry {
	var out []ErrorEntry
	s.readLines(fileErrors, func(line []byte) bool {
		var e ErrorEntry
		if json.Unmarshal(line, &e) != nil {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

var (
	tickerRe    = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	skillCondRe = regexp.MustCompile(`SKILL\s*<\s*(\d+)`)
)

// Words that look like tickers but never are, in lesson text.
var tickerStop = map[string]bool{
	"BUY": true, "SELL": true, "HOLD": true, "WHEN": true, "RSI": true,
	"NEVER": true, "ALWAYS": true, "AGAIN": true,
	"VWAP": true, "SKILL": true, "LUCK": true, "AVOID": true, "LEARN": true,
	"MA": true, "EOD": true, "THE": true, "AND": true, "NOT": true,
	"WARNING": true, "PERSIST": true, "REINFORCE": true, "CRITICAL": true,
}

// PatternKey normalizes an entry to ACTION_SYMBOL[_condition]. Entries
// sharing a key are the same pattern regardless of wording or minor
// numeric drift; this key governs the structured rule and never-repeat
// sections, where exactness beats nuance.
func PatternKey(entry string) string {
	upper := strings.ToUpper(entry)

	action := "UNKNOWN"
	switch {
	case strings.Contains(upper, "BUY"):
		action = "BUY"
	case strings.Contains(upper, "SELL"):
		action = "SELL"
	case strings.Contains(upper, "HOLD"):
		action = "HOLD"
	}

	symbol := "UNKNOWN"
	for _, tok := range tickerRe.FindAllString(upper, -1) {
		if !tickerStop[tok] {
			symbol = tok
			break
		}
	}

	cond := ""
	if m := skillCondRe.FindStringSubmatch(upper); m != nil {
		cond = "_skill<" + m[1]
	}

	return action + "_" + symbol + cond
}
