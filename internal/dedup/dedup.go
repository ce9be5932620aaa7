// Package dedup keeps the lesson stream free of restatements. Two
// strategies exist: a deterministic pattern-key comparison and an LLM
// judgement call that can also merge a new lesson into an existing one.
// The LLM path degrades to signature matching when the model is
// unreachable, so review never blocks on a remote service.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/quantpulse/tradingkb/internal/kb"
	"github.com/quantpulse/tradingkb/internal/llm"
	"github.com/quantpulse/tradingkb/internal/observ"
)

// Result is the outcome of deduplicating one day's candidate lessons.
type Result struct {
	New     []kb.Lesson // lessons to append to the KB
	Merges  []kb.Merge  // in-place rewrites of existing lessons
	Removed int         // candidates dropped as duplicates or merged away
}

// Deduplicator decides which candidate lessons are genuinely new
// relative to the stored corpus.
type Deduplicator interface {
	Deduplicate(ctx context.Context, candidates, existing []kb.Lesson) (Result, error)
}

// PatternKeyDeduplicator drops any candidate whose normalized pattern
// key already appears in the corpus or earlier in the same batch. It is
// deterministic and never merges.
type PatternKeyDeduplicator struct{}

func (PatternKeyDeduplicator) Deduplicate(_ context.Context, candidates, existing []kb.Lesson) (Result, error) {
	seen := make(map[string]bool, len(existing))
	for _, l := range existing {
		seen[kb.PatternKey(l.Text)] = true
	}

	var res Result
	for _, c := range candidates {
		key := kb.PatternKey(c.Text)
		if seen[key] {
			res.Removed++
			continue
		}
		seen[key] = true
		res.New = append(res.New, c)
	}
	return res, nil
}

// LLMDeduplicator asks a language model to classify each candidate as
// new, duplicate, or a merge into an existing lesson. Responses it
// cannot trust degrade per lesson toward keeping the candidate, and a
// failed call falls back to signature matching for the whole batch.
type LLMDeduplicator struct {
	Gen llm.Generator
}

type dedupDecision struct {
	NewID        int    `json:"new_id"`
	Action       string `json:"action"`
	ExistingID   int    `json:"existing_id"`
	MergedLesson string `json:"merged_lesson"`
}

func (d LLMDeduplicator) Deduplicate(ctx context.Context, candidates, existing []kb.Lesson) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, nil
	}
	if len(existing) == 0 {
		// Nothing to compare against; still collapse the batch itself.
		return PatternKeyDeduplicator{}.Deduplicate(ctx, candidates, nil)
	}

	raw, err := d.Gen.Generate(ctx, buildPrompt(candidates, existing))
	if err != nil {
		observ.Warn("dedup_llm_failed", map[string]any{"error": err.Error()})
		return fallbackDeduplicate(candidates, existing), nil
	}

	decisions, err := parseDecisions(raw)
	if err != nil {
		observ.Warn("dedup_response_unparseable", map[string]any{"error": err.Error()})
		return fallbackDeduplicate(candidates, existing), nil
	}

	byID := make(map[int]dedupDecision, len(decisions))
	for _, dec := range decisions {
		byID[dec.NewID] = dec
	}

	var res Result
	for i, c := range candidates {
		dec, ok := byID[i+1]
		if !ok {
			res.New = append(res.New, c)
			continue
		}
		switch dec.Action {
		case "duplicate":
			res.Removed++
		case "merge":
			if dec.ExistingID < 1 || dec.ExistingID > len(existing) || strings.TrimSpace(dec.MergedLesson) == "" {
				// Malformed merge; keeping the candidate loses nothing.
				res.New = append(res.New, c)
				continue
			}
			res.Merges = append(res.Merges, kb.Merge{
				OldText: existing[dec.ExistingID-1].Text,
				NewText: strings.TrimSpace(dec.MergedLesson),
			})
			res.Removed++
		default:
			res.New = append(res.New, c)
		}
	}
	return res, nil
}

func buildPrompt(candidates, existing []kb.Lesson) string {
	var b strings.Builder
	b.WriteString("You maintain a trading lessons knowledge base. Compare the NEW lessons against the EXISTING ones.\n\n")
	b.WriteString("EXISTING LESSONS:\n")
	for i, l := range existing {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l.Text)
	}
	b.WriteString("\nNEW LESSONS:\n")
	for i, l := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l.Text)
	}
	b.WriteString(`
For each NEW lesson decide:
- "new" if it teaches something the existing lessons do not
- "duplicate" if an existing lesson already covers it
- "merge" if combining it with one existing lesson makes a stronger single lesson

Respond with ONLY a JSON array, one object per NEW lesson:
[{"new_id": 1, "action": "new|duplicate|merge", "existing_id": null, "merged_lesson": null}]
For "merge", set existing_id to the EXISTING lesson number and merged_lesson to the combined text.
`)
	return b.String()
}

func parseDecisions(raw string) ([]dedupDecision, error) {
	cleaned := llm.StripCodeFences(raw)
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var decisions []dedupDecision
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &decisions); err != nil {
		return nil, fmt.Errorf("decode dedup response: %w", err)
	}
	return decisions, nil
}

var signatureRe = regexp.MustCompile(`\[Q\d\]\s+(\w+):\s+(BUY|SELL|HOLD)`)

// signature extracts the quadrant-tagged "SYMBOL: ACTION" head that the
// rule-based lesson generator emits. Lessons without one cannot be
// compared cheaply and are kept.
func signature(text string) string {
	m := signatureRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1] + ":" + m[2]
}

func fallbackDeduplicate(candidates, existing []kb.Lesson) Result {
	seen := map[string]bool{}
	for _, l := range existing {
		if sig := signature(l.Text); sig != "" {
			seen[sig] = true
		}
	}

	var res Result
	for _, c := range candidates {
		sig := signature(c.Text)
		if sig == "" {
			res.New = append(res.New, c)
			continue
		}
		if seen[sig] {
			res.Removed++
			continue
		}
		seen[sig] = true
		res.New = append(res.New, c)
	}
	return res
}
