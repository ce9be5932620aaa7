package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantpulse/tradingkb/internal/kb"
	"github.com/quantpulse/tradingkb/internal/llm"
	"github.com/quantpulse/tradingkb/internal/observ"
	"github.com/quantpulse/tradingkb/internal/stats"
)

// LessonGenerator turns a day's grades into candidate lessons. The
// model writes better prose when reachable; the rule-based path emits
// the tagged "[Qn] SYMBOL: ACTION" form that downstream signature
// matching understands, and it is always available.
type LessonGenerator struct {
	Gen llm.Generator
}

func (g LessonGenerator) Generate(ctx context.Context, date string, grades []kb.Grade, threshold float64) []kb.Lesson {
	if len(grades) == 0 {
		return nil
	}
	if g.Gen != nil {
		if lessons, err := g.llmLessons(ctx, date, grades); err == nil && len(lessons) > 0 {
			return lessons
		} else if err != nil {
			observ.Warn("lesson_llm_failed", map[string]any{"error": err.Error()})
		}
	}
	return basicLessons(date, grades, threshold)
}

func (g LessonGenerator) llmLessons(ctx context.Context, date string, grades []kb.Grade) ([]kb.Lesson, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Trading decisions graded for %s:\n\n", date)
	for _, gr := range grades {
		a := gr.Analysis
		fmt.Fprintf(&b, "- %s %s qty %.1f at %.2f: skill %d/100, outcome %d/100, P/L %s",
			strings.ToUpper(string(a.Action)), a.Symbol, a.Quantity, a.Price,
			a.SkillScore, a.OutcomeScore, a.ProfitLoss.StringFixed(2))
		if gr.Luck != nil {
			fmt.Fprintf(&b, ", classified %s", gr.Luck.Quadrant.Label())
		}
		b.WriteString("\n")
		if a.WhatWentRight != "" {
			fmt.Fprintf(&b, "  right: %s\n", a.WhatWentRight)
		}
		if a.WhatWentWrong != "" {
			fmt.Fprintf(&b, "  wrong: %s\n", a.WhatWentWrong)
		}
	}
	b.WriteString(`
Write at most 5 concise trading lessons from these decisions. Separate
skill from luck: reinforce sound process even when it lost money, warn
against lucky wins. One lesson per line, no numbering, no markdown.
`)

	raw, err := g.Gen.Generate(ctx, b.String())
	if err != nil {
		return nil, err
	}

	var lessons []kb.Lesson
	for _, line := range strings.Split(llm.StripCodeFences(raw), "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		if line == "" {
			continue
		}
		lessons = append(lessons, kb.Lesson{Text: line, Date: date})
		if len(lessons) == 5 {
			break
		}
	}
	return lessons, nil
}

func quadrantOf(g kb.Grade, threshold float64) stats.Quadrant {
	if g.Luck != nil {
		return g.Luck.Quadrant
	}
	skilled := float64(g.Analysis.SkillScore) >= threshold
	goodOutcome := g.Analysis.OutcomeScore >= 50
	switch {
	case skilled && goodOutcome:
		return stats.Q1SkillLuck
	case !skilled && goodOutcome:
		return stats.Q2NoSkillLuck
	case skilled:
		return stats.Q3SkillNoLuck
	default:
		return stats.Q4NoSkillNoLuck
	}
}

func quadrantTag(q stats.Quadrant) string {
	switch q {
	case stats.Q1SkillLuck:
		return "[Q1]"
	case stats.Q2NoSkillLuck:
		return "[Q2]"
	case stats.Q3SkillNoLuck:
		return "[Q3]"
	default:
		return "[Q4]"
	}
}

func basicLessons(date string, grades []kb.Grade, threshold float64) []kb.Lesson {
	var lessons []kb.Lesson
	for _, g := range grades {
		a := g.Analysis
		q := quadrantOf(g, threshold)
		head := fmt.Sprintf("%s %s: %s", quadrantTag(q), a.Symbol, strings.ToUpper(string(a.Action)))

		var text string
		switch q {
		case stats.Q1SkillLuck:
			text = fmt.Sprintf("%s combined sound process with a favorable outcome. Reinforce: %s", head, a.WhatWentRight)
		case stats.Q2NoSkillLuck:
			text = fmt.Sprintf("%s made money despite a weak process (skill %d). Do not mistake this for validation: %s", head, a.SkillScore, a.WhatWentWrong)
		case stats.Q3SkillNoLuck:
			text = fmt.Sprintf("%s lost despite a sound process (skill %d). Persist with the process: %s", head, a.SkillScore, a.WhatWentRight)
		default:
			text = fmt.Sprintf("%s was a mistake on both process and outcome. Avoid repeating: %s", head, a.WhatWentWrong)
		}
		lessons = append(lessons, kb.Lesson{Text: text, Quadrant: string(q), Date: date})
	}
	return lessons
}
