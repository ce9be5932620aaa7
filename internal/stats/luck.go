// Package stats classifies a graded decision into one of four skill/luck
// quadrants by testing the realized return against the symbol's
// historical return distribution. Skill is computed from setup-quality
// signals alone; luck from distributional surprise. Keeping the two
// measurements independent is the contract that stops the feedback loop
// from rewarding survivorship.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

type Quadrant string

const (
	Q1SkillLuck     Quadrant = "Q1_SKILL_LUCK"
	Q2NoSkillLuck   Quadrant = "Q2_NOSKILL_LUCK"
	Q3SkillNoLuck   Quadrant = "Q3_SKILL_NOLUCK"
	Q4NoSkillNoLuck Quadrant = "Q4_NOSKILL_NOLUCK"
)

func (q Quadrant) Label() string {
	switch q {
	case Q1SkillLuck:
		return "Right + Lucky (Ideal)"
	case Q2NoSkillLuck:
		return "Wrong + Lucky (WARNING)"
	case Q3SkillNoLuck:
		return "Right + Unlucky (Don't abandon)"
	case Q4NoSkillNoLuck:
		return "Wrong + Unlucky (Learn)"
	}
	return "Unclassified"
}

// Indicator is the [+][+]-style marker used in reports.
func (q Quadrant) Indicator() string {
	switch q {
	case Q1SkillLuck:
		return "[+][+]"
	case Q2NoSkillLuck:
		return "[-][+]"
	case Q3SkillNoLuck:
		return "[+][-]"
	case Q4NoSkillNoLuck:
		return "[-][-]"
	}
	return "[?][?]"
}

type Config struct {
	SkillThreshold float64 // skill score at or above which a decision counts as "right"
	LuckyZ         float64 // |z| beyond which a deviation counts as lucky/unlucky
	MinHistory     int
	Denoise        Method
}

// Analysis is the statistical refinement attached to a decision grade.
type Analysis struct {
	Quadrant       Quadrant `json:"quadrant"`
	QuadrantLabel  string   `json:"quadrant_label"`
	SkillScore     float64  `json:"statistical_skill_score"`
	LuckPct        float64  `json:"statistical_luck_pct"`
	KSStatistic    float64  `json:"ks_statistic"`
	KSPValue       float64  `json:"ks_p_value"`
	ADStatistic    float64  `json:"ad_statistic"`
	ExpectedReturn float64  `json:"expected_return"`
	ActualReturn   float64  `json:"actual_return"`
	ZScore         float64  `json:"return_z_score"`
	Interpretation string   `json:"interpretation"`
}

var ErrInsufficientHistory = errors.New("insufficient historical returns for classification")

// Analyzer holds one symbol's historical daily returns, split into trend
// and noise at construction.
type Analyzer struct {
	cfg   Config
	trend []float64
	noise []float64

	trendMean, trendStd float64
	noiseMean, noiseStd float64
}

// New refuses to classify on thin history: fewer than cfg.MinHistory
// points returns ErrInsufficientHistory and the caller must leave the
// decision unclassified rather than guess.
func New(historicalReturns []float64, cfg Config) (*Analyzer, error) {
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = 10
	}
	if cfg.SkillThreshold == 0 {
		cfg.SkillThreshold = 60
	}
	if cfg.LuckyZ == 0 {
		cfg.LuckyZ = 1.0
	}
	if len(historicalReturns) < cfg.MinHistory {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientHistory, len(historicalReturns), cfg.MinHistory)
	}

	trend := denoise(historicalReturns, cfg.Denoise)
	noise := make([]float64, len(historicalReturns))
	for i := range historicalReturns {
		noise[i] = historicalReturns[i] - trend[i]
	}

	a := &Analyzer{cfg: cfg, trend: trend, noise: noise}
	a.trendMean, a.trendStd = meanStd(trend)
	a.noiseMean, a.noiseStd = meanStd(noise)
	return a, nil
}

// AnalyzeDecision classifies one decision. actualReturn and
// expectedReturn are signed by decision direction: a sell that expects a
// decline carries a negative expected return.
func (a *Analyzer) AnalyzeDecision(actualReturn, expectedReturn float64, indicatorsAligned, sizedCorrectly bool, historicalSuccessRate float64) Analysis {
	// Skill, from setup-quality signals only. Outcome-independent by
	// construction: nothing past this line feeds back into it.
	skill := 0.0
	if indicatorsAligned {
		skill += 40
	}
	if sizedCorrectly {
		skill += 30
	}
	skill += 30 * clamp(historicalSuccessRate, 0, 1)

	// Trend consistency: KS of the denoised history against its fitted
	// normal, plus the z-score of this outcome against the trend.
	ks, ksP := ksAgainstNormal(a.trend, a.trendMean, a.trendStd)
	z := 0.0
	if a.trendStd > 0 {
		z = (actualReturn - a.trendMean) / a.trendStd
	}

	// Tail surprise: AD statistic of the residual noise. AD weights the
	// tails, which is where luck lives.
	ad := adAgainstNormal(a.noise, a.noiseMean, a.noiseStd)

	// Share of the combined surprise owned by the noise/tail side. The
	// outcome's own deviation counts toward the noise side: a 3-sigma
	// day is luck regardless of how well-behaved history was.
	trendScore := ks * math.Sqrt(float64(len(a.trend)))
	noiseScore := math.Max(ad, 0) + math.Abs(z)
	luckPct := 50.0
	if trendScore+noiseScore > 0 {
		luckPct = clamp(100*noiseScore/(trendScore+noiseScore), 0, 100)
	}

	skillHigh := skill >= a.cfg.SkillThreshold
	luckFavorable := a.luckFavorable(actualReturn, expectedReturn, z)

	var quadrant Quadrant
	switch {
	case skillHigh && luckFavorable:
		quadrant = Q1SkillLuck
	case !skillHigh && luckFavorable:
		quadrant = Q2NoSkillLuck
	case skillHigh && !luckFavorable:
		quadrant = Q3SkillNoLuck
	default:
		quadrant = Q4NoSkillNoLuck
	}

	return Analysis{
		Quadrant:       quadrant,
		QuadrantLabel:  quadrant.Label(),
		SkillScore:     skill,
		LuckPct:        luckPct,
		KSStatistic:    ks,
		KSPValue:       ksP,
		ADStatistic:    ad,
		ExpectedReturn: expectedReturn,
		ActualReturn:   actualReturn,
		ZScore:         z,
		Interpretation: interpret(quadrant, skill, luckPct, z),
	}
}

// luckFavorable: the outcome went the decision's way by a margin history
// calls surprising, or beat the setup's own expectation.
func (a *Analyzer) luckFavorable(actual, expected, z float64) bool {
	sameDirection := actual*expected > 0
	if sameDirection && math.Abs(z) >= a.cfg.LuckyZ {
		return true
	}
	if expected >= 0 {
		return actual > expected
	}
	return actual < expected
}

func interpret(q Quadrant, skill, luckPct, z float64) string {
	switch q {
	case Q1SkillLuck:
		return fmt.Sprintf("Skill %.0f with favorable deviation (z=%+.2f). Sound setup confirmed by the market; reinforce this pattern.", skill, z)
	case Q2NoSkillLuck:
		return fmt.Sprintf("Skill %.0f but luck %.0f%% carried the outcome (z=%+.2f). Do not repeat this setup expecting the same result.", skill, luckPct, z)
	case Q3SkillNoLuck:
		return fmt.Sprintf("Skill %.0f with unfavorable deviation (z=%+.2f). The process was right; persist rather than abandon it.", skill, z)
	default:
		return fmt.Sprintf("Skill %.0f and the market did not cooperate. Revise the decision criteria before similar setups.", skill)
	}
}

// ksAgainstNormal is the one-sample Kolmogorov-Smirnov statistic of the
// sample against a normal fitted to it, with the asymptotic p-value.
func ksAgainstNormal(sample []float64, mean, std float64) (float64, float64) {
	n := len(sample)
	if n == 0 || std <= 0 {
		return 0, 1
	}
	sorted := make([]float64, n)
	copy(sorted, sample)
	sort.Float64s(sorted)

	d := 0.0
	for i, x := range sorted {
		cdf := normalCDF((x - mean) / std)
		upper := math.Abs(float64(i+1)/float64(n) - cdf)
		lower := math.Abs(cdf - float64(i)/float64(n))
		d = math.Max(d, math.Max(upper, lower))
	}
	return d, ksPValue(d, n)
}

func ksPValue(d float64, n int) float64 {
	if d <= 0 {
		return 1
	}
	sqrtN := math.Sqrt(float64(n))
	lambda := (sqrtN + 0.12 + 0.11/sqrtN) * d
	sum := 0.0
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}
	return clamp(2*sum, 0, 1)
}

// adAgainstNormal is the Anderson-Darling statistic of the sample against
// a normal fitted to it. Log arguments are clamped so a degenerate
// sample cannot produce NaN.
func adAgainstNormal(sample []float64, mean, std float64) float64 {
	n := len(sample)
	if n == 0 || std <= 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, sample)
	sort.Float64s(sorted)

	const eps = 1e-12
	s := 0.0
	for i := 0; i < n; i++ {
		lo := clamp(normalCDF((sorted[i]-mean)/std), eps, 1-eps)
		hi := clamp(normalCDF((sorted[n-1-i]-mean)/std), eps, 1-eps)
		s += float64(2*i+1) * (math.Log(lo) + math.Log(1-hi))
	}
	return -float64(n) - s/float64(n)
}

func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

func meanStd(xs []float64) (float64, float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / n
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	if n < 2 {
		return mean, 0
	}
	return mean, math.Sqrt(ss / (n - 1))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
