package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{SkillThreshold: 60, LuckyZ: 1.0, MinHistory: 10, Denoise: DenoiseNone}
}

func flatReturns(n int, base float64) []float64 {
	r := rand.New(rand.NewSource(42))
	out := make([]float64, n)
	for i := range out {
		out[i] = base + 0.01*r.NormFloat64()
	}
	return out
}

func TestNew_RefusesThinHistory(t *testing.T) {
	_, err := New(flatReturns(9, 0), testConfig())
	require.ErrorIs(t, err, ErrInsufficientHistory)

	_, err = New(flatReturns(10, 0), testConfig())
	require.NoError(t, err)
}

func TestQuadrantTotality(t *testing.T) {
	a, err := New(flatReturns(60, 0), testConfig())
	require.NoError(t, err)

	all := map[Quadrant]bool{}
	cases := []struct {
		actual, expected float64
		aligned, sized   bool
		rate             float64
	}{
		{0.08, 0.01, true, true, 0.9},    // strong skill, big favorable move
		{0.08, 0.01, false, false, 0.1},  // weak skill, big favorable move
		{-0.08, 0.01, true, true, 0.9},   // strong skill, adverse move
		{-0.08, 0.01, false, false, 0.1}, // weak skill, adverse move
	}
	for _, c := range cases {
		res := a.AnalyzeDecision(c.actual, c.expected, c.aligned, c.sized, c.rate)
		require.NotEmpty(t, res.Quadrant)
		all[res.Quadrant] = true
	}
	assert.Len(t, all, 4, "expected all four quadrants to be reachable")
}

func TestSkillScoreIsOutcomeIndependent(t *testing.T) {
	a, err := New(flatReturns(40, 0), testConfig())
	require.NoError(t, err)

	win := a.AnalyzeDecision(0.10, 0.01, true, true, 0.5)
	loss := a.AnalyzeDecision(-0.10, 0.01, true, true, 0.5)
	assert.Equal(t, win.SkillScore, loss.SkillScore)
	assert.Equal(t, 85.0, win.SkillScore) // 40 + 30 + 30*0.5
}

func TestQuadrant_SkillWithoutLuckIsQ3(t *testing.T) {
	a, err := New(flatReturns(40, 0), testConfig())
	require.NoError(t, err)

	res := a.AnalyzeDecision(-0.06, 0.008, true, true, 0.8)
	assert.Equal(t, Q3SkillNoLuck, res.Quadrant)
	assert.Negative(t, res.ZScore)
}

func TestQuadrant_LuckWithoutSkillIsQ2(t *testing.T) {
	a, err := New(flatReturns(40, 0), testConfig())
	require.NoError(t, err)

	res := a.AnalyzeDecision(0.06, 0.002, false, false, 0.2)
	assert.Equal(t, Q2NoSkillLuck, res.Quadrant)
	assert.Greater(t, res.LuckPct, 50.0)
}

func TestLuckPctBounds(t *testing.T) {
	a, err := New(flatReturns(40, 0.001), testConfig())
	require.NoError(t, err)

	for _, actual := range []float64{-0.2, -0.01, 0, 0.003, 0.05, 0.5} {
		res := a.AnalyzeDecision(actual, 0.005, true, false, 0.4)
		assert.GreaterOrEqual(t, res.LuckPct, 0.0)
		assert.LessOrEqual(t, res.LuckPct, 100.0)
		assert.False(t, math.IsNaN(res.LuckPct))
	}
}

func TestKSPValue_ReasonableForNormalSample(t *testing.T) {
	sample := flatReturns(100, 0)
	mean, std := meanStd(sample)
	d, p := ksAgainstNormal(sample, mean, std)

	assert.Greater(t, d, 0.0)
	assert.Less(t, d, 0.2, "KS distance of normal data against its own fit should be small")
	assert.Greater(t, p, 0.05, "normal data should not reject its own fit")
}

func TestADStatistic_TailHeavySampleScoresHigher(t *testing.T) {
	normal := flatReturns(80, 0)

	heavy := make([]float64, len(normal))
	copy(heavy, normal)
	heavy[0] = 0.25
	heavy[1] = -0.25

	mn, sn := meanStd(normal)
	mh, sh := meanStd(heavy)
	assert.Greater(t, adAgainstNormal(heavy, mh, sh), adAgainstNormal(normal, mn, sn))
}

func TestConfigurableThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.SkillThreshold = 90
	a, err := New(flatReturns(40, 0), cfg)
	require.NoError(t, err)

	// Skill 85 clears the default threshold but not 90.
	res := a.AnalyzeDecision(0.06, 0.01, true, true, 0.5)
	assert.Equal(t, Q2NoSkillLuck, res.Quadrant)
}

func TestSellDirection_DeclineBeyondExpectationIsFavorable(t *testing.T) {
	a, err := New(flatReturns(40, 0), testConfig())
	require.NoError(t, err)

	// Sell expecting a small decline; price collapsed. Favorable.
	res := a.AnalyzeDecision(-0.06, -0.01, true, true, 0.8)
	assert.Equal(t, Q1SkillLuck, res.Quadrant)

	// Sell expecting a decline; price rallied. Unfavorable.
	res = a.AnalyzeDecision(0.04, -0.01, true, true, 0.8)
	assert.Equal(t, Q3SkillNoLuck, res.Quadrant)
}
