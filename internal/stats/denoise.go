package stats

import (
	"math"
	"sort"
)

// Method selects how a historical return series is split into persistent
// trend and transient noise before deviation is measured.
type Method string

const (
	DenoiseNone    Method = "none"
	DenoiseWavelet Method = "wavelet"
	DenoiseEMD     Method = "emd"
	DenoiseHybrid  Method = "hybrid"
)

// denoise returns the trend estimate for the series. The residual
// (series - trend) is the noise the tail test runs against.
func denoise(series []float64, m Method) []float64 {
	switch m {
	case DenoiseWavelet:
		return haarDenoise(series)
	case DenoiseEMD:
		return emdDenoise(series)
	case DenoiseHybrid:
		return haarDenoise(emdDenoise(series))
	default:
		out := make([]float64, len(series))
		copy(out, series)
		return out
	}
}

// haarDenoise runs a full Haar wavelet decomposition, soft-thresholds the
// detail coefficients at the universal threshold sigma*sqrt(2 ln n), and
// reconstructs. Sigma comes from the finest-level details via MAD.
func haarDenoise(series []float64) []float64 {
	n := len(series)
	if n < 4 {
		out := make([]float64, n)
		copy(out, series)
		return out
	}

	// Pad to a power of two by repeating the last sample.
	size := 1
	for size < n {
		size *= 2
	}
	x := make([]float64, size)
	copy(x, series)
	for i := n; i < size; i++ {
		x[i] = series[n-1]
	}

	// Forward transform. details[level] holds that level's coefficients;
	// level 0 is the finest.
	var details [][]float64
	approx := x
	for len(approx) >= 4 {
		half := len(approx) / 2
		a := make([]float64, half)
		d := make([]float64, half)
		for i := 0; i < half; i++ {
			a[i] = (approx[2*i] + approx[2*i+1]) / math.Sqrt2
			d[i] = (approx[2*i] - approx[2*i+1]) / math.Sqrt2
		}
		details = append(details, d)
		approx = a
	}

	if len(details) == 0 {
		return x[:n]
	}

	sigma := madSigma(details[0])
	threshold := sigma * math.Sqrt(2*math.Log(float64(size)))
	for _, d := range details {
		for i := range d {
			d[i] = softThreshold(d[i], threshold)
		}
	}

	// Inverse transform, coarsest level first.
	for lvl := len(details) - 1; lvl >= 0; lvl-- {
		d := details[lvl]
		next := make([]float64, len(approx)*2)
		for i := range approx {
			next[2*i] = (approx[i] + d[i]) / math.Sqrt2
			next[2*i+1] = (approx[i] - d[i]) / math.Sqrt2
		}
		approx = next
	}

	return approx[:n]
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	default:
		return 0
	}
}

// madSigma estimates noise scale from the median absolute deviation of
// the finest wavelet details (0.6745 is the normal consistency constant).
func madSigma(details []float64) float64 {
	if len(details) == 0 {
		return 0
	}
	abs := make([]float64, len(details))
	for i, v := range details {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)
	var med float64
	mid := len(abs) / 2
	if len(abs)%2 == 0 {
		med = (abs[mid-1] + abs[mid]) / 2
	} else {
		med = abs[mid]
	}
	return med / 0.6745
}

// emdDenoise subtracts the first intrinsic mode function, the fastest
// oscillation, which for daily returns is where transient noise lives.
// Envelope means use linear interpolation between extrema rather than
// cubic splines; at series lengths of tens of points the difference does
// not move the classifier.
func emdDenoise(series []float64) []float64 {
	imf := firstIMF(series)
	out := make([]float64, len(series))
	for i := range series {
		out[i] = series[i] - imf[i]
	}
	return out
}

const maxSifts = 10

func firstIMF(series []float64) []float64 {
	n := len(series)
	h := make([]float64, n)
	copy(h, series)

	for sift := 0; sift < maxSifts; sift++ {
		maxIdx, minIdx := extrema(h)
		if len(maxIdx) < 2 || len(minIdx) < 2 {
			// Too few oscillations to extract a mode.
			return make([]float64, n)
		}
		upper := interpolateEnvelope(h, maxIdx, n)
		lower := interpolateEnvelope(h, minIdx, n)

		var meanAbs, envAbs float64
		m := make([]float64, n)
		for i := 0; i < n; i++ {
			m[i] = (upper[i] + lower[i]) / 2
			meanAbs += math.Abs(m[i])
			envAbs += math.Abs(upper[i]-lower[i]) / 2
		}
		for i := 0; i < n; i++ {
			h[i] -= m[i]
		}
		if envAbs == 0 || meanAbs/envAbs < 0.05 {
			break
		}
	}
	return h
}

func extrema(x []float64) (maxIdx, minIdx []int) {
	for i := 1; i < len(x)-1; i++ {
		if x[i] > x[i-1] && x[i] >= x[i+1] {
			maxIdx = append(maxIdx, i)
		}
		if x[i] < x[i-1] && x[i] <= x[i+1] {
			minIdx = append(minIdx, i)
		}
	}
	return maxIdx, minIdx
}

// interpolateEnvelope linearly interpolates through the extrema, holding
// the first/last extremum value out to the series boundaries.
func interpolateEnvelope(x []float64, idx []int, n int) []float64 {
	env := make([]float64, n)
	for i := 0; i <= idx[0]; i++ {
		env[i] = x[idx[0]]
	}
	for k := 0; k < len(idx)-1; k++ {
		i0, i1 := idx[k], idx[k+1]
		for i := i0; i <= i1; i++ {
			t := float64(i-i0) / float64(i1-i0)
			env[i] = x[i0] + t*(x[i1]-x[i0])
		}
	}
	last := idx[len(idx)-1]
	for i := last; i < n; i++ {
		env[i] = x[last]
	}
	return env
}
