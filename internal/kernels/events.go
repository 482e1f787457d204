package kernels

import "math"

// Event kernels emit per-row boolean flags. A row with any NaN operand is
// false, and lookback rows (the first row for pairwise events) are false.

func cross(a, b []float64) []bool {
	out := make([]bool, seriesLen(a, b))
	for i := 1; i < len(out); i++ {
		prev := a[i-1] - b[i-1]
		cur := a[i] - b[i]
		if math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		out[i] = (prev <= 0 && cur > 0) || (prev >= 0 && cur < 0)
	}
	return out
}

func crossUp(a, b []float64) []bool {
	out := make([]bool, seriesLen(a, b))
	for i := 1; i < len(out); i++ {
		if anyNaN(a[i-1], b[i-1], a[i], b[i]) {
			continue
		}
		out[i] = a[i-1] <= b[i-1] && a[i] > b[i]
	}
	return out
}

func crossDown(a, b []float64) []bool {
	out := make([]bool, seriesLen(a, b))
	for i := 1; i < len(out); i++ {
		if anyNaN(a[i-1], b[i-1], a[i], b[i]) {
			continue
		}
		out[i] = a[i-1] >= b[i-1] && a[i] < b[i]
	}
	return out
}

// rising flags rows that increased versus the previous row. A non-zero pct
// requires at least that percentage gain.
func rising(src []float64, pct float64) []bool {
	out := make([]bool, len(src))
	for i := 1; i < len(out); i++ {
		if anyNaN(src[i-1], src[i]) {
			continue
		}
		if pct == 0 {
			out[i] = src[i] > src[i-1]
		} else {
			out[i] = src[i] >= src[i-1]*(1+pct/100)
		}
	}
	return out
}

func falling(src []float64, pct float64) []bool {
	out := make([]bool, len(src))
	for i := 1; i < len(out); i++ {
		if anyNaN(src[i-1], src[i]) {
			continue
		}
		if pct == 0 {
			out[i] = src[i] < src[i-1]
		} else {
			out[i] = src[i] <= src[i-1]*(1-pct/100)
		}
	}
	return out
}

func inChannel(src, upper, lower []float64) []bool {
	out := make([]bool, seriesLen(src, upper, lower))
	for i := range out {
		if anyNaN(src[i], upper[i], lower[i]) {
			continue
		}
		out[i] = src[i] >= lower[i] && src[i] <= upper[i]
	}
	return out
}

func outChannel(src, upper, lower []float64) []bool {
	out := make([]bool, seriesLen(src, upper, lower))
	for i := range out {
		if anyNaN(src[i], upper[i], lower[i]) {
			continue
		}
		out[i] = src[i] < lower[i] || src[i] > upper[i]
	}
	return out
}

func enterChannel(src, upper, lower []float64) []bool {
	in := inChannel(src, upper, lower)
	out := make([]bool, len(in))
	for i := 1; i < len(out); i++ {
		out[i] = in[i] && !in[i-1]
	}
	return out
}

func exitChannel(src, upper, lower []float64) []bool {
	in := inChannel(src, upper, lower)
	out := make([]bool, len(in))
	for i := 1; i < len(out); i++ {
		out[i] = !in[i] && in[i-1]
	}
	return out
}

func seriesLen(series ...[]float64) int {
	n := 0
	for i, s := range series {
		if i == 0 || len(s) < n {
			n = len(s)
		}
	}
	return n
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
