package kernel

import "ta-enginev1/internal/model"

// StochasticState computes the stochastic %K over a sliding high/low window
// of size KPeriod. Output is null until the window fills; a flat window
// (max == min) yields 50.
type StochasticState struct {
	KPeriod int
	Highs   []float64
	Lows    []float64
}

func (s StochasticState) Kind() Kind { return KindStochastic }

func (s StochasticState) Step(_ model.Value, tick model.Tick) (State, model.Value) {
	high, okH := tickNum(tick, "high")
	low, okL := tickNum(tick, "low")
	close, okC := tickNum(tick, "close")
	if !okH || !okL || !okC {
		return s, model.Null()
	}

	next := StochasticState{KPeriod: s.KPeriod}
	next.Highs = append(append([]float64(nil), s.Highs...), high)
	next.Lows = append(append([]float64(nil), s.Lows...), low)
	if len(next.Highs) > s.KPeriod {
		next.Highs = next.Highs[1:]
		next.Lows = next.Lows[1:]
	}

	if len(next.Highs) < s.KPeriod {
		return next, model.Null()
	}

	hh := next.Highs[0]
	ll := next.Lows[0]
	for i := 1; i < len(next.Highs); i++ {
		if next.Highs[i] > hh {
			hh = next.Highs[i]
		}
		if next.Lows[i] < ll {
			ll = next.Lows[i]
		}
	}

	denom := hh - ll
	if denom == 0 {
		return next, model.Num(50)
	}
	return next, model.Num(100 * (close - ll) / denom)
}
