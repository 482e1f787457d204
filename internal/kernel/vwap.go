package kernel

import "ta-enginev1/internal/model"

// VWAPState computes the cumulative-from-session volume weighted average
// price. History is unbounded by design: VWAP anchors at the first tick the
// node ever sees, it is not a rolling window.
type VWAPState struct {
	Highs   []float64
	Lows    []float64
	Closes  []float64
	Volumes []float64
}

func (s VWAPState) Kind() Kind { return KindVWAP }

func (s VWAPState) Step(_ model.Value, tick model.Tick) (State, model.Value) {
	high, okH := tickNum(tick, "high")
	low, okL := tickNum(tick, "low")
	close, okC := tickNum(tick, "close")
	volume, okV := tickNum(tick, "volume")
	if !okH || !okL || !okC || !okV {
		return s, model.Null()
	}

	next := VWAPState{
		Highs:   append(append([]float64(nil), s.Highs...), high),
		Lows:    append(append([]float64(nil), s.Lows...), low),
		Closes:  append(append([]float64(nil), s.Closes...), close),
		Volumes: append(append([]float64(nil), s.Volumes...), volume),
	}

	var pvSum, vSum float64
	for i := range next.Volumes {
		typical := (next.Highs[i] + next.Lows[i] + next.Closes[i]) / 3
		pvSum += typical * next.Volumes[i]
		vSum += next.Volumes[i]
	}
	if vSum == 0 {
		return next, model.Null()
	}
	return next, model.Num(pvSum / vSum)
}
