package kernel

import "ta-enginev1/internal/model"

// RSIState computes the Relative Strength Index with Wilder smoothing.
// Output is null until Count reaches Period+1.
type RSIState struct {
	Period    int
	PrevClose float64
	HasPrev   bool
	AvgGain   float64
	AvgLoss   float64
	HasAvg    bool
	Count     int
}

func (s RSIState) Kind() Kind { return KindRSI }

func (s RSIState) Step(input model.Value, _ model.Tick) (State, model.Value) {
	if input.Kind() != model.KindNumber {
		return s, model.Null()
	}
	close := input.Number()

	next := s
	next.Count++

	if !s.HasPrev {
		next.PrevClose = close
		next.HasPrev = true
		return next, model.Null()
	}

	diff := close - s.PrevClose
	gain, loss := 0.0, 0.0
	if diff > 0 {
		gain = diff
	} else if diff < 0 {
		loss = -diff
	}
	next.PrevClose = close

	if !s.HasAvg {
		next.AvgGain = gain
		next.AvgLoss = loss
		next.HasAvg = true
		return next, model.Null()
	}

	p := float64(s.Period)
	next.AvgGain = (s.AvgGain*(p-1) + gain) / p
	next.AvgLoss = (s.AvgLoss*(p-1) + loss) / p

	var rsi float64
	switch {
	case next.AvgLoss == 0 && next.AvgGain > 0:
		rsi = 100
	case next.AvgLoss == 0:
		rsi = 50
	default:
		rs := next.AvgGain / next.AvgLoss
		rsi = 100 - (100 / (1 + rs))
	}

	if next.Count < s.Period+1 {
		return next, model.Null()
	}
	if rsi < 0 {
		rsi = 0
	} else if rsi > 100 {
		rsi = 100
	}
	return next, model.Num(rsi)
}
