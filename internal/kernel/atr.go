package kernel

import (
	"math"

	"ta-enginev1/internal/model"
)

// ATRState computes the Average True Range with Wilder smoothing. The true
// range is derived from the full tick's high/low/close, not the declared
// input field alone. Output is null until Count reaches Period.
type ATRState struct {
	Period    int
	PrevClose float64
	HasPrev   bool
	RMATr     float64
	HasRMA    bool
	Count     int
}

func (s ATRState) Kind() Kind { return KindATR }

func (s ATRState) Step(_ model.Value, tick model.Tick) (State, model.Value) {
	tr := s.trueRange(tick)
	close, _ := tickNum(tick, "close")

	next := s
	next.Count++
	next.PrevClose = close
	next.HasPrev = true

	if !s.HasRMA {
		next.RMATr = tr
		next.HasRMA = true
		if next.Count < s.Period {
			return next, model.Null()
		}
		return next, model.Num(tr)
	}

	p := float64(s.Period)
	next.RMATr = (s.RMATr*(p-1) + tr) / p
	if next.Count < s.Period {
		return next, model.Null()
	}
	return next, model.Num(next.RMATr)
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|); the
// previous-close terms apply only once a prior tick has been seen.
func (s ATRState) trueRange(tick model.Tick) float64 {
	high, _ := tickNum(tick, "high")
	low, _ := tickNum(tick, "low")

	tr := high - low
	if s.HasPrev {
		tr = math.Max(tr, math.Abs(high-s.PrevClose))
		tr = math.Max(tr, math.Abs(low-s.PrevClose))
	}
	return tr
}
