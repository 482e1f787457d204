package kernel

import "ta-enginev1/internal/model"

// Blob is the flat typed key/value form a kernel state serializes to. List
// fields travel as comma-delimited text so the blob stays scalar-only.
type Blob map[string]model.Value

// Encode flattens a state into a blob keyed by a "kind" discriminator.
func Encode(state State) Blob {
	blob := Blob{"kind": model.Text(state.Kind().String())}

	switch s := state.(type) {
	case RSIState:
		blob["period"] = model.Num(float64(s.Period))
		blob["count"] = model.Num(float64(s.Count))
		blob["prev_close"] = optNum(s.PrevClose, s.HasPrev)
		blob["avg_gain"] = optNum(s.AvgGain, s.HasAvg)
		blob["avg_loss"] = optNum(s.AvgLoss, s.HasAvg)
	case ATRState:
		blob["period"] = model.Num(float64(s.Period))
		blob["count"] = model.Num(float64(s.Count))
		blob["prev_close"] = optNum(s.PrevClose, s.HasPrev)
		blob["rma_tr"] = optNum(s.RMATr, s.HasRMA)
	case StochasticState:
		blob["k_period"] = model.Num(float64(s.KPeriod))
		blob["highs"] = model.Text(joinFloats(s.Highs))
		blob["lows"] = model.Text(joinFloats(s.Lows))
	case VWAPState:
		blob["highs"] = model.Text(joinFloats(s.Highs))
		blob["lows"] = model.Text(joinFloats(s.Lows))
		blob["closes"] = model.Text(joinFloats(s.Closes))
		blob["volumes"] = model.Text(joinFloats(s.Volumes))
	}
	return blob
}

// Decode rebuilds a state from a blob. Decode is total: an unrecognized or
// missing kind falls back to the generic state rather than failing.
func Decode(blob Blob) State {
	kind := ""
	if v, ok := blob["kind"]; ok && v.Kind() == model.KindText {
		kind = v.Str()
	}

	switch kind {
	case "rsi":
		s := RSIState{
			Period: blobInt(blob, "period", 14),
			Count:  blobInt(blob, "count", 0),
		}
		s.PrevClose, s.HasPrev = blobNum(blob, "prev_close")
		s.AvgGain, s.HasAvg = blobNum(blob, "avg_gain")
		s.AvgLoss, _ = blobNum(blob, "avg_loss")
		return s
	case "atr":
		s := ATRState{
			Period: blobInt(blob, "period", 14),
			Count:  blobInt(blob, "count", 0),
		}
		s.PrevClose, s.HasPrev = blobNum(blob, "prev_close")
		s.RMATr, s.HasRMA = blobNum(blob, "rma_tr")
		return s
	case "stochastic":
		return StochasticState{
			KPeriod: blobInt(blob, "k_period", 14),
			Highs:   blobFloats(blob, "highs"),
			Lows:    blobFloats(blob, "lows"),
		}
	case "vwap":
		return VWAPState{
			Highs:   blobFloats(blob, "highs"),
			Lows:    blobFloats(blob, "lows"),
			Closes:  blobFloats(blob, "closes"),
			Volumes: blobFloats(blob, "volumes"),
		}
	default:
		return GenericState{}
	}
}

func optNum(v float64, ok bool) model.Value {
	if !ok {
		return model.Null()
	}
	return model.Num(v)
}

func blobNum(blob Blob, key string) (float64, bool) {
	if v, ok := blob[key]; ok && v.Kind() == model.KindNumber {
		return v.Number(), true
	}
	return 0, false
}

func blobInt(blob Blob, key string, fallback int) int {
	if v, ok := blobNum(blob, key); ok {
		return int(v)
	}
	return fallback
}

func blobFloats(blob Blob, key string) []float64 {
	if v, ok := blob[key]; ok && v.Kind() == model.KindText {
		return splitFloats(v.Str())
	}
	return nil
}
