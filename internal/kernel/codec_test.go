package kernel

import (
	"math"
	"testing"

	"ta-enginev1/internal/model"
)

// roundTrip encodes, decodes, then feeds identical ticks to the original and
// the restored state, requiring bit-identical outputs.
func roundTrip(t *testing.T, state State, ticks []model.Tick) {
	t.Helper()
	restored := Decode(Encode(state))
	if restored.Kind() != state.Kind() {
		t.Fatalf("kind mismatch after round trip: %v vs %v", restored.Kind(), state.Kind())
	}

	for i, tk := range ticks {
		input := tk.Field("close")
		var outA, outB model.Value
		state, outA = state.Step(input, tk)
		restored, outB = restored.Step(input, tk)
		if !outA.Equal(outB) {
			t.Errorf("tick %d: post-restore divergence: %v vs %v", i+1, outA, outB)
		}
	}
}

func warmTicks(n int) []model.Tick {
	out := make([]model.Tick, n)
	for i := range out {
		c := 100 + math.Sin(float64(i))*10
		out[i] = tick(c+2, c-2, c, 50+float64(i))
	}
	return out
}

func TestCodec_RSI_RoundTrip(t *testing.T) {
	state := Initialize(KindRSI, map[string]model.Value{"period": model.Num(5)})
	for _, tk := range warmTicks(8) {
		state, _ = state.Step(tk.Field("close"), tk)
	}
	roundTrip(t, state, warmTicks(6))
}

func TestCodec_ATR_RoundTrip(t *testing.T) {
	state := Initialize(KindATR, map[string]model.Value{"period": model.Num(4)})
	for _, tk := range warmTicks(6) {
		state, _ = state.Step(model.Null(), tk)
	}
	roundTrip(t, state, warmTicks(5))
}

func TestCodec_Stochastic_RoundTrip(t *testing.T) {
	state := Initialize(KindStochastic, map[string]model.Value{"k_period": model.Num(3)})
	for _, tk := range warmTicks(4) {
		state, _ = state.Step(model.Null(), tk)
	}
	roundTrip(t, state, warmTicks(4))
}

func TestCodec_VWAP_RoundTrip(t *testing.T) {
	state := Initialize(KindVWAP, nil)
	for _, tk := range warmTicks(3) {
		state, _ = state.Step(model.Null(), tk)
	}
	roundTrip(t, state, warmTicks(3))
}

func TestCodec_FreshStateRoundTrip(t *testing.T) {
	// Optional fields encode as null before the first tick; decode must
	// rebuild the same fresh state.
	state := Initialize(KindRSI, map[string]model.Value{"period": model.Num(14)})
	restored := Decode(Encode(state))
	rs, ok := restored.(RSIState)
	if !ok {
		t.Fatalf("decoded wrong type: %T", restored)
	}
	if rs.HasPrev || rs.HasAvg || rs.Count != 0 || rs.Period != 14 {
		t.Errorf("fresh state not preserved: %+v", rs)
	}
}

func TestDecode_UnknownKindFallsBackToGeneric(t *testing.T) {
	blob := Blob{"kind": model.Text("hyperwave")}
	if _, ok := Decode(blob).(GenericState); !ok {
		t.Error("unknown kind must decode as generic")
	}
}

func TestDecode_MissingKindFallsBackToGeneric(t *testing.T) {
	blob := Blob{"period": model.Num(14)}
	if _, ok := Decode(blob).(GenericState); !ok {
		t.Error("missing kind must decode as generic")
	}
}

func TestEncode_ListFieldsAreDelimitedText(t *testing.T) {
	state := StochasticState{KPeriod: 3, Highs: []float64{1, 2.5}, Lows: []float64{0.5, 1}}
	blob := Encode(state)
	if blob["highs"].Kind() != model.KindText || blob["highs"].Str() != "1,2.5" {
		t.Errorf("highs blob: %+v", blob["highs"])
	}
}
