package kernels

import (
	"math"
	"testing"

	"ta-enginev1/internal/dataset"
)

const epsilon = 1e-9

func testBars() *dataset.OHLCV {
	n := 40
	bars := &dataset.OHLCV{
		Timestamps: make([]int64, n),
		Open:       make([]float64, n),
		High:       make([]float64, n),
		Low:        make([]float64, n),
		Close:      make([]float64, n),
		Volume:     make([]float64, n),
	}
	for i := 0; i < n; i++ {
		c := 100 + 10*math.Sin(float64(i)*0.5)
		bars.Timestamps[i] = int64(i+1) * 60
		bars.Open[i] = c - 1
		bars.High[i] = c + 2
		bars.Low[i] = c - 2
		bars.Close[i] = c
		bars.Volume[i] = 1000 + float64(i)*10
	}
	return bars
}

func TestCompute_UnknownKernel(t *testing.T) {
	if _, err := Compute("no_such_indicator", nil, nil, testBars()); err == nil {
		t.Fatal("expected error for unknown kernel")
	}
}

func TestCompute_SMAWarmupAndValue(t *testing.T) {
	src := []float64{1, 2, 3, 4, 5, 6}
	out, err := Compute("sma", map[string]string{"kw_period": "3"}, [][]float64{src}, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	values := out[0].Values
	if len(values) != len(src) {
		t.Fatalf("length: got %d, want %d", len(values), len(src))
	}
	for i := 0; i < 2; i++ {
		if !math.IsNaN(values[i]) {
			t.Errorf("warm-up row %d: got %v, want NaN", i, values[i])
		}
	}
	want := []float64{2, 3, 4, 5}
	for i, w := range want {
		if math.Abs(values[i+2]-w) > epsilon {
			t.Errorf("row %d: got %v, want %v", i+2, values[i+2], w)
		}
	}
}

func TestCompute_ParamResolutionOrder(t *testing.T) {
	src := []float64{1, 2, 3, 4, 5}

	// kw_period wins over arg_0.
	out, err := Compute("sma", map[string]string{"kw_period": "2", "arg_0": "4"}, [][]float64{src}, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if math.IsNaN(out[0].Values[1]) {
		t.Error("kw_period=2 should produce a value at row 1")
	}

	// arg_0 applies when the keyword is absent.
	out, err = Compute("sma", map[string]string{"arg_0": "4"}, [][]float64{src}, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !math.IsNaN(out[0].Values[2]) || math.IsNaN(out[0].Values[3]) {
		t.Error("arg_0=4 should first produce a value at row 3")
	}
}

func TestCompute_DefaultPeriodFromCatalog(t *testing.T) {
	bars := testBars()
	out, err := Compute("rsi", nil, nil, bars)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	values := out[0].Values
	// Default period 14: rows 0..13 are warm-up, row 14 holds a value.
	for i := 0; i < 14; i++ {
		if !math.IsNaN(values[i]) {
			t.Errorf("warm-up row %d: got %v", i, values[i])
		}
	}
	if math.IsNaN(values[14]) {
		t.Error("row 14 should hold the first RSI value")
	}
	if values[14] < 0 || values[14] > 100 {
		t.Errorf("rsi out of range: %v", values[14])
	}
}

func TestCompute_MACDOutputNames(t *testing.T) {
	out, err := Compute("macd", nil, nil, testBars())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	names := []string{"macd", "signal", "histogram"}
	if len(out) != 3 {
		t.Fatalf("outputs: got %d, want 3", len(out))
	}
	for i, want := range names {
		if out[i].Name != want {
			t.Errorf("output %d: got %q, want %q", i, out[i].Name, want)
		}
	}
	// Histogram is macd minus signal wherever all three are defined.
	for i := range out[0].Values {
		m, s, h := out[0].Values[i], out[1].Values[i], out[2].Values[i]
		if anyNaN(m, s, h) {
			continue
		}
		if math.Abs(h-(m-s)) > epsilon {
			t.Errorf("row %d: histogram %v != macd-signal %v", i, h, m-s)
		}
	}
}

func TestCompute_MissingOHLCVForATR(t *testing.T) {
	if _, err := Compute("atr", nil, [][]float64{{1, 2, 3}}, nil); err == nil {
		t.Fatal("atr without candles must fail")
	}
}

func TestCompute_VWAPCumulative(t *testing.T) {
	bars := &dataset.OHLCV{
		Timestamps: []int64{60, 120},
		Open:       []float64{10, 20},
		High:       []float64{12, 22},
		Low:        []float64{8, 18},
		Close:      []float64{10, 20},
		Volume:     []float64{100, 300},
	}
	out, err := Compute("vwap", nil, nil, bars)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	values := out[0].Values
	if math.Abs(values[0]-10) > epsilon {
		t.Errorf("row 0: got %v, want 10", values[0])
	}
	// (10*100 + 20*300) / 400
	if math.Abs(values[1]-17.5) > epsilon {
		t.Errorf("row 1: got %v, want 17.5", values[1])
	}
}

func TestCompute_DonchianBounds(t *testing.T) {
	bars := testBars()
	out, err := Compute("donchian", map[string]string{"kw_period": "5"}, nil, bars)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	upper, middle, lower := out[0].Values, out[1].Values, out[2].Values
	for i := 0; i < 4; i++ {
		if !math.IsNaN(upper[i]) {
			t.Errorf("warm-up row %d not NaN", i)
		}
	}
	for i := 4; i < len(upper); i++ {
		if upper[i] < lower[i] {
			t.Errorf("row %d: upper %v below lower %v", i, upper[i], lower[i])
		}
		if math.Abs(middle[i]-(upper[i]+lower[i])/2) > epsilon {
			t.Errorf("row %d: middle not midpoint", i)
		}
	}
}

func TestCompute_CrossUpAndDown(t *testing.T) {
	a := []float64{1, 3, 2, 4}
	b := []float64{2, 2, 3, 3}

	up, err := Compute("crossup", nil, [][]float64{a, b}, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	wantUp := []float64{0, 1, 0, 1}
	for i, w := range wantUp {
		if up[0].Values[i] != w {
			t.Errorf("crossup row %d: got %v, want %v", i, up[0].Values[i], w)
		}
	}
	if !up[0].Signal {
		t.Error("crossup output should be flagged as a signal")
	}

	down, err := Compute("crossdown", nil, [][]float64{a, b}, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	wantDown := []float64{0, 0, 1, 0}
	for i, w := range wantDown {
		if down[0].Values[i] != w {
			t.Errorf("crossdown row %d: got %v, want %v", i, down[0].Values[i], w)
		}
	}
}

func TestCompute_RisingIgnoresNaNRows(t *testing.T) {
	src := []float64{1, 2, math.NaN(), 4, 3}
	out, err := Compute("rising", nil, [][]float64{src}, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := []float64{0, 1, 0, 0, 0}
	for i, w := range want {
		if out[0].Values[i] != w {
			t.Errorf("row %d: got %v, want %v", i, out[0].Values[i], w)
		}
	}
}

func TestCompute_ChannelEnterExit(t *testing.T) {
	src := []float64{5, 15, 12, 25, 14}
	upper := []float64{20, 20, 20, 20, 20}
	lower := []float64{10, 10, 10, 10, 10}

	enter, err := Compute("enter", nil, [][]float64{src, upper, lower}, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	wantEnter := []float64{0, 1, 0, 0, 1}
	for i, w := range wantEnter {
		if enter[0].Values[i] != w {
			t.Errorf("enter row %d: got %v, want %v", i, enter[0].Values[i], w)
		}
	}

	exit, err := Compute("exit", nil, [][]float64{src, upper, lower}, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	wantExit := []float64{0, 0, 0, 1, 0}
	for i, w := range wantExit {
		if exit[0].Values[i] != w {
			t.Errorf("exit row %d: got %v, want %v", i, exit[0].Values[i], w)
		}
	}
}

func TestCompute_AliasLookup(t *testing.T) {
	out, err := Compute("rolling_mean", map[string]string{"kw_period": "2"}, [][]float64{{2, 4, 6}}, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if math.Abs(out[0].Values[2]-5) > epsilon {
		t.Errorf("row 2: got %v, want 5", out[0].Values[2])
	}
}
