package graph

import (
	"errors"
	"math"
	"testing"

	"ta-enginev1/internal/dataset"
	"ta-enginev1/internal/model"
)

func testPartition(closes []float64) *dataset.Partition {
	n := len(closes)
	bars := &dataset.OHLCV{
		Timestamps: make([]int64, n),
		Open:       make([]float64, n),
		High:       make([]float64, n),
		Low:        make([]float64, n),
		Close:      make([]float64, n),
		Volume:     make([]float64, n),
	}
	for i, c := range closes {
		bars.Timestamps[i] = int64(i+1) * 60
		bars.Open[i] = c - 1
		bars.High[i] = c + 2
		bars.Low[i] = c - 2
		bars.Close[i] = c
		bars.Volume[i] = 100
	}
	return &dataset.Partition{OHLCV: bars, Series: map[string]*dataset.Series{}}
}

func singleNode(kind string, meta NodeMeta) Graph {
	meta["kind"] = kind
	return Graph{
		RootID:    1,
		NodeOrder: []uint32{1},
		Nodes:     map[uint32]NodeMeta{1: meta},
		Edges:     map[uint32][]uint32{},
	}
}

func TestExecute_SourceRefResolution(t *testing.T) {
	part := testPartition([]float64{10, 20, 30})
	part.Series["funding"] = &dataset.Series{
		Timestamps: []int64{60, 120, 180},
		Values:     []float64{1, 2, 3},
	}

	cases := []struct {
		field string
		want  float64 // value at row 0
	}{
		{"funding", 1},  // named series wins over ohlcv
		{"high", 12},
		{"close", 10},
		{"nonsense", 10}, // unknown falls back to close
		{"", 10},
	}
	for _, tc := range cases {
		out, err := Execute(singleNode("source_ref", NodeMeta{"field": tc.field}), part)
		if err != nil {
			t.Fatalf("field %q: %v", tc.field, err)
		}
		if got := out[1][0].Number(); got != tc.want {
			t.Errorf("field %q row 0: got %v, want %v", tc.field, got, tc.want)
		}
	}
}

func TestExecute_LiteralBroadcast(t *testing.T) {
	part := testPartition([]float64{1, 2, 3, 4})

	out, err := Execute(singleNode("literal", NodeMeta{"value": "2.5"}), part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(out[1]) != 4 {
		t.Fatalf("rows: got %d, want 4", len(out[1]))
	}
	for i, v := range out[1] {
		if v.Number() != 2.5 {
			t.Errorf("row %d: got %v", i, v)
		}
	}

	out, err = Execute(singleNode("literal", NodeMeta{"value": "true"}), part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out[1][0].Truthy() {
		t.Error("literal true should be truthy")
	}

	out, err = Execute(singleNode("literal", NodeMeta{"value": "btcusdt"}), part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out[1][0].Str() != "btcusdt" {
		t.Errorf("text literal: got %v", out[1][0])
	}
}

func binaryGraph(op string, left, right []float64) (Graph, *dataset.Partition) {
	part := testPartition(left)
	part.Series["lhs"] = &dataset.Series{Values: left}
	part.Series["rhs"] = &dataset.Series{Values: right}
	g := Graph{
		RootID:    3,
		NodeOrder: []uint32{1, 2, 3},
		Nodes: map[uint32]NodeMeta{
			1: {"kind": "source_ref", "field": "lhs"},
			2: {"kind": "source_ref", "field": "rhs"},
			3: {"kind": "binary_op", "operator": op},
		},
		Edges: map[uint32][]uint32{3: {1, 2}},
	}
	return g, part
}

func TestExecute_DivZeroDivisorYieldsZero(t *testing.T) {
	g, part := binaryGraph("div", []float64{4, 4, 4}, []float64{2, 2, 2})
	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for i, v := range out[3] {
		if v.Number() != 2 {
			t.Errorf("row %d: got %v, want 2", i, v)
		}
	}

	g, part = binaryGraph("div", []float64{4, 4, 4}, []float64{2, 0, 2})
	out, err = Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out[3][1].Number() != 0 {
		t.Errorf("zero divisor: got %v, want 0", out[3][1])
	}
	if math.IsNaN(out[3][1].Number()) {
		t.Error("zero divisor must never produce NaN")
	}
}

func TestExecute_BinaryComparisonAndBoolean(t *testing.T) {
	g, part := binaryGraph("gt", []float64{1, 5, 3}, []float64{2, 2, 3})
	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []bool{false, true, false}
	for i, w := range want {
		if out[3][i].Truthy() != w {
			t.Errorf("gt row %d: got %v, want %v", i, out[3][i], w)
		}
	}

	g, part = binaryGraph("and", []float64{1, 0, 2}, []float64{1, 1, 0})
	out, err = Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	wantAnd := []bool{true, false, false}
	for i, w := range wantAnd {
		if out[3][i].Truthy() != w {
			t.Errorf("and row %d: got %v, want %v", i, out[3][i], w)
		}
	}
}

func TestExecute_BinaryRequiresTwoChildren(t *testing.T) {
	part := testPartition([]float64{1, 2})
	g := Graph{
		RootID:    2,
		NodeOrder: []uint32{1, 2},
		Nodes: map[uint32]NodeMeta{
			1: {"kind": "source_ref", "field": "close"},
			2: {"kind": "binary_op", "operator": "add"},
		},
		Edges: map[uint32][]uint32{2: {1}},
	}
	if _, err := Execute(g, part); !errors.Is(err, ErrMissingChildren) {
		t.Fatalf("got %v, want ErrMissingChildren", err)
	}
}

func TestExecute_UnaryNot(t *testing.T) {
	part := testPartition([]float64{0, 1, 5})
	g := Graph{
		RootID:    2,
		NodeOrder: []uint32{1, 2},
		Nodes: map[uint32]NodeMeta{
			1: {"kind": "source_ref", "field": "close"},
			2: {"kind": "unary_op", "operator": "not"},
		},
		Edges: map[uint32][]uint32{2: {1}},
	}
	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []bool{true, false, false}
	for i, w := range want {
		if out[2][i].Truthy() != w {
			t.Errorf("row %d: got %v, want %v", i, out[2][i], w)
		}
	}
}

func TestExecute_FilterNullsWhereConditionFalse(t *testing.T) {
	g, part := binaryGraph("gt", []float64{1, 5, 3}, []float64{2, 2, 2})
	g.NodeOrder = append(g.NodeOrder, 4)
	g.Nodes[4] = NodeMeta{"kind": "filter"}
	g.Edges[4] = []uint32{1, 3} // keep lhs where lhs > rhs
	g.RootID = 4

	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out[4][0].IsNull() || !out[4][2].IsNull() {
		t.Errorf("rows failing the condition must be null: %v", out[4])
	}
	if out[4][1].Number() != 5 {
		t.Errorf("row 1: got %v, want 5", out[4][1])
	}
}

func TestExecute_AggregateAvgIgnoresNulls(t *testing.T) {
	// close > 2 filter turns [1,2,null,4] from [1,2,-9,4] when we instead
	// build the null directly from a filter node over a condition series.
	part := testPartition([]float64{1, 2, 0, 4})
	part.Series["keep"] = &dataset.Series{Values: []float64{1, 1, 0, 1}}
	g := Graph{
		RootID:    4,
		NodeOrder: []uint32{1, 2, 3, 4},
		Nodes: map[uint32]NodeMeta{
			1: {"kind": "source_ref", "field": "close"},
			2: {"kind": "source_ref", "field": "keep"},
			3: {"kind": "filter"},
			4: {"kind": "aggregate", "operation": "avg"},
		},
		Edges: map[uint32][]uint32{3: {1, 2}, 4: {3}},
	}

	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(out[4]) != 4 {
		t.Fatalf("rows: got %d, want 4", len(out[4]))
	}
	want := 7.0 / 3.0
	for i, v := range out[4] {
		if math.Abs(v.Number()-want) > 1e-12 {
			t.Errorf("row %d: got %v, want %v", i, v, want)
		}
	}
}

func TestExecute_AggregateCountAndEmpty(t *testing.T) {
	part := testPartition([]float64{1, 2, 3})
	part.Series["off"] = &dataset.Series{Values: []float64{0, 0, 0}}
	g := Graph{
		RootID:    4,
		NodeOrder: []uint32{1, 2, 3, 4},
		Nodes: map[uint32]NodeMeta{
			1: {"kind": "source_ref", "field": "close"},
			2: {"kind": "source_ref", "field": "off"},
			3: {"kind": "filter"},
			4: {"kind": "aggregate", "operation": "max"},
		},
		Edges: map[uint32][]uint32{3: {1, 2}, 4: {3}},
	}
	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Every row filtered out: max of nothing is null.
	if !out[4][0].IsNull() {
		t.Errorf("max over all-null: got %v, want null", out[4][0])
	}

	g.Nodes[4] = NodeMeta{"kind": "aggregate", "operation": "count"}
	out, err = Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out[4][0].Number() != 0 {
		t.Errorf("count over all-null: got %v, want 0", out[4][0])
	}
}

func TestExecute_TimeShiftChange(t *testing.T) {
	part := testPartition([]float64{10, 11, 12, 11})
	g := Graph{
		RootID:    2,
		NodeOrder: []uint32{1, 2},
		Nodes: map[uint32]NodeMeta{
			1: {"kind": "source_ref", "field": "close"},
			2: {"kind": "time_shift", "operation": "change", "shift": "1"},
		},
		Edges: map[uint32][]uint32{2: {1}},
	}
	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out[2][0].IsNull() {
		t.Errorf("row 0 before the horizon must be null: %v", out[2][0])
	}
	want := []float64{1, 1, -1}
	for i, w := range want {
		if out[2][i+1].Number() != w {
			t.Errorf("row %d: got %v, want %v", i+1, out[2][i+1], w)
		}
	}
}

func TestExecute_TimeShiftLagAndPct(t *testing.T) {
	part := testPartition([]float64{10, 20, 25})
	g := Graph{
		RootID:    2,
		NodeOrder: []uint32{1, 2},
		Nodes: map[uint32]NodeMeta{
			1: {"kind": "source_ref", "field": "close"},
			2: {"kind": "time_shift", "shift": "2"},
		},
		Edges: map[uint32][]uint32{2: {1}},
	}
	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out[2][0].IsNull() || !out[2][1].IsNull() {
		t.Error("first two rows must be null for shift=2")
	}
	if out[2][2].Number() != 10 {
		t.Errorf("lag row 2: got %v, want 10", out[2][2])
	}

	g.Nodes[2] = NodeMeta{"kind": "time_shift", "operation": "change_pct", "shift": "1"}
	out, err = Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out[2][1].Number() != 100 {
		t.Errorf("pct row 1: got %v, want 100", out[2][1])
	}
	if out[2][2].Number() != 25 {
		t.Errorf("pct row 2: got %v, want 25", out[2][2])
	}
}

func TestExecute_CallWithOutputSelection(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)*0.5)
	}
	part := testPartition(closes)
	g := Graph{
		RootID:    1,
		NodeOrder: []uint32{1},
		Nodes: map[uint32]NodeMeta{
			1: {"kind": "call", "name": "macd", "output": "histogram"},
		},
		Edges: map[uint32][]uint32{},
	}
	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(out[1]) != len(closes) {
		t.Fatalf("rows: got %d, want %d", len(out[1]), len(closes))
	}
	// Warm-up rows are null, the tail is numeric.
	if !out[1][0].IsNull() {
		t.Error("warm-up rows should be null")
	}
	last := out[1][len(closes)-1]
	if last.IsNull() || math.IsNaN(last.Number()) {
		t.Errorf("tail row should be numeric: %v", last)
	}
}

func TestExecute_CallFeedsChildSeries(t *testing.T) {
	part := testPartition([]float64{1, 3, 2, 4})
	part.Series["fast"] = &dataset.Series{Values: []float64{1, 3, 2, 4}}
	part.Series["slow"] = &dataset.Series{Values: []float64{2, 2, 3, 3}}
	g := Graph{
		RootID:    3,
		NodeOrder: []uint32{1, 2, 3},
		Nodes: map[uint32]NodeMeta{
			1: {"kind": "source_ref", "field": "fast"},
			2: {"kind": "source_ref", "field": "slow"},
			3: {"kind": "call", "name": "crossup"},
		},
		Edges: map[uint32][]uint32{3: {1, 2}},
	}
	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []bool{false, true, false, true}
	for i, w := range want {
		if out[3][i].Truthy() != w {
			t.Errorf("row %d: got %v, want %v", i, out[3][i], w)
		}
	}
}

func TestExecute_AbortsOnUnknownKindOrMissingNode(t *testing.T) {
	part := testPartition([]float64{1, 2})

	g := singleNode("teleport", NodeMeta{})
	if _, err := Execute(g, part); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("got %v, want ErrUnknownKind", err)
	}

	g = Graph{
		RootID:    2,
		NodeOrder: []uint32{1, 2},
		Nodes:     map[uint32]NodeMeta{1: {"kind": "source_ref"}},
		Edges:     map[uint32][]uint32{},
	}
	if _, err := Execute(g, part); !errors.Is(err, ErrMissingNode) {
		t.Fatalf("got %v, want ErrMissingNode", err)
	}

	// A failing node mid-order must abort; no partial result map returned.
	g = Graph{
		RootID:    2,
		NodeOrder: []uint32{1, 2},
		Nodes: map[uint32]NodeMeta{
			1: {"kind": "source_ref"},
			2: {"kind": "binary_op", "operator": "add"},
		},
		Edges: map[uint32][]uint32{2: {1, 9}},
	}
	out, err := Execute(g, part)
	if !errors.Is(err, ErrMissingChild) {
		t.Fatalf("got %v, want ErrMissingChild", err)
	}
	if out != nil {
		t.Error("failed evaluation must not return partial outputs")
	}
}

func TestExecute_MissingOHLCV(t *testing.T) {
	part := &dataset.Partition{Series: map[string]*dataset.Series{}}
	if _, err := Execute(singleNode("literal", NodeMeta{"value": "1"}), part); !errors.Is(err, ErrMissingOHLCV) {
		t.Fatalf("got %v, want ErrMissingOHLCV", err)
	}
}

func TestExecute_SignalValuesAreBool(t *testing.T) {
	part := testPartition([]float64{1, 2, 3})
	g := singleNode("call", NodeMeta{"name": "rising"})
	out, err := Execute(g, part)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out[1][0].Kind() != model.KindBool || out[1][1].Kind() != model.KindBool {
		t.Error("signal kernels should produce bool values")
	}
	if !out[1][1].Truthy() || !out[1][2].Truthy() {
		t.Errorf("rising series should flag rows 1 and 2: %v", out[1])
	}
}
