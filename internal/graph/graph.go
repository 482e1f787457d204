// Package graph evaluates a declarative indicator DAG over one materialized
// dataset partition. The caller supplies node_order; the executor trusts it
// and never topo-sorts on its own. Any missing node, field, or child aborts
// the whole evaluation with no partial results.
package graph

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ta-enginev1/internal/dataset"
	"ta-enginev1/internal/kernels"
	"ta-enginev1/internal/model"
)

var (
	ErrMissingNode     = errors.New("missing node metadata")
	ErrMissingKind     = errors.New("missing node kind")
	ErrUnknownKind     = errors.New("unsupported graph node kind")
	ErrMissingChild    = errors.New("missing child output")
	ErrMissingChildren = errors.New("node requires more children")
	ErrMissingOHLCV    = errors.New("partition has no ohlcv columns")
	ErrUnknownOperator = errors.New("unsupported operator")
)

// Graph is the declarative DAG shape carried by the execution payload.
type Graph struct {
	RootID    uint32              `json:"root_id"`
	NodeOrder []uint32            `json:"node_order"`
	Nodes     map[uint32]NodeMeta `json:"nodes"`
	Edges     map[uint32][]uint32 `json:"edges"`
}

// NodeMeta is one node's flat string metadata bag.
type NodeMeta map[string]string

// Execute walks node_order in sequence and returns one full-length output
// series per node id.
func Execute(g Graph, part *dataset.Partition) (map[uint32][]model.Value, error) {
	if part == nil || part.OHLCV == nil {
		return nil, ErrMissingOHLCV
	}
	bars := part.OHLCV
	rows := bars.Rows()
	outputs := make(map[uint32][]model.Value, len(g.NodeOrder))

	for _, nodeID := range g.NodeOrder {
		meta, ok := g.Nodes[nodeID]
		if !ok {
			return nil, fmt.Errorf("%w: node %d", ErrMissingNode, nodeID)
		}
		kind, ok := meta["kind"]
		if !ok {
			return nil, fmt.Errorf("%w: node %d", ErrMissingKind, nodeID)
		}
		children := g.Edges[nodeID]

		var (
			series []model.Value
			err    error
		)
		switch kind {
		case "source_ref":
			series = sourceRef(meta["field"], part, rows)
		case "literal":
			series = broadcast(parseLiteral(meta["value"]), rows)
		case "call":
			series, err = callNode(nodeID, meta, children, outputs, bars)
		case "binary_op":
			series, err = binaryOp(nodeID, meta, children, outputs, rows)
		case "unary_op":
			series, err = unaryOp(nodeID, meta, children, outputs)
		case "filter":
			series, err = filterNode(nodeID, children, outputs)
		case "aggregate":
			series, err = aggregateNode(nodeID, meta, children, outputs, rows)
		case "time_shift":
			series, err = timeShiftNode(nodeID, meta, children, outputs)
		default:
			err = fmt.Errorf("%w: %q (node %d)", ErrUnknownKind, kind, nodeID)
		}
		if err != nil {
			return nil, err
		}
		outputs[nodeID] = series
	}
	return outputs, nil
}

// sourceRef resolves a named column: partition series first, then OHLCV.
// Unrecognized field names fall back to close.
func sourceRef(field string, part *dataset.Partition, rows int) []model.Value {
	if field == "" {
		field = "close"
	}
	if s, ok := part.Series[field]; ok {
		return numbers(s.Values)
	}
	bars := part.OHLCV
	switch field {
	case "open":
		return numbers(bars.Open)
	case "high":
		return numbers(bars.High)
	case "low":
		return numbers(bars.Low)
	case "volume":
		return numbers(bars.Volume)
	default:
		return numbers(bars.Close)
	}
}

// parseLiteral reads a scalar: bool first, then number, then raw text.
func parseLiteral(raw string) model.Value {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return model.Bool(true)
	case "false":
		return model.Bool(false)
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return model.Num(f)
	}
	return model.Text(raw)
}

func callNode(nodeID uint32, meta NodeMeta, childIDs []uint32, outputs map[uint32][]model.Value, bars *dataset.OHLCV) ([]model.Value, error) {
	childSeries := make([][]float64, len(childIDs))
	for i, childID := range childIDs {
		child, ok := outputs[childID]
		if !ok {
			return nil, fmt.Errorf("%w: node %d child %d", ErrMissingChild, nodeID, childID)
		}
		childSeries[i] = asNumbers(child)
	}

	results, err := kernels.Compute(meta["name"], meta, childSeries, bars)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", nodeID, err)
	}

	selected := results[0]
	if want, ok := meta["output"]; ok {
		for _, r := range results {
			if r.Name == want {
				selected = r
				break
			}
		}
	}

	out := make([]model.Value, len(selected.Values))
	for i, v := range selected.Values {
		switch {
		case selected.Signal:
			out[i] = model.Bool(v != 0)
		case math.IsNaN(v):
			out[i] = model.Null()
		default:
			out[i] = model.Num(v)
		}
	}
	return out, nil
}

func binaryOp(nodeID uint32, meta NodeMeta, childIDs []uint32, outputs map[uint32][]model.Value, rows int) ([]model.Value, error) {
	if len(childIDs) < 2 {
		return nil, fmt.Errorf("%w: binary node %d needs two", ErrMissingChildren, nodeID)
	}
	left, ok := outputs[childIDs[0]]
	if !ok {
		return nil, fmt.Errorf("%w: node %d child %d", ErrMissingChild, nodeID, childIDs[0])
	}
	right, ok := outputs[childIDs[1]]
	if !ok {
		return nil, fmt.Errorf("%w: node %d child %d", ErrMissingChild, nodeID, childIDs[1])
	}

	op := meta["operator"]
	if op == "" {
		op = "eq"
	}
	n := rows
	if len(left) < n {
		n = len(left)
	}
	if len(right) < n {
		n = len(right)
	}

	out := make([]model.Value, n)
	for i := 0; i < n; i++ {
		v, err := applyBinary(op, left[i], right[i])
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", nodeID, err)
		}
		out[i] = v
	}
	return out, nil
}

func applyBinary(op string, l, r model.Value) (model.Value, error) {
	switch op {
	case "add":
		return model.Num(l.AsNumber() + r.AsNumber()), nil
	case "sub":
		return model.Num(l.AsNumber() - r.AsNumber()), nil
	case "mul":
		return model.Num(l.AsNumber() * r.AsNumber()), nil
	case "div":
		rv := r.AsNumber()
		if rv == 0 {
			return model.Num(0), nil
		}
		return model.Num(l.AsNumber() / rv), nil
	case "mod":
		return model.Num(math.Mod(l.AsNumber(), r.AsNumber())), nil
	case "pow":
		return model.Num(math.Pow(l.AsNumber(), r.AsNumber())), nil
	case "gt":
		return model.Bool(l.AsNumber() > r.AsNumber()), nil
	case "gte":
		return model.Bool(l.AsNumber() >= r.AsNumber()), nil
	case "lt":
		return model.Bool(l.AsNumber() < r.AsNumber()), nil
	case "lte":
		return model.Bool(l.AsNumber() <= r.AsNumber()), nil
	case "eq":
		return model.Bool(l.AsNumber() == r.AsNumber()), nil
	case "neq":
		return model.Bool(l.AsNumber() != r.AsNumber()), nil
	case "and":
		return model.Bool(l.Truthy() && r.Truthy()), nil
	case "or":
		return model.Bool(l.Truthy() || r.Truthy()), nil
	default:
		return model.Null(), fmt.Errorf("%w: binary %q", ErrUnknownOperator, op)
	}
}

func unaryOp(nodeID uint32, meta NodeMeta, childIDs []uint32, outputs map[uint32][]model.Value) ([]model.Value, error) {
	if len(childIDs) < 1 {
		return nil, fmt.Errorf("%w: unary node %d needs one", ErrMissingChildren, nodeID)
	}
	operand, ok := outputs[childIDs[0]]
	if !ok {
		return nil, fmt.Errorf("%w: node %d child %d", ErrMissingChild, nodeID, childIDs[0])
	}

	op := meta["operator"]
	out := make([]model.Value, len(operand))
	for i, v := range operand {
		switch op {
		case "not":
			out[i] = model.Bool(!v.Truthy())
		case "neg":
			out[i] = model.Num(-v.AsNumber())
		case "pos":
			out[i] = model.Num(v.AsNumber())
		default:
			return nil, fmt.Errorf("%w: unary %q (node %d)", ErrUnknownOperator, op, nodeID)
		}
	}
	return out, nil
}

// filterNode keeps values where the paired condition is truthy, else null.
func filterNode(nodeID uint32, childIDs []uint32, outputs map[uint32][]model.Value) ([]model.Value, error) {
	if len(childIDs) < 2 {
		return nil, fmt.Errorf("%w: filter node %d needs series and condition", ErrMissingChildren, nodeID)
	}
	series, ok := outputs[childIDs[0]]
	if !ok {
		return nil, fmt.Errorf("%w: node %d child %d", ErrMissingChild, nodeID, childIDs[0])
	}
	cond, ok := outputs[childIDs[1]]
	if !ok {
		return nil, fmt.Errorf("%w: node %d child %d", ErrMissingChild, nodeID, childIDs[1])
	}

	n := len(series)
	if len(cond) < n {
		n = len(cond)
	}
	out := make([]model.Value, n)
	for i := 0; i < n; i++ {
		if cond[i].Truthy() {
			out[i] = series[i]
		} else {
			out[i] = model.Null()
		}
	}
	return out, nil
}

// aggregateNode reduces the whole child series over its non-null entries and
// broadcasts the result as a constant series. Not a rolling window.
func aggregateNode(nodeID uint32, meta NodeMeta, childIDs []uint32, outputs map[uint32][]model.Value, rows int) ([]model.Value, error) {
	if len(childIDs) < 1 {
		return nil, fmt.Errorf("%w: aggregate node %d needs one", ErrMissingChildren, nodeID)
	}
	series, ok := outputs[childIDs[0]]
	if !ok {
		return nil, fmt.Errorf("%w: node %d child %d", ErrMissingChild, nodeID, childIDs[0])
	}

	var (
		count    int
		sum      float64
		max, min float64
	)
	for _, v := range series {
		if v.IsNull() {
			continue
		}
		f := v.AsNumber()
		if math.IsNaN(f) {
			continue
		}
		if count == 0 {
			max, min = f, f
		} else {
			max = math.Max(max, f)
			min = math.Min(min, f)
		}
		count++
		sum += f
	}

	var result model.Value
	switch meta["operation"] {
	case "count":
		result = model.Num(float64(count))
	case "sum":
		result = model.Num(sum)
	case "avg":
		if count == 0 {
			result = model.Null()
		} else {
			result = model.Num(sum / float64(count))
		}
	case "max":
		if count == 0 {
			result = model.Null()
		} else {
			result = model.Num(max)
		}
	case "min":
		if count == 0 {
			result = model.Null()
		} else {
			result = model.Num(min)
		}
	default:
		return nil, fmt.Errorf("%w: aggregate %q (node %d)", ErrUnknownOperator, meta["operation"], nodeID)
	}

	n := len(series)
	if n == 0 {
		n = rows
	}
	return broadcast(result, n), nil
}

// timeShiftNode compares each row with the row `shift` positions earlier.
// Modes: raw lag (default), change, change_pct. Rows before the horizon
// are null.
func timeShiftNode(nodeID uint32, meta NodeMeta, childIDs []uint32, outputs map[uint32][]model.Value) ([]model.Value, error) {
	if len(childIDs) < 1 {
		return nil, fmt.Errorf("%w: time_shift node %d needs one", ErrMissingChildren, nodeID)
	}
	series, ok := outputs[childIDs[0]]
	if !ok {
		return nil, fmt.Errorf("%w: node %d child %d", ErrMissingChild, nodeID, childIDs[0])
	}

	shift := 1
	if raw, ok := meta["shift"]; ok {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && v > 0 {
			shift = v
		}
	}

	mode := meta["operation"]
	out := make([]model.Value, len(series))
	for i := range series {
		if i < shift {
			out[i] = model.Null()
			continue
		}
		prev := series[i-shift]
		switch mode {
		case "", "lag":
			out[i] = prev
		case "change":
			out[i] = model.Num(series[i].AsNumber() - prev.AsNumber())
		case "change_pct", "percent":
			pv := prev.AsNumber()
			if pv == 0 {
				out[i] = model.Num(0)
			} else {
				out[i] = model.Num((series[i].AsNumber() - pv) / pv * 100)
			}
		default:
			return nil, fmt.Errorf("%w: time_shift %q (node %d)", ErrUnknownOperator, mode, nodeID)
		}
	}
	return out, nil
}

func broadcast(v model.Value, rows int) []model.Value {
	out := make([]model.Value, rows)
	for i := range out {
		out[i] = v
	}
	return out
}

func numbers(values []float64) []model.Value {
	out := make([]model.Value, len(values))
	for i, f := range values {
		if math.IsNaN(f) {
			out[i] = model.Null()
		} else {
			out[i] = model.Num(f)
		}
	}
	return out
}

func asNumbers(values []model.Value) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.AsNumber()
	}
	return out
}
