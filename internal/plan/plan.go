// Package plan is the execution facade. It validates a declarative payload,
// resolves the dataset partition, and runs either the incremental backend
// row-by-row (flat kernel requests) or the graph executor once over the
// whole partition (DAG mode).
package plan

import (
	"errors"
	"fmt"
	"strings"

	"ta-enginev1/internal/dataset"
	"ta-enginev1/internal/graph"
	"ta-enginev1/internal/incremental"
	"ta-enginev1/internal/kernel"
	"ta-enginev1/internal/model"
)

var (
	ErrInvalidPayload      = errors.New("invalid execute payload")
	ErrPartitionNotFound   = errors.New("dataset partition not found")
	ErrMissingOHLCV        = errors.New("ohlcv columns missing")
	ErrUnsupportedKernelID = errors.New("unsupported kernel_id in payload")
)

// PartitionRef names one (symbol, timeframe, source) stream.
type PartitionRef struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Source    string `json:"source"`
}

// Request is one flat incremental kernel binding.
type Request struct {
	NodeID     uint32                 `json:"node_id"`
	KernelID   string                 `json:"kernel_id"`
	InputField string                 `json:"input_field"`
	Kwargs     map[string]model.Value `json:"kwargs"`
}

// Payload binds a dataset partition to either a DAG or flat requests.
type Payload struct {
	DatasetID uint64       `json:"dataset_id"`
	Partition PartitionRef `json:"partition"`
	Graph     *graph.Graph `json:"graph,omitempty"`
	Requests  []Request    `json:"requests,omitempty"`
}

// Validate checks payload shape before any dataset access.
func (p *Payload) Validate() error {
	if strings.TrimSpace(p.Partition.Symbol) == "" {
		return fmt.Errorf("%w: partition.symbol must be non-empty", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Partition.Timeframe) == "" {
		return fmt.Errorf("%w: partition.timeframe must be non-empty", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Partition.Source) == "" {
		return fmt.Errorf("%w: partition.source must be non-empty", ErrInvalidPayload)
	}
	if p.Graph == nil {
		return nil
	}
	g := p.Graph
	if len(g.NodeOrder) == 0 {
		return fmt.Errorf("%w: graph.node_order must be non-empty", ErrInvalidPayload)
	}
	if _, ok := g.Nodes[g.RootID]; !ok {
		return fmt.Errorf("%w: graph.root_id must exist in graph.nodes", ErrInvalidPayload)
	}
	inOrder := make(map[uint32]struct{}, len(g.NodeOrder))
	for _, id := range g.NodeOrder {
		inOrder[id] = struct{}{}
	}
	if _, ok := inOrder[g.RootID]; !ok {
		return fmt.Errorf("%w: graph.root_id must be present in graph.node_order", ErrInvalidPayload)
	}
	for id := range g.Nodes {
		if _, ok := inOrder[id]; !ok {
			return fmt.Errorf("%w: graph.node_order missing node id %d", ErrInvalidPayload, id)
		}
	}
	return nil
}

// supported incremental kernel ids; names without a dedicated state machine
// run as generic (always-null) kernels rather than failing mid-replay.
var kernelIDs = map[string]kernel.Kind{
	"rsi":        kernel.KindRSI,
	"atr":        kernel.KindATR,
	"stochastic": kernel.KindStochastic,
	"vwap":       kernel.KindVWAP,
	"macd":       kernel.KindGeneric,
	"bbands":     kernel.KindGeneric,
	"adx":        kernel.KindGeneric,
	"generic":    kernel.KindGeneric,
}

func parseRequests(requests []Request) ([]incremental.StepRequest, error) {
	out := make([]incremental.StepRequest, 0, len(requests))
	for _, req := range requests {
		kind, ok := kernelIDs[strings.ToLower(strings.TrimSpace(req.KernelID))]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedKernelID, req.KernelID)
		}
		out = append(out, incremental.StepRequest{
			NodeID:     req.NodeID,
			Kernel:     kind,
			InputField: req.InputField,
			Kwargs:     req.Kwargs,
		})
	}
	return out, nil
}

// Execute runs the payload to completion and returns one full output series
// per node id.
func Execute(reg *dataset.Registry, payload *Payload) (map[uint32][]model.Value, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	var requests []incremental.StepRequest
	if payload.Graph == nil {
		parsed, err := parseRequests(payload.Requests)
		if err != nil {
			return nil, err
		}
		requests = parsed
	}

	key := dataset.PartitionKey{
		Symbol:    payload.Partition.Symbol,
		Timeframe: payload.Partition.Timeframe,
		Source:    payload.Partition.Source,
	}
	ds, err := reg.Get(payload.DatasetID)
	if err != nil {
		return nil, err
	}
	part, ok := ds.Partitions[key]
	if !ok {
		return nil, fmt.Errorf("%w: symbol=%s timeframe=%s source=%s",
			ErrPartitionNotFound, key.Symbol, key.Timeframe, key.Source)
	}
	if part.OHLCV == nil {
		return nil, fmt.Errorf("%w: symbol=%s timeframe=%s source=%s",
			ErrMissingOHLCV, key.Symbol, key.Timeframe, key.Source)
	}

	if payload.Graph != nil {
		return graph.Execute(*payload.Graph, part)
	}
	return replayRequests(part.OHLCV, requests), nil
}

// replayRequests drives a fresh incremental backend across every OHLCV row.
func replayRequests(bars *dataset.OHLCV, requests []incremental.StepRequest) map[uint32][]model.Value {
	backend := incremental.NewBackend()

	out := make(map[uint32][]model.Value, len(requests))
	for _, req := range requests {
		out[req.NodeID] = make([]model.Value, 0, bars.Rows())
	}

	for i := 0; i < bars.Rows(); i++ {
		tick := model.Tick{
			"open":   model.Num(bars.Open[i]),
			"high":   model.Num(bars.High[i]),
			"low":    model.Num(bars.Low[i]),
			"close":  model.Num(bars.Close[i]),
			"volume": model.Num(bars.Volume[i]),
		}
		step := backend.Step(uint64(i)+1, requests, tick)
		for nodeID, v := range step {
			out[nodeID] = append(out[nodeID], v)
		}
	}
	return out
}
