package incremental

import (
	"ta-enginev1/internal/kernel"
	"ta-enginev1/internal/model"
)

// StepRequest names one node's kernel and where it reads its input.
type StepRequest struct {
	NodeID     uint32
	Kernel     kernel.Kind
	InputField string
	Kwargs     map[string]model.Value
}

// Backend owns one kernel state per node id and steps them across ticks.
// It holds no lock; the owning layer serializes access per backend.
type Backend struct {
	store  *StateStore
	states map[uint32]kernel.State
}

// NewBackend returns an initialized backend.
func NewBackend() *Backend {
	b := &Backend{}
	b.Initialize()
	return b
}

// Initialize resets the state store and the in-memory kernel state map.
func (b *Backend) Initialize() {
	if b.store == nil {
		b.store = NewStateStore()
	} else {
		b.store.Initialize()
	}
	b.states = make(map[uint32]kernel.State)
}

// Step advances every requested node by one tick, in the supplied order.
// Nodes never observe each other's same-tick output. A kernel state is
// created lazily on a node's first step; missing input fields read as null.
func (b *Backend) Step(eventIndex uint64, requests []StepRequest, tick model.Tick) map[uint32]model.Value {
	b.store.SetLastEventIndex(eventIndex)
	outputs := make(map[uint32]model.Value, len(requests))

	for _, req := range requests {
		state, ok := b.states[req.NodeID]
		if !ok {
			state = kernel.Initialize(req.Kernel, req.Kwargs)
		}

		input := tick.Field(req.InputField)
		newState, out := state.Step(input, tick)
		b.states[req.NodeID] = newState

		ticks := uint64(1)
		if prev, ok := b.store.GetNode(req.NodeID); ok {
			ticks = prev.TicksProcessed + 1
		}
		b.store.UpsertNode(NodeState{
			NodeID:         req.NodeID,
			TicksProcessed: ticks,
			LastOutput:     out,
			StateBlob:      kernel.Encode(newState),
		})

		outputs[req.NodeID] = out
	}
	return outputs
}

// Snapshot captures the runtime state store.
func (b *Backend) Snapshot() Snapshot {
	return b.store.Snapshot()
}

// Restore replaces the store from the snapshot and re-decodes each node's
// kernel state. A node whose blob is empty is simply absent afterwards and
// reinitializes lazily on its next step; that is tolerance, not an error.
func (b *Backend) Restore(snap Snapshot) error {
	if err := b.store.Restore(snap); err != nil {
		return err
	}
	b.states = make(map[uint32]kernel.State, len(snap.Nodes))
	for id, node := range snap.Nodes {
		if len(node.StateBlob) == 0 {
			continue
		}
		b.states[id] = kernel.Decode(node.StateBlob)
	}
	return nil
}

// Replay steps once per event, numbering events 1..N, and returns the
// per-event output mappings in order.
func (b *Backend) Replay(requests []StepRequest, events []model.Tick) []map[uint32]model.Value {
	out := make([]map[uint32]model.Value, 0, len(events))
	for i, tick := range events {
		out = append(out, b.Step(uint64(i)+1, requests, tick))
	}
	return out
}
