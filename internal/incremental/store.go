// Package incremental implements tick-by-tick streaming execution: a runtime
// state store with a versioned snapshot/restore contract, and the backend
// that steps one kernel state machine per node across events.
package incremental

import (
	"errors"
	"fmt"

	"ta-enginev1/internal/kernel"
	"ta-enginev1/internal/model"
)

// SchemaVersion is the snapshot schema this build writes and accepts.
const SchemaVersion = 1

// ErrSchemaVersion is returned by Restore on a schema mismatch. The store is
// left untouched.
var ErrSchemaVersion = errors.New("unsupported snapshot schema version")

// NodeState is the per-node bookkeeping the store tracks between ticks.
type NodeState struct {
	NodeID         uint32
	TicksProcessed uint64
	LastOutput     model.Value
	StateBlob      kernel.Blob
}

// SnapshotNode is one node's captured state inside a snapshot artifact.
type SnapshotNode struct {
	TicksProcessed uint64                 `json:"ticks_processed"`
	LastOutput     model.Value            `json:"last_output"`
	StateBlob      map[string]model.Value `json:"state_blob"`
}

// Snapshot is the immutable, versioned capture of all per-node state.
// Restoring it must reproduce bit-identical future step outputs.
type Snapshot struct {
	SchemaVersion  int                     `json:"schema_version"`
	LastEventIndex uint64                  `json:"last_event_index"`
	Nodes          map[uint32]SnapshotNode `json:"nodes"`
}

// StateStore tracks runtime node state for one backend.
type StateStore struct {
	lastEventIndex uint64
	nodes          map[uint32]NodeState
}

// NewStateStore returns an initialized empty store.
func NewStateStore() *StateStore {
	s := &StateStore{}
	s.Initialize()
	return s
}

// Initialize clears everything.
func (s *StateStore) Initialize() {
	s.lastEventIndex = 0
	s.nodes = make(map[uint32]NodeState)
}

// SetLastEventIndex records the index of the event being processed.
func (s *StateStore) SetLastEventIndex(idx uint64) { s.lastEventIndex = idx }

// LastEventIndex returns the most recently recorded event index.
func (s *StateStore) LastEventIndex() uint64 { return s.lastEventIndex }

// UpsertNode inserts or replaces a node's runtime state.
func (s *StateStore) UpsertNode(node NodeState) { s.nodes[node.NodeID] = node }

// GetNode looks up a node's runtime state.
func (s *StateStore) GetNode(nodeID uint32) (NodeState, bool) {
	n, ok := s.nodes[nodeID]
	return n, ok
}

// Snapshot captures the full store, deep-copying every node's blob so later
// steps cannot mutate the artifact.
func (s *StateStore) Snapshot() Snapshot {
	nodes := make(map[uint32]SnapshotNode, len(s.nodes))
	for id, n := range s.nodes {
		nodes[id] = SnapshotNode{
			TicksProcessed: n.TicksProcessed,
			LastOutput:     n.LastOutput,
			StateBlob:      copyBlob(n.StateBlob),
		}
	}
	return Snapshot{
		SchemaVersion:  SchemaVersion,
		LastEventIndex: s.lastEventIndex,
		Nodes:          nodes,
	}
}

// Restore replaces the store's contents with the snapshot. A schema version
// mismatch fails fast with no mutation.
func (s *StateStore) Restore(snap Snapshot) error {
	if snap.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrSchemaVersion, snap.SchemaVersion, SchemaVersion)
	}

	nodes := make(map[uint32]NodeState, len(snap.Nodes))
	for id, n := range snap.Nodes {
		nodes[id] = NodeState{
			NodeID:         id,
			TicksProcessed: n.TicksProcessed,
			LastOutput:     n.LastOutput,
			StateBlob:      copyBlob(n.StateBlob),
		}
	}
	s.lastEventIndex = snap.LastEventIndex
	s.nodes = nodes
	return nil
}

func copyBlob(blob map[string]model.Value) kernel.Blob {
	out := make(kernel.Blob, len(blob))
	for k, v := range blob {
		out[k] = v
	}
	return out
}
