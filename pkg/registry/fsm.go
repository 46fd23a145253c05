package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/clustermaster/pkg/types"
	"github.com/hashicorp/raft"
)

// envelope is the wire shape of a committed Operation: a kind tag plus its
// JSON payload.
type envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func encodeOperation(op Operation) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: op.Kind(), Data: data})
}

func decodeOperation(raw []byte) (Operation, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation envelope: %w", err)
	}

	switch env.Kind {
	case "admit":
		var op Admit
		err := json.Unmarshal(env.Data, &op)
		return op, err
	case "mark_unreachable":
		var op MarkUnreachable
		err := json.Unmarshal(env.Data, &op)
		return op, err
	case "mark_reachable":
		var op MarkReachable
		err := json.Unmarshal(env.Data, &op)
		return op, err
	case "prune_unreachable":
		var op PruneUnreachable
		err := json.Unmarshal(env.Data, &op)
		return op, err
	case "remove":
		var op Remove
		err := json.Unmarshal(env.Data, &op)
		return op, err
	default:
		return nil, fmt.Errorf("unknown registry operation: %s", env.Kind)
	}
}

// applyResult is what FSM.Apply returns; registry.Client type-asserts it
// back out of the raft.ApplyFuture's Response().
type applyResult struct {
	Changed bool
	Err     error
}

// FSM implements raft.FSM over registry State via the standard
// Apply/Snapshot/Restore triad.
type FSM struct {
	mu    sync.RWMutex
	state *State
	store *BoltStore
}

// NewFSM creates an FSM backed by the given durable store, loading any
// previously persisted state.
func NewFSM(store *BoltStore) (*FSM, error) {
	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &FSM{state: state, store: store}, nil
}

// Apply applies one committed registry Operation.
func (f *FSM) Apply(log *raft.Log) interface{} {
	op, err := decodeOperation(log.Data)
	if err != nil {
		return applyResult{Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	changed, err := op.Apply(f.state)
	if err != nil {
		return applyResult{Err: err}
	}
	if changed {
		if perr := f.store.Persist(f.state); perr != nil {
			return applyResult{Err: fmt.Errorf("failed to persist registry commit: %w", perr)}
		}
	}
	return applyResult{Changed: changed}
}

// Snapshot returns a point-in-time copy of the registry for raft's log
// compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := &snapshot{
		Admitted:    make(map[types.AgentID]types.AgentInfo, len(f.state.Admitted)),
		Unreachable: make(map[types.AgentID]time.Time, len(f.state.Unreachable)),
	}
	for k, v := range f.state.Admitted {
		snap.Admitted[k] = v
	}
	for k, v := range f.state.Unreachable {
		snap.Unreachable[k] = v
	}
	return snap, nil
}

// Restore replaces the FSM's state wholesale from a snapshot reader.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode registry snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = &State{Admitted: snap.Admitted, Unreachable: snap.Unreachable}
	return f.store.Persist(f.state)
}

// snapshot is the FSMSnapshot persisted by raft; its fields mirror State
// directly since the registry is small enough that a full-state snapshot is
// always cheap; the registry is two bounded lists.
type snapshot struct {
	Admitted    map[types.AgentID]types.AgentInfo
	Unreachable map[types.AgentID]time.Time
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *snapshot) Release() {}

// snapshotState returns a defensive copy of the FSM's current state, used by
// Client.Recover to serve a recovery read without racing Apply.
func (f *FSM) snapshotState() *State {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := NewState()
	for k, v := range f.state.Admitted {
		out.Admitted[k] = v
	}
	for k, v := range f.state.Unreachable {
		out.Unreachable[k] = v
	}
	return out
}
