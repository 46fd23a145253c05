package registry

import (
	"errors"
	"time"

	"github.com/cuemby/clustermaster/pkg/types"
)

// ErrAlreadyAdmitted is returned by Admit when the agent id is already in
// the admitted list.
var ErrAlreadyAdmitted = errors.New("registry: agent already admitted")

// ErrNotAdmitted is returned by MarkUnreachable and Remove when the agent id
// is not currently admitted.
var ErrNotAdmitted = errors.New("registry: agent not admitted")

// State is the full durable registry content: two lists, admitted and
// unreachable, indexed for O(1) membership checks.
type State struct {
	Admitted    map[types.AgentID]types.AgentInfo
	Unreachable map[types.AgentID]time.Time
}

// NewState returns an empty registry state.
func NewState() *State {
	return &State{
		Admitted:    make(map[types.AgentID]types.AgentInfo),
		Unreachable: make(map[types.AgentID]time.Time),
	}
}

// Operation is a durable command against registry State. Apply mutates state
// in place and reports whether anything changed, or an error if the
// operation's precondition was violated.
type Operation interface {
	// Kind names the operation for serialization and logging.
	Kind() string
	Apply(s *State) (changed bool, err error)
}

// Admit appends a new agent to the admitted list. Fails if the id is already
// admitted.
type Admit struct {
	Info types.AgentInfo
}

func (Admit) Kind() string { return "admit" }

func (o Admit) Apply(s *State) (bool, error) {
	if _, ok := s.Admitted[o.Info.ID]; ok {
		return false, ErrAlreadyAdmitted
	}
	s.Admitted[o.Info.ID] = o.Info
	return true, nil
}

// MarkUnreachable moves an admitted agent to the unreachable list with the
// given timestamp. Fails if the id is not admitted.
type MarkUnreachable struct {
	Info types.AgentInfo
	At   time.Time
}

func (MarkUnreachable) Kind() string { return "mark_unreachable" }

func (o MarkUnreachable) Apply(s *State) (bool, error) {
	if _, ok := s.Admitted[o.Info.ID]; !ok {
		return false, ErrNotAdmitted
	}
	delete(s.Admitted, o.Info.ID)
	s.Unreachable[o.Info.ID] = o.At
	return true, nil
}

// MarkReachable admits (or re-admits) an agent that was previously marked
// unreachable. No-op if already admitted. If the agent appears in neither
// list the registry may have garbage-collected its metadata; the
// operation still admits it, and the caller (registry.Client.Apply) logs a
// warning in that case since Apply itself has no logger.
type MarkReachable struct {
	Info types.AgentInfo
}

func (MarkReachable) Kind() string { return "mark_reachable" }

func (o MarkReachable) Apply(s *State) (bool, error) {
	if _, ok := s.Admitted[o.Info.ID]; ok {
		return false, nil
	}
	delete(s.Unreachable, o.Info.ID)
	s.Admitted[o.Info.ID] = o.Info
	return true, nil
}

// WasGarbageCollected reports whether applying this MarkReachable found the
// agent in neither list — the signal the caller uses to log a warning about.
// Must be called against the State from *before* Apply.
func (o MarkReachable) WasGarbageCollected(before *State) bool {
	if _, ok := before.Admitted[o.Info.ID]; ok {
		return false
	}
	_, wasUnreachable := before.Unreachable[o.Info.ID]
	return !wasUnreachable
}

// PruneUnreachable removes every listed id from the unreachable list. Ids
// not present are silently skipped — they may have been concurrently
// removed.
type PruneUnreachable struct {
	IDs []types.AgentID
}

func (PruneUnreachable) Kind() string { return "prune_unreachable" }

func (o PruneUnreachable) Apply(s *State) (bool, error) {
	changed := false
	for _, id := range o.IDs {
		if _, ok := s.Unreachable[id]; ok {
			delete(s.Unreachable, id)
			changed = true
		}
	}
	return changed, nil
}

// Remove deletes an admitted agent outright (operator-requested removal).
// Fails if the id is not admitted.
type Remove struct {
	Info types.AgentInfo
}

func (Remove) Kind() string { return "remove" }

func (o Remove) Apply(s *State) (bool, error) {
	if _, ok := s.Admitted[o.Info.ID]; !ok {
		return false, ErrNotAdmitted
	}
	delete(s.Admitted, o.Info.ID)
	return true, nil
}
