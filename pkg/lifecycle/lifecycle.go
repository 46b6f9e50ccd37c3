// ABOUTME: Lifecycle states and caller-initiated transitions per entity kind
// ABOUTME: Containers move LIVE <-> ARCHIVED; artifacts go PENDING -> LIVE -> marked -> DELETED

package lifecycle

import (
	"github.com/nainya/modelregistry/pkg/errdefs"
)

// State is the lifecycle state stored on an entity
type State string

const (
	Live              State = "LIVE"
	Archived          State = "ARCHIVED"
	Pending           State = "PENDING"
	Abandoned         State = "ABANDONED"
	MarkedForDeletion State = "MARKED_FOR_DELETION"
	Deleted           State = "DELETED"
)

// Event is a caller-initiated transition
type Event string

const (
	Archive         Event = "archive"
	Restore         Event = "restore"
	FinalizeSuccess Event = "finalize_success"
	FinalizeFailure Event = "finalize_failure"
	Delete          Event = "delete"
	Purge           Event = "purge"
)

type edge struct {
	from  State
	event Event
}

// Machine is the transition table of one entity kind
type Machine struct {
	kind        string
	states      []State
	transitions map[edge]State
}

// Container governs registered models, versions, experiments and runs
var Container = newMachine("container",
	[]State{Live, Archived},
	map[edge]State{
		{Live, Archive}:     Archived,
		{Live, Delete}:      Archived,
		{Archived, Restore}: Live,
	})

// Artifact governs model artifacts
var Artifact = newMachine("artifact",
	[]State{Pending, Live, Abandoned, MarkedForDeletion, Deleted},
	map[edge]State{
		{Pending, FinalizeSuccess}: Live,
		{Pending, FinalizeFailure}: Abandoned,
		{Live, Delete}:             MarkedForDeletion,
		{MarkedForDeletion, Purge}: Deleted,
	})

func newMachine(kind string, states []State, transitions map[edge]State) *Machine {
	return &Machine{kind: kind, states: states, transitions: transitions}
}

// States lists the states of the machine
func (m *Machine) States() []State {
	return append([]State(nil), m.states...)
}

// Has reports whether s belongs to the machine
func (m *Machine) Has(s State) bool {
	for _, st := range m.states {
		if st == s {
			return true
		}
	}
	return false
}

// Fire returns the state reached by applying ev in from
func (m *Machine) Fire(from State, ev Event) (State, error) {
	to, ok := m.transitions[edge{from, ev}]
	if !ok {
		return "", &errdefs.StateTransitionError{Kind: m.kind, From: string(from), Event: string(ev)}
	}
	return to, nil
}

// Validate checks a direct state change requested through an update.
// Staying in the same state is allowed; anything else must be reachable
// through exactly one event.
func (m *Machine) Validate(from, to State) error {
	if !m.Has(to) {
		return errdefs.InvalidArgument("%s state %q", m.kind, to)
	}
	if from == to {
		return nil
	}
	for e, target := range m.transitions {
		if e.from == from && target == to {
			return nil
		}
	}
	return &errdefs.StateTransitionError{Kind: m.kind, From: string(from), Event: "set state " + string(to)}
}

// ParseEvent maps a REST/gRPC transition name to an Event
func ParseEvent(name string, success bool) (Event, error) {
	switch name {
	case "archive":
		return Archive, nil
	case "restore":
		return Restore, nil
	case "delete":
		return Delete, nil
	case "purge":
		return Purge, nil
	case "finalize":
		if success {
			return FinalizeSuccess, nil
		}
		return FinalizeFailure, nil
	default:
		return "", errdefs.InvalidArgument("unknown transition %q", name)
	}
}

// ArtifactInitialState picks the creation state of an artifact. An explicit
// PENDING or LIVE wins; otherwise an artifact with a URI starts LIVE.
func ArtifactInitialState(requested State, uri string) (State, error) {
	switch requested {
	case Pending, Live:
		return requested, nil
	case "":
		if uri != "" {
			return Live, nil
		}
		return Pending, nil
	default:
		return "", errdefs.InvalidArgument("artifact cannot be created in state %q", requested)
	}
}

// ContainerInitialState picks the creation state of a container
func ContainerInitialState(requested State) (State, error) {
	switch requested {
	case "", Live:
		return Live, nil
	default:
		return "", errdefs.InvalidArgument("cannot be created in state %q", requested)
	}
}
