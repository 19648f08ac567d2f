// Package workflow implements a generic document state machine. Each edge names the
// roles allowed to fire it, an optional guard and an optional effect that runs inside
// the caller's transaction.
package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// State is a lifecycle status.
type State string

// Actor is the principal firing a transition together with its resolved role.
type Actor struct {
	core.Principal
	Role rbac.Role
}

// Guard rejects a transition before any effect runs.
type Guard[T any] func(ctx context.Context, subject T, actor Actor) error

// Effect applies the side effects of a transition to subject.
type Effect[T any] func(ctx context.Context, subject *T, from State, actor Actor) error

// Edge is one allowed transition.
type Edge[T any] struct {
	Name   string
	From   State
	To     State
	Roles  []rbac.Role
	Guard  Guard[T]
	Effect Effect[T]
}

// ErrInvalidTransition is returned when no edge joins two states.
var ErrInvalidTransition = core.Conflict("invalid_transition", "status transition is not allowed")

// Machine is an immutable-after-build transition table for one document kind.
type Machine[T any] struct {
	name    string
	initial State
	edges   map[State]map[State]Edge[T]
	cancel  *Edge[T]
}

// New starts a machine whose documents are created in initial.
func New[T any](name string, initial State) *Machine[T] {
	return &Machine[T]{name: name, initial: initial, edges: make(map[State]map[State]Edge[T])}
}

// Edge registers a transition.
func (m *Machine[T]) Edge(e Edge[T]) *Machine[T] {
	if m.edges[e.From] == nil {
		m.edges[e.From] = make(map[State]Edge[T])
	}
	if e.Name == "" {
		e.Name = string(e.From) + "->" + string(e.To)
	}
	m.edges[e.From][e.To] = e
	return m
}

// WithCancel makes to reachable from every non-terminal state. The effect receives
// the state being left.
func (m *Machine[T]) WithCancel(to State, roles []rbac.Role, effect Effect[T]) *Machine[T] {
	m.cancel = &Edge[T]{Name: "cancel", To: to, Roles: roles, Effect: effect}
	return m
}

func (m *Machine[T]) Name() string   { return m.name }
func (m *Machine[T]) Initial() State { return m.initial }

// Terminal reports whether no forward edge leaves s.
func (m *Machine[T]) Terminal(s State) bool {
	return len(m.edges[s]) == 0
}

// Next lists the states reachable from s in one step.
func (m *Machine[T]) Next(s State) []State {
	out := make([]State, 0, len(m.edges[s])+1)
	for to := range m.edges[s] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if m.cancel != nil && !m.Terminal(s) && s != m.cancel.To {
		out = append(out, m.cancel.To)
	}
	return out
}

// Known reports whether s appears anywhere in the table.
func (m *Machine[T]) Known(s State) bool {
	if s == m.initial || (m.cancel != nil && s == m.cancel.To) {
		return true
	}
	if _, ok := m.edges[s]; ok {
		return true
	}
	for _, targets := range m.edges {
		if _, ok := targets[s]; ok {
			return true
		}
	}
	return false
}

func (m *Machine[T]) lookup(from, to State) (Edge[T], bool) {
	if e, ok := m.edges[from][to]; ok {
		return e, true
	}
	if m.cancel != nil && to == m.cancel.To && !m.Terminal(from) && from != to {
		e := *m.cancel
		e.From = from
		return e, true
	}
	return Edge[T]{}, false
}

// Fire moves subject from one state to another. It reports false without error when
// from equals to. Roles are checked before the guard, the guard before the effect.
func (m *Machine[T]) Fire(ctx context.Context, subject *T, from, to State, actor Actor) (bool, error) {
	if from == to {
		return false, nil
	}
	edge, ok := m.lookup(from, to)
	if !ok {
		return false, &core.Error{
			Kind:   core.ErrStateConflict,
			Code:   ErrInvalidTransition.Code,
			Reason: fmt.Sprintf("%s cannot move from %s to %s", m.name, from, to),
		}
	}
	if len(edge.Roles) > 0 && !actor.Role.In(edge.Roles...) {
		return false, core.Forbidden("role_not_allowed", fmt.Sprintf("role %s may not %s a %s", actor.Role, edge.Name, m.name))
	}
	if edge.Guard != nil {
		if err := edge.Guard(ctx, *subject, actor); err != nil {
			return false, err
		}
	}
	if edge.Effect != nil {
		if err := edge.Effect(ctx, subject, from, actor); err != nil {
			return false, err
		}
	}
	return true, nil
}
