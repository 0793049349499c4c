package statemachine

import (
	"errors"
	"fmt"
)

var ErrTerminalState = errors.New("state is terminal")

// NoTransitionError reports a transition absent from the table.
type NoTransitionError struct {
	From string
	To   string
}

func (e *NoTransitionError) Error() string {
	return fmt.Sprintf("no transition from %q to %q", e.From, e.To)
}

func IsNoTransitionError(err error) bool {
	var e *NoTransitionError
	return errors.As(err, &e)
}

// Table is an immutable set of allowed state transitions. It holds no current
// state, so one Table serves every row of a persisted entity.
type Table[S comparable] struct {
	edges    map[S]map[S]struct{}
	terminal map[S]struct{}
}

// Builder assembles a Table.
type Builder[S comparable] struct {
	t Table[S]
}

func NewBuilder[S comparable]() *Builder[S] {
	return &Builder[S]{t: Table[S]{
		edges:    make(map[S]map[S]struct{}),
		terminal: make(map[S]struct{}),
	}}
}

// Allow permits from -> each of to.
func (b *Builder[S]) Allow(from S, to ...S) *Builder[S] {
	set, ok := b.t.edges[from]
	if !ok {
		set = make(map[S]struct{}, len(to))
		b.t.edges[from] = set
	}
	for _, s := range to {
		set[s] = struct{}{}
	}
	return b
}

// Terminal marks states with no outgoing transitions.
func (b *Builder[S]) Terminal(states ...S) *Builder[S] {
	for _, s := range states {
		b.t.terminal[s] = struct{}{}
	}
	return b
}

func (b *Builder[S]) Build() Table[S] {
	return b.t
}

// Can reports whether from -> to is allowed. Staying in the same state is
// always allowed.
func (t Table[S]) Can(from, to S) bool {
	if from == to {
		return true
	}
	_, ok := t.edges[from][to]
	return ok
}

// Check returns nil for allowed transitions, wrapping ErrTerminalState when
// the source state is terminal.
func (t Table[S]) Check(from, to S) error {
	if t.Can(from, to) {
		return nil
	}
	err := &NoTransitionError{From: fmt.Sprint(from), To: fmt.Sprint(to)}
	if t.IsTerminal(from) {
		return errors.Join(err, ErrTerminalState)
	}
	return err
}

func (t Table[S]) IsTerminal(s S) bool {
	_, ok := t.terminal[s]
	return ok
}

// Targets lists the states reachable from s in one step.
func (t Table[S]) Targets(s S) []S {
	out := make([]S, 0, len(t.edges[s]))
	for to := range t.edges[s] {
		out = append(out, to)
	}
	return out
}
