package state

import (
	"sync"

	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
)

// Mutation edits a private copy of the state. Returning an error discards it.
type Mutation func(s *model.ProjectState) error

// Listener observes committed states. The state must not be modified.
type Listener func(ev model.StateEvent)

type entry struct {
	label string
	state *model.ProjectState
}

type subscriber struct {
	id int
	fn Listener
}

// Store holds the authoritative project state and its undo/redo history.
// Committed states are never modified, so history entries are shared
// references rather than copies.
type Store struct {
	mu        sync.Mutex
	current   *model.ProjectState
	undo      []entry
	redo      []entry
	capacity  int
	keepRedo  bool
	listeners []subscriber
	nextSub   int

	// dispatch serializes mutations with their notifications
	dispatch sync.Mutex
	logger   *zap.Logger
}

// Options configure a Store
type Options struct {
	Capacity          int
	KeepRedoOnRestore bool
}

func New(initial *model.ProjectState, opts Options, logger *zap.Logger) *Store {
	if initial == nil {
		initial = model.NewProjectState()
	}
	if opts.Capacity < 1 {
		opts.Capacity = 50
	}
	initial = initial.Clone()
	initial.ScenesWithVisuals = initial.ComputeScenesWithVisuals()
	return &Store{
		current:  initial,
		capacity: opts.Capacity,
		keepRedo: opts.KeepRedoOnRestore,
		logger:   logger.Named("state"),
	}
}

// Read returns a copy of the current state.
func (s *Store) Read() *model.ProjectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Apply runs m against a copy of the current state and commits the result
// when it passes the lock rule and every invariant. Listeners have been
// notified by the time Apply returns. Listeners must not call Apply.
func (s *Store) Apply(label string, m Mutation) error {
	return s.update(func() (string, error) {
		next, err := s.prepare(m)
		if err != nil {
			s.logger.Debug("Mutation rejected", zap.String("label", label), zap.Error(err))
			return "", err
		}
		s.pushUndo(entry{label: label, state: s.current})
		s.redo = nil
		s.current = next
		return label, nil
	})
}

// Check reports whether m would be accepted without committing it.
func (s *Store) Check(m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.prepare(m)
	return err
}

func (s *Store) prepare(m Mutation) (*model.ProjectState, error) {
	next := s.current.Clone()
	if err := m(next); err != nil {
		return nil, err
	}
	if err := checkLock(s.current, next); err != nil {
		return nil, err
	}
	next.ScenesWithVisuals = next.ComputeScenesWithVisuals()
	if err := Validate(next); err != nil {
		return nil, err
	}
	return next, nil
}

// Undo restores the state before the last committed mutation.
func (s *Store) Undo() error {
	return s.update(func() (string, error) {
		if len(s.undo) == 0 {
			return "", model.NewError(model.KindGatePredicateUnmet, "nothing to undo")
		}
		last := s.undo[len(s.undo)-1]
		s.undo = s.undo[:len(s.undo)-1]
		s.redo = append(s.redo, entry{label: last.label, state: s.current})
		s.current = last.state
		return "undo " + last.label, nil
	})
}

// Redo re-applies the last undone mutation.
func (s *Store) Redo() error {
	return s.update(func() (string, error) {
		if len(s.redo) == 0 {
			return "", model.NewError(model.KindGatePredicateUnmet, "nothing to redo")
		}
		last := s.redo[len(s.redo)-1]
		s.redo = s.redo[:len(s.redo)-1]
		s.pushUndo(entry{label: last.label, state: s.current})
		s.current = last.state
		return "redo " + last.label, nil
	})
}

// Replace swaps in a restored state. The lock rule does not apply, but the
// state must satisfy every invariant. The replaced state stays undoable.
func (s *Store) Replace(label string, st *model.ProjectState) error {
	next := st.Clone()
	next.ScenesWithVisuals = next.ComputeScenesWithVisuals()
	if err := Validate(next); err != nil {
		return err
	}
	return s.update(func() (string, error) {
		s.pushUndo(entry{label: label, state: s.current})
		if !s.keepRedo {
			s.redo = nil
		}
		s.current = next
		return label, nil
	})
}

func (s *Store) pushUndo(e entry) {
	s.undo = append(s.undo, e)
	if over := len(s.undo) - s.capacity; over > 0 {
		s.undo = append([]entry(nil), s.undo[over:]...)
	}
}

// update runs fn under the state lock and, when it commits, notifies
// listeners after releasing it. dispatch is held throughout so listeners see
// commits in order.
func (s *Store) update(fn func() (label string, err error)) error {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	label, err := fn()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	ev := model.StateEvent{
		Label:   label,
		State:   s.current,
		CanUndo: len(s.undo) > 0,
		CanRedo: len(s.redo) > 0,
	}
	listeners := append([]subscriber(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(ev)
	}
	return nil
}

// Subscribe registers a listener. Listeners run in registration order.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.listeners = append(s.listeners, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo) > 0
}

func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redo) > 0
}

// History returns the labels of undoable mutations, oldest first.
func (s *Store) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.undo))
	for i, e := range s.undo {
		out[i] = e.label
	}
	return out
}

// EachState calls fn for the current state and every state held in history.
func (s *Store) EachState(fn func(*model.ProjectState)) {
	s.mu.Lock()
	states := make([]*model.ProjectState, 0, 1+len(s.undo)+len(s.redo))
	states = append(states, s.current)
	for _, e := range s.undo {
		states = append(states, e.state)
	}
	for _, e := range s.redo {
		states = append(states, e.state)
	}
	s.mu.Unlock()
	for _, st := range states {
		fn(st)
	}
}
