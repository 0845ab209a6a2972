package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/messaging"
)

// ErrDuplicateState is returned when adding a state whose id is already taken.
var ErrDuplicateState = errors.New("state already exists")

// StatesList is the registry of states and the access tokens that guard them.
//
// Thread Safety:
// mu protects the states map only. It is never held while waiting on a state
// lock; GetStateByID and States hand out *State handles that callers lock
// themselves.
type StatesList struct {
	mu     sync.Mutex
	states map[uint8]*State
	tokens *tokenTable
	log    *slog.Logger
}

// NewStatesList creates an empty list.
func NewStatesList() *StatesList {
	return &StatesList{
		states: make(map[uint8]*State),
		tokens: newTokenTable(),
		log:    logger.WithComponent("states"),
	}
}

// WithTokens registers tokens and returns the list for chaining.
func (l *StatesList) WithTokens(flags ...TokenFlags) *StatesList {
	l.AddTokens(flags...)
	return l
}

// WithState adds s and returns the list for chaining. It panics on a
// duplicate id and is meant for static setup.
func (l *StatesList) WithState(s *State) *StatesList {
	if err := l.AddState(s); err != nil {
		panic(err)
	}
	return l
}

// AddState adds s, sharing the list's token table with it.
func (l *StatesList) AddState(s *State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.states[s.id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateState, s.id)
	}
	s.tokens = l.tokens
	l.states[s.id] = s
	l.log.Debug("state added", "stateID", s.id)
	return nil
}

// AddTokens registers tokens. Grants for a token that already exists are merged.
func (l *StatesList) AddTokens(flags ...TokenFlags) {
	l.tokens.add(flags...)
}

// GetStateByID returns the state with the given id.
func (l *StatesList) GetStateByID(id uint8) (*State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[id]
	return s, ok
}

// States returns a snapshot of all states ordered by id.
func (l *StatesList) States() []*State {
	l.mu.Lock()
	ids := lo.Keys(l.states)
	slices.Sort(ids)
	out := lo.Map(ids, func(id uint8, _ int) *State { return l.states[id] })
	l.mu.Unlock()
	return out
}

// Len returns the number of states.
func (l *StatesList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

// TokenCount returns the number of registered tokens.
func (l *StatesList) TokenCount() int {
	return l.tokens.len()
}

// NotifyExtensions delivers msg to the extensions of every state, locking each
// state in turn. It stops at the first state whose lock cannot be acquired
// before ctx is done.
func (l *StatesList) NotifyExtensions(ctx context.Context, msg messaging.ExtensionMessage) error {
	for _, s := range l.States() {
		err := s.WithLock(ctx, func(s *State) error {
			s.NotifyExtensions(msg)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// UnloadExtensions unloads the running extensions of every state.
func (l *StatesList) UnloadExtensions(ctx context.Context) error {
	for _, s := range l.States() {
		err := s.WithLock(ctx, func(s *State) error {
			s.UnloadExtensions()
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
