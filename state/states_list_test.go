package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhubert/plural-editor/extensions"
	"github.com/zhubert/plural-editor/messaging"
)

func TestStatesList_AddAndGet(t *testing.T) {
	list := NewStatesList().WithState(New(2, nil)).WithState(New(1, nil))

	s, ok := list.GetStateByID(1)
	if !ok || s.ID() != 1 {
		t.Fatalf("expected state 1, got %v %v", s, ok)
	}
	if _, ok := list.GetStateByID(3); ok {
		t.Error("expected state 3 to be absent")
	}
	if list.Len() != 2 {
		t.Errorf("expected 2 states, got %d", list.Len())
	}

	states := list.States()
	if len(states) != 2 || states[0].ID() != 1 || states[1].ID() != 2 {
		t.Errorf("expected states ordered by id, got %v", states)
	}
}

func TestStatesList_RejectsDuplicateID(t *testing.T) {
	list := NewStatesList().WithState(New(1, nil))

	err := list.AddState(New(1, nil))
	if !errors.Is(err, ErrDuplicateState) {
		t.Errorf("expected ErrDuplicateState, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected WithState to panic on duplicate id")
		}
	}()
	list.WithState(New(1, nil))
}

func TestStatesList_TokensMerge(t *testing.T) {
	one, two := New(1, nil), New(2, nil)
	list := NewStatesList().WithState(one).WithState(two)

	list.AddTokens(TokenStates("t", 1))
	list.AddTokens(TokenStates("t", 2))

	if !one.HasToken("t") || !two.HasToken("t") {
		t.Error("expected merged grants to cover both states")
	}
	if list.TokenCount() != 1 {
		t.Errorf("expected 1 token, got %d", list.TokenCount())
	}
}

func TestStatesList_NotifyExtensions(t *testing.T) {
	a := &countingExtension{id: "a"}
	b := &countingExtension{id: "b"}
	list := NewStatesList().
		WithState(New(1, nil).WithExtension(a, extensions.ManifestInfo{})).
		WithState(New(2, nil).WithExtension(b, extensions.ManifestInfo{}))

	msg := messaging.CoreMessage{Message: messaging.StateUpdated{StateData: StateData{ID: 1}}}
	if err := list.NotifyExtensions(context.Background(), msg); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(a.received) != 1 || len(b.received) != 1 {
		t.Errorf("expected every state's extensions to be notified: a=%d b=%d", len(a.received), len(b.received))
	}
}

func TestStatesList_NotifyExtensionsGivesUpOnLockedState(t *testing.T) {
	s := New(1, nil)
	list := NewStatesList().WithState(s)

	if err := s.Lock(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := list.NotifyExtensions(ctx, messaging.CoreMessage{}); err == nil {
		t.Error("expected an error while the state is locked")
	}
}

func TestStatesList_UnloadExtensions(t *testing.T) {
	ext := &countingExtension{id: "a"}
	s := New(1, nil).WithExtension(ext, extensions.ManifestInfo{})
	list := NewStatesList().WithState(s)

	s.RunExtensions()
	if err := list.UnloadExtensions(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ext.unloads != 1 {
		t.Errorf("expected 1 unload, got %d", ext.unloads)
	}
}

func TestStatesList_ConcurrentAccess(t *testing.T) {
	list := NewStatesList().WithTokens(TokenAll("t"))
	for i := uint8(0); i < 10; i++ {
		list.WithState(New(i, nil))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id uint8) {
			defer wg.Done()
			s, ok := list.GetStateByID(id)
			if !ok {
				t.Errorf("state %d missing", id)
				return
			}
			_ = s.WithLock(context.Background(), func(s *State) error {
				s.Update(StateData{})
				return nil
			})
			_ = list.States()
		}(uint8(i))
	}
	wg.Wait()
}

func TestStatesList_ConcurrentTokenChecks(t *testing.T) {
	s := New(1, nil)
	list := NewStatesList().WithState(s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			list.AddTokens(TokenStates("t", uint8(n%3)+1))
		}(i)
		go func() {
			defer wg.Done()
			_ = s.HasToken("t")
			_ = list.TokenCount()
		}()
	}
	wg.Wait()

	if !s.HasToken("t") {
		t.Error("token should grant state 1 once every grant is merged")
	}
	if list.TokenCount() != 1 {
		t.Errorf("expected 1 token, got %d", list.TokenCount())
	}
}
