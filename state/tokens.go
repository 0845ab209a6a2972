package state

import (
	"slices"
	"sync"
)

// TokenFlags grants a token access to states.
type TokenFlags struct {
	Token string
	// All grants access to every state; States is ignored when set.
	All    bool
	States []uint8
}

// TokenAll grants token access to every state.
func TokenAll(token string) TokenFlags {
	return TokenFlags{Token: token, All: true}
}

// TokenStates grants token access to the listed states only.
func TokenStates(token string, ids ...uint8) TokenFlags {
	return TokenFlags{Token: token, States: slices.Clone(ids)}
}

// Allows reports whether the flags grant access to state id.
func (f TokenFlags) Allows(id uint8) bool {
	return f.All || slices.Contains(f.States, id)
}

// tokenTable is shared by a StatesList and every state added to it, so tokens
// added later are visible to existing states. Its lock is a leaf lock.
type tokenTable struct {
	mu     sync.Mutex
	tokens map[string]TokenFlags
}

func newTokenTable() *tokenTable {
	return &tokenTable{tokens: make(map[string]TokenFlags)}
}

// add registers flags, merging state grants for a token that already exists.
func (t *tokenTable) add(flags ...TokenFlags) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range flags {
		existing, ok := t.tokens[f.Token]
		if !ok {
			t.tokens[f.Token] = TokenFlags{Token: f.Token, All: f.All, States: slices.Clone(f.States)}
			continue
		}
		existing.All = existing.All || f.All
		for _, id := range f.States {
			if !slices.Contains(existing.States, id) {
				existing.States = append(existing.States, id)
			}
		}
		t.tokens[f.Token] = existing
	}
}

func (t *tokenTable) allows(token string, id uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.tokens[token]
	return ok && f.Allows(id)
}

func (t *tokenTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tokens)
}
