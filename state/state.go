// Package state holds the authoritative in-memory editor states.
//
// # Locking
//
// Locks are always taken in the order StatesList, State, Filesystem. The
// StatesList lock only guards its map and is never held while a State lock is
// awaited; callers look a state up, release the list, then lock the state.
// State locks are context-aware so a caller can abandon the wait on timeout.
// The token table has its own leaf lock and may be consulted under any of them.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"github.com/zhubert/plural-editor/extensions"
	"github.com/zhubert/plural-editor/filesystem"
	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/messaging"
)

// StateData is the client-visible data of a state.
type StateData = messaging.StateData

// State is one editor session: its data, its filesystems and its extensions.
//
// Thread Safety:
// Every method except ID, Lock, Unlock, WithLock and HasToken requires the
// caller to hold the state lock. Filesystems carry their own lock, taken after
// this one.
type State struct {
	id  uint8
	sem *semaphore.Weighted

	data        StateData
	tokens      *tokenTable
	filesystems map[string]*filesystem.Locked
	extensions  *extensions.Manager

	log *slog.Logger
}

// New creates a state with the given id. A nil manager is replaced by an empty
// one whose extensions cannot reach the core.
func New(id uint8, mgr *extensions.Manager) *State {
	if mgr == nil {
		mgr = extensions.NewManager(nil)
	}
	return &State{
		id:          id,
		sem:         semaphore.NewWeighted(1),
		data:        StateData{ID: id},
		filesystems: make(map[string]*filesystem.Locked),
		extensions:  mgr,
		log:         logger.WithState(id),
	}
}

// WithFilesystem registers fs under name, replacing any filesystem of that name.
func (s *State) WithFilesystem(name string, fs filesystem.Filesystem) *State {
	s.filesystems[name] = filesystem.NewLocked(name, fs)
	return s
}

// WithData sets the initial data. The id is forced to the state's id.
func (s *State) WithData(data StateData) *State {
	s.Update(data)
	return s
}

// WithExtension loads ext into the state's extension set. It panics on a
// load error and is meant for static setup.
func (s *State) WithExtension(ext extensions.Extension, manifest extensions.ManifestInfo) *State {
	if err := s.LoadExtension(ext, manifest); err != nil {
		panic(err)
	}
	return s
}

// ID returns the state's id.
func (s *State) ID() uint8 {
	return s.id
}

// Lock acquires the state lock, giving up when ctx is done.
func (s *State) Lock(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("lock state %d: %w", s.id, err)
	}
	return nil
}

// Unlock releases the state lock.
func (s *State) Unlock() {
	s.sem.Release(1)
}

// WithLock runs fn with the state lock held.
func (s *State) WithLock(ctx context.Context, fn func(*State) error) error {
	if err := s.Lock(ctx); err != nil {
		return err
	}
	defer s.Unlock()
	return fn(s)
}

// Data returns a deep copy of the state's data.
func (s *State) Data() StateData {
	return s.data.Clone()
}

// Update replaces the state's data wholesale. The stored id is always the
// state's own. Update does not notify extensions; callers do.
func (s *State) Update(data StateData) {
	data = data.Clone()
	data.ID = s.id
	s.data = data
}

// HasToken reports whether token grants access to this state. A state that
// was never added to a StatesList accepts no token.
func (s *State) HasToken(token string) bool {
	if s.tokens == nil {
		return false
	}
	return s.tokens.allows(token, s.id)
}

// LoadExtension adds ext to the state's extension set.
func (s *State) LoadExtension(ext extensions.Extension, manifest extensions.ManifestInfo) error {
	if err := s.extensions.Load(ext, manifest); err != nil {
		return fmt.Errorf("state %d: %w", s.id, err)
	}
	return nil
}

// Extensions returns the state's extension manager.
func (s *State) Extensions() *extensions.Manager {
	return s.extensions
}

// RunExtensions initializes every loaded extension that is not running yet.
func (s *State) RunExtensions() {
	s.extensions.Init()
}

// UnloadExtensions unloads every running extension.
func (s *State) UnloadExtensions() {
	s.extensions.Unload()
}

// NotifyExtensions delivers msg to every extension of the state.
func (s *State) NotifyExtensions(msg messaging.ExtensionMessage) {
	s.log.Debug("notifying extensions", "kind", msg.Kind(), "count", s.extensions.Len())
	s.extensions.Notify(msg)
}

// GetFSByName returns the filesystem registered under name.
func (s *State) GetFSByName(name string) (*filesystem.Locked, bool) {
	fs, ok := s.filesystems[name]
	return fs, ok
}

// FilesystemNames returns the registered filesystem names, sorted.
func (s *State) FilesystemNames() []string {
	names := lo.Keys(s.filesystems)
	slices.Sort(names)
	return names
}

// GetExtInfoByID returns the manifest of a loaded extension.
func (s *State) GetExtInfoByID(id string) (extensions.ManifestInfo, bool) {
	return s.extensions.Info(id)
}

// GetExtList returns the ids of the loaded extensions in load order.
func (s *State) GetExtList() []string {
	return s.extensions.IDs()
}
