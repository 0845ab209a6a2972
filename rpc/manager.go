// Package rpc is the external call surface of the core.
//
// Every operation is addressed by a state id and carries a caller token. The
// guard sequence is the same for all of them: look the state up, lock it,
// check the token, operate, notify the state's extensions, return. A guard
// failure has no side effect: no filesystem is touched and no extension is
// notified.
//
// Manager exposes the operations as Go calls; Dispatcher serves them as
// JSON-RPC 2.0.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zhubert/plural-editor/extensions"
	"github.com/zhubert/plural-editor/filesystem"
	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/messaging"
	"github.com/zhubert/plural-editor/state"
)

// DefaultCallTimeout bounds a single operation, lock waits included.
const DefaultCallTimeout = 30 * time.Second

// Manager implements the RPC operations over a StatesList.
type Manager struct {
	states      *state.StatesList
	callTimeout time.Duration
	log         *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCallTimeout sets the per-call timeout. Zero disables it.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.callTimeout = d
	}
}

// NewManager creates a Manager serving states.
func NewManager(states *state.StatesList, opts ...Option) *Manager {
	m := &Manager{
		states:      states,
		callTimeout: DefaultCallTimeout,
		log:         logger.WithComponent("rpc"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// withState runs fn with the state locked and the token checked.
func (m *Manager) withState(ctx context.Context, stateID uint8, token string, fn func(context.Context, *state.State) error) error {
	if m.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.callTimeout)
		defer cancel()
	}

	s, ok := m.states.GetStateByID(stateID)
	if !ok {
		return ErrStateNotFound
	}
	if err := s.Lock(ctx); err != nil {
		m.log.Warn("state lock not acquired", "stateID", stateID, "error", err)
		return toError(err)
	}
	defer s.Unlock()

	if !s.HasToken(token) {
		return ErrBadToken
	}
	return fn(ctx, s)
}

// withFS runs op on the named filesystem of s, converting its error, then
// notifies the state's extensions through notify with the converted result.
func withFS[T any](ctx context.Context, s *state.State, fsName string, op func(context.Context, filesystem.Filesystem) (T, error), notify func(filesystem.Result[T]) messaging.ExtensionMessage) (T, error) {
	var zero T
	fs, ok := s.GetFSByName(fsName)
	if !ok {
		return zero, ErrFilesystemNotFound
	}

	value, err := filesystem.Do(ctx, fs, func(f filesystem.Filesystem) (T, error) {
		return op(ctx, f)
	})
	err = toError(err)
	s.NotifyExtensions(notify(filesystem.Result[T]{Value: value, Err: err}))
	return value, err
}

// GetStateDataByID returns a copy of the state's data. A token without access
// yields nil data and no error; an unknown state yields ErrStateNotFound.
func (m *Manager) GetStateDataByID(ctx context.Context, stateID uint8, token string) (*state.StateData, error) {
	var data *state.StateData
	err := m.withState(ctx, stateID, token, func(_ context.Context, s *state.State) error {
		d := s.Data()
		data = &d
		return nil
	})
	if errors.Is(err, ErrBadToken) {
		return nil, nil
	}
	return data, err
}

// SetStateDataByID replaces the state's data and notifies its extensions.
func (m *Manager) SetStateDataByID(ctx context.Context, stateID uint8, data state.StateData, token string) error {
	return m.withState(ctx, stateID, token, func(_ context.Context, s *state.State) error {
		s.Update(data)
		s.NotifyExtensions(messaging.CoreMessage{Message: messaging.StateUpdated{StateData: s.Data()}})
		return nil
	})
}

// ReadFileByPath reads a file from the named filesystem of the state.
func (m *Manager) ReadFileByPath(ctx context.Context, path, fsName string, stateID uint8, token string) (filesystem.FileInfo, error) {
	var info filesystem.FileInfo
	err := m.withState(ctx, stateID, token, func(ctx context.Context, s *state.State) error {
		var err error
		info, err = withFS(ctx, s, fsName,
			func(ctx context.Context, f filesystem.Filesystem) (filesystem.FileInfo, error) {
				return f.ReadFileByPath(ctx, path)
			},
			func(r filesystem.Result[filesystem.FileInfo]) messaging.ExtensionMessage {
				return messaging.ReadFile{StateID: stateID, Filesystem: fsName, Path: path, Result: r}
			})
		return err
	})
	return info, err
}

// WriteFileByPath writes content to a file of the named filesystem of the state.
func (m *Manager) WriteFileByPath(ctx context.Context, path, content, fsName string, stateID uint8, token string) error {
	return m.withState(ctx, stateID, token, func(ctx context.Context, s *state.State) error {
		_, err := withFS(ctx, s, fsName,
			func(ctx context.Context, f filesystem.Filesystem) (struct{}, error) {
				return struct{}{}, f.WriteFileByPath(ctx, path, content)
			},
			func(r filesystem.Result[struct{}]) messaging.ExtensionMessage {
				return messaging.WriteFile{StateID: stateID, Filesystem: fsName, Path: path, Content: content, Result: r}
			})
		return err
	})
}

// ListDirByPath lists a directory of the named filesystem of the state.
func (m *Manager) ListDirByPath(ctx context.Context, path, fsName string, stateID uint8, token string) ([]filesystem.DirItemInfo, error) {
	var items []filesystem.DirItemInfo
	err := m.withState(ctx, stateID, token, func(ctx context.Context, s *state.State) error {
		var err error
		items, err = withFS(ctx, s, fsName,
			func(ctx context.Context, f filesystem.Filesystem) ([]filesystem.DirItemInfo, error) {
				return f.ListDirByPath(ctx, path)
			},
			func(r filesystem.Result[[]filesystem.DirItemInfo]) messaging.ExtensionMessage {
				return messaging.ListDir{StateID: stateID, Filesystem: fsName, Path: path, Result: r}
			})
		return err
	})
	return items, err
}

// GetExtInfoByID returns the manifest of an extension loaded on the state.
func (m *Manager) GetExtInfoByID(ctx context.Context, extID string, stateID uint8, token string) (extensions.ManifestInfo, error) {
	var info extensions.ManifestInfo
	err := m.withState(ctx, stateID, token, func(_ context.Context, s *state.State) error {
		var ok bool
		info, ok = s.GetExtInfoByID(extID)
		if !ok {
			return ErrExtensionNotFound
		}
		return nil
	})
	return info, err
}

// GetExtListByID returns the ids of the extensions loaded on the state.
func (m *Manager) GetExtListByID(ctx context.Context, stateID uint8, token string) ([]string, error) {
	var ids []string
	err := m.withState(ctx, stateID, token, func(_ context.Context, s *state.State) error {
		ids = s.GetExtList()
		return nil
	})
	return ids, err
}
