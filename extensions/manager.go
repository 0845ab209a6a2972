package extensions

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/messaging"
)

// ErrDuplicateExtension is returned when loading an extension whose id is taken.
var ErrDuplicateExtension = errors.New("extension already loaded")

type entry struct {
	ext         Extension
	manifest    ManifestInfo
	initialized bool
}

// Manager is the ordered extension set of one state.
//
// Thread Safety:
// Manager has no lock of its own. It is owned by a state and must only be used
// while that state's lock is held.
type Manager struct {
	sender  *Sender
	entries []*entry
	log     *slog.Logger
}

// NewManager creates an empty manager whose extensions talk back through sender.
func NewManager(sender *Sender) *Manager {
	return &Manager{
		sender: sender,
		log:    logger.WithComponent("extensions"),
	}
}

// Sender returns the sender extensions use to reach the core.
func (m *Manager) Sender() *Sender {
	return m.sender
}

// Load appends ext. The manifest id, when empty, is taken from ext.Info().
func (m *Manager) Load(ext Extension, manifest ManifestInfo) error {
	info := ext.Info()
	if manifest.ID == "" {
		manifest.ID = info.ID
	}
	if manifest.Name == "" {
		manifest.Name = info.Name
	}
	if manifest.ID == "" {
		return errors.New("extension has no id")
	}
	if _, ok := m.find(manifest.ID); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateExtension, manifest.ID)
	}

	m.entries = append(m.entries, &entry{ext: ext, manifest: manifest})
	m.log.Info("extension loaded", "extension", manifest.ID)
	return nil
}

// Init initializes every extension that has not been initialized yet.
// Calling it again is a no-op for extensions that are already running.
func (m *Manager) Init() {
	for _, e := range m.entries {
		if e.initialized {
			continue
		}
		// Marked before the call so a panicking Init is not retried on every subscribe.
		e.initialized = true
		m.call(e, "init", e.ext.Init)
	}
}

// Unload unloads every initialized extension.
func (m *Manager) Unload() {
	for _, e := range m.entries {
		if !e.initialized {
			continue
		}
		e.initialized = false
		m.call(e, "unload", e.ext.Unload)
	}
}

// Notify delivers msg to every loaded extension in load order.
func (m *Manager) Notify(msg messaging.ExtensionMessage) {
	for _, e := range m.entries {
		m.call(e, "notify", func() { e.ext.Notify(msg) })
	}
}

// Info returns the manifest of the extension with the given id.
func (m *Manager) Info(id string) (ManifestInfo, bool) {
	e, ok := m.find(id)
	if !ok {
		return ManifestInfo{}, false
	}
	return e.manifest, true
}

// IDs returns the ids of all loaded extensions in load order.
func (m *Manager) IDs() []string {
	return lo.Map(m.entries, func(e *entry, _ int) string { return e.manifest.ID })
}

// Len returns the number of loaded extensions.
func (m *Manager) Len() int {
	return len(m.entries)
}

// IsInitialized reports whether the extension with the given id is running.
func (m *Manager) IsInitialized(id string) bool {
	e, ok := m.find(id)
	return ok && e.initialized
}

func (m *Manager) find(id string) (*entry, bool) {
	return lo.Find(m.entries, func(e *entry) bool { return e.manifest.ID == id })
}

// call runs fn, converting a panic into a logged error.
func (m *Manager) call(e *entry, op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("extension panicked", "extension", e.manifest.ID, "op", op, "panic", r)
		}
	}()
	fn()
}
