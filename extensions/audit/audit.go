// Package audit provides a built-in extension that records filesystem
// operations performed on a state.
package audit

import (
	"sync"
	"time"

	"github.com/zhubert/plural-editor/extensions"
	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/messaging"
)

// ID is the extension id of the audit extension.
const ID = "audit"

// DefaultMaxEvents caps the number of events kept in memory.
const DefaultMaxEvents = 1000

// Event is one recorded filesystem operation.
type Event struct {
	Time       time.Time `json:"time"`
	StateID    uint8     `json:"state_id"`
	Op         string    `json:"op"`
	Filesystem string    `json:"filesystem"`
	Path       string    `json:"path"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

// Extension keeps the most recent filesystem events in a bounded log.
type Extension struct {
	mu     sync.Mutex
	events []Event
	max    int
	now    func() time.Time
}

// New creates an audit extension keeping at most max events. A non-positive
// max uses DefaultMaxEvents.
func New(max int) *Extension {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	return &Extension{max: max, now: time.Now}
}

// Init implements extensions.Extension.
func (e *Extension) Init() {}

// Unload implements extensions.Extension.
func (e *Extension) Unload() {}

// Info implements extensions.Extension.
func (e *Extension) Info() extensions.ExtensionInfo {
	return extensions.ExtensionInfo{ID: ID, Name: "Audit log"}
}

// Notify records filesystem messages and ignores everything else.
func (e *Extension) Notify(msg messaging.ExtensionMessage) {
	var ev Event
	var err error
	switch m := msg.(type) {
	case messaging.ReadFile:
		ev = Event{StateID: m.StateID, Op: m.Kind(), Filesystem: m.Filesystem, Path: m.Path}
		err = m.Result.Err
	case messaging.WriteFile:
		ev = Event{StateID: m.StateID, Op: m.Kind(), Filesystem: m.Filesystem, Path: m.Path}
		err = m.Result.Err
	case messaging.ListDir:
		ev = Event{StateID: m.StateID, Op: m.Kind(), Filesystem: m.Filesystem, Path: m.Path}
		err = m.Result.Err
	default:
		return
	}
	ev.OK = err == nil
	if err != nil {
		ev.Error = err.Error()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ev.Time = e.now()
	e.events = append(e.events, ev)
	if len(e.events) > e.max {
		e.events = e.events[len(e.events)-e.max:]
	}

	logger.WithState(ev.StateID).Debug("audit", "op", ev.Op, "filesystem", ev.Filesystem, "path", ev.Path, "ok", ev.OK)
}

// Events returns a copy of the recorded events, oldest first.
func (e *Extension) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}
