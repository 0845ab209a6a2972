// Package server runs the core: the message router and the active transport.
//
// # Message routing
//
// A single goroutine owns the receive end of the core channel and handles
// messages strictly in arrival order:
//
//   - ListenToState: the state's current data is sent to the transport as
//     StateUpdated, then the state's extensions are started. Unknown states
//     are ignored.
//   - StateUpdated: wrapped in a CoreMessage and delivered to the extensions
//     of every state, or only the matching state with WithScopedStateUpdates.
//   - anything else is forwarded to the transport unchanged.
//
// The router never holds the StatesList lock while waiting on a state, and
// never holds a state lock while sending to the transport.
package server

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/messaging"
	"github.com/zhubert/plural-editor/state"
	"github.com/zhubert/plural-editor/transport"
)

// DefaultBuffer is the core channel buffer used by NewConfiguration when none is given.
const DefaultBuffer = 64

// UnloadTimeout bounds the extension unload pass at shutdown.
const UnloadTimeout = 5 * time.Second

// Configuration wires a transport to the core channel.
type Configuration struct {
	Handler  transport.Handler
	Sender   chan<- messaging.Message
	Receiver <-chan messaging.Message
}

// NewConfiguration creates the core channel and pairs it with handler. A
// non-positive buffer uses DefaultBuffer.
func NewConfiguration(handler transport.Handler, buffer int) Configuration {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan messaging.Message, buffer)
	return Configuration{
		Handler:  handler,
		Sender:   ch,
		Receiver: ch,
	}
}

// Core routes messages between the transport, the states and their extensions.
type Core struct {
	cfg    Configuration
	states *state.StatesList
	scoped bool
	log    *slog.Logger
}

// Option configures a Core.
type Option func(*Core)

// WithScopedStateUpdates delivers StateUpdated only to the extensions of the
// state it carries instead of every state.
func WithScopedStateUpdates() Option {
	return func(c *Core) {
		c.scoped = true
	}
}

// New creates a Core.
func New(cfg Configuration, states *state.StatesList, opts ...Option) *Core {
	c := &Core{
		cfg:    cfg,
		states: states,
		log:    logger.WithComponent("router"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// States returns the states the core serves.
func (c *Core) States() *state.StatesList {
	return c.states
}

// Sender returns the send end of the core channel. Extensions use it through
// an extensions.Sender.
func (c *Core) Sender() chan<- messaging.Message {
	return c.cfg.Sender
}

// Run runs the router and the transport until ctx is cancelled or the
// transport fails, then unloads every running extension.
func (c *Core) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.RunRouter(gctx)
	})
	g.Go(func() error {
		// A transport that stops serving stops the core.
		defer cancel()
		return c.cfg.Handler.Run(gctx, c.states, c.cfg.Sender)
	})

	err := g.Wait()
	if err != nil {
		c.log.Error("core stopped", "error", err)
	} else {
		c.log.Info("core stopped")
	}

	unloadCtx, cancelUnload := context.WithTimeout(context.WithoutCancel(ctx), UnloadTimeout)
	defer cancelUnload()
	if uerr := c.states.UnloadExtensions(unloadCtx); uerr != nil {
		c.log.Warn("failed to unload extensions", "error", uerr)
	}
	return err
}

// RunRouter consumes the core channel until ctx is cancelled or the channel
// is closed.
func (c *Core) RunRouter(ctx context.Context) error {
	c.log.Info("router started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.cfg.Receiver:
			if !ok {
				c.log.Info("core channel closed")
				return nil
			}
			c.ProcessMessage(ctx, msg)
		}
	}
}

// ProcessMessage handles one message.
func (c *Core) ProcessMessage(ctx context.Context, msg messaging.Message) {
	c.log.Debug("routing message", "type", msg.MessageType())

	switch m := msg.(type) {
	case messaging.ListenToState:
		c.listenToState(ctx, m)
	case messaging.StateUpdated:
		c.stateUpdated(ctx, m)
	default:
		c.forward(ctx, msg)
	}
}

func (c *Core) listenToState(ctx context.Context, m messaging.ListenToState) {
	s, ok := c.states.GetStateByID(m.StateID)
	if !ok {
		c.log.Debug("listen to unknown state ignored", "stateID", m.StateID)
		return
	}

	var data state.StateData
	err := s.WithLock(ctx, func(s *state.State) error {
		data = s.Data()
		return nil
	})
	if err != nil {
		c.log.Warn("failed to read state", "stateID", m.StateID, "error", err)
		return
	}

	c.forward(ctx, messaging.StateUpdated{StateData: data})

	err = s.WithLock(ctx, func(s *state.State) error {
		s.RunExtensions()
		return nil
	})
	if err != nil {
		c.log.Warn("failed to start extensions", "stateID", m.StateID, "error", err)
	}
}

func (c *Core) stateUpdated(ctx context.Context, m messaging.StateUpdated) {
	notification := messaging.CoreMessage{Message: m}

	if !c.scoped {
		if err := c.states.NotifyExtensions(ctx, notification); err != nil {
			c.log.Warn("failed to notify extensions", "error", err)
		}
		return
	}

	s, ok := c.states.GetStateByID(m.StateData.ID)
	if !ok {
		c.log.Debug("update for unknown state ignored", "stateID", m.StateData.ID)
		return
	}
	err := s.WithLock(ctx, func(s *state.State) error {
		s.NotifyExtensions(notification)
		return nil
	})
	if err != nil {
		c.log.Warn("failed to notify extensions", "stateID", m.StateData.ID, "error", err)
	}
}

func (c *Core) forward(ctx context.Context, msg messaging.Message) {
	if err := c.cfg.Handler.Send(ctx, msg); err != nil {
		c.log.Warn("failed to send message to transport", "type", msg.MessageType(), "error", err)
	}
}
