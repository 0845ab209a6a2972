// Package local provides an in-process transport for embedding the core in
// another Go program, and for tests.
package local

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/messaging"
	"github.com/zhubert/plural-editor/rpc"
	"github.com/zhubert/plural-editor/state"
)

// DefaultBuffer is the channel buffer used by New when none is given.
const DefaultBuffer = 16

// ErrClosed is returned after Close.
var ErrClosed = errors.New("local transport closed")

// Handler is a transport.Handler backed by a ChannelPair. Clients push
// messages with Dispatch and read what the core sends from Outbound.
type Handler struct {
	pair *ChannelPair[messaging.Message, messaging.Message]
	out  <-chan messaging.Message

	mu     sync.RWMutex
	closed bool
	states *state.StatesList
	ready  chan struct{}

	log *slog.Logger
}

// New creates a Handler. A non-positive buffer uses DefaultBuffer.
func New(buffer int) *Handler {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	pair := NewChannelPair[messaging.Message, messaging.Message](buffer)
	return &Handler{
		pair:  pair,
		out:   pair.Out,
		ready: make(chan struct{}),
		log:   logger.WithComponent("transport.local"),
	}
}

// Dispatch pushes msg to the core as if a client had sent it.
func (h *Handler) Dispatch(ctx context.Context, msg messaging.Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	select {
	case h.pair.In <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbound returns the channel carrying messages sent by the core. It is
// closed by Close.
func (h *Handler) Outbound() <-chan messaging.Message {
	return h.out
}

// Run forwards dispatched messages to the core until ctx is cancelled.
func (h *Handler) Run(ctx context.Context, states *state.StatesList, sender chan<- messaging.Message) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.states == nil {
		h.states = states
		close(h.ready)
	}
	in := h.pair.In
	h.mu.Unlock()

	h.log.Info("local transport running")
	err := Forward(ctx, in, sender)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Send delivers msg to Outbound, waiting for buffer space until ctx is done.
func (h *Handler) Send(ctx context.Context, msg messaging.Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	select {
	case h.pair.Out <- msg:
		return nil
	case <-ctx.Done():
		h.log.Warn("outbound message dropped", "type", msg.MessageType(), "error", ctx.Err())
		return ctx.Err()
	}
}

// RPC returns an RPC manager over the states the handler serves. It blocks
// until Run has been called or ctx is done.
func (h *Handler) RPC(ctx context.Context, opts ...rpc.Option) (*rpc.Manager, error) {
	select {
	case <-h.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return rpc.NewManager(h.states, opts...), nil
}

// Close closes both channels. Dispatch and Send fail with ErrClosed afterwards.
// It waits for Dispatch and Send calls in flight.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.pair.Close()
}
