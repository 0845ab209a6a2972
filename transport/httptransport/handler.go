// Package httptransport serves the core over HTTP.
//
// Routes:
//
//	GET  /health  liveness and a few counters
//	POST /rpc     JSON-RPC 2.0, see rpc.Dispatcher
//	GET  /ws      websocket carrying JSON messages in both directions
//
// A websocket client subscribes to a state by sending ListenToState. Outbound
// messages are delivered to the connections subscribed to the message's state,
// or to every connection when the message names no state.
//
// ListenToState carries no token, so websocket subscriptions are not token
// gated: any client that can reach /ws receives the data of the states it
// listens to. Restrict who can reach the listener, or use /rpc, whose calls
// check tokens.
package httptransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	sloggin "github.com/samber/slog-gin"

	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/messaging"
	"github.com/zhubert/plural-editor/rpc"
	"github.com/zhubert/plural-editor/state"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = "127.0.0.1:7700"

	defaultShutdownTimeout = 5 * time.Second
	writeTimeout           = 5 * time.Second
	readHeaderTimeout      = 10 * time.Second
	maxRPCBodyBytes        = 16 << 20
)

// Handler is a transport.Handler serving HTTP and websocket clients.
type Handler struct {
	addr            string
	shutdownTimeout time.Duration
	originPatterns  []string
	rpcOpts         []rpc.Option

	mu       sync.RWMutex
	conns    map[string]*conn
	listener net.Addr

	log *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithShutdownTimeout bounds graceful shutdown of the HTTP server.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.shutdownTimeout = d
		}
	}
}

// WithOriginPatterns restricts websocket origins. With no patterns every
// origin is accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) {
		h.originPatterns = patterns
	}
}

// WithRPCOptions configures the rpc.Manager behind POST /rpc.
func WithRPCOptions(opts ...rpc.Option) Option {
	return func(h *Handler) {
		h.rpcOpts = append(h.rpcOpts, opts...)
	}
}

// New creates a Handler listening on addr. An empty addr uses DefaultAddr.
func New(addr string, opts ...Option) *Handler {
	if addr == "" {
		addr = DefaultAddr
	}
	h := &Handler{
		addr:            addr,
		shutdownTimeout: defaultShutdownTimeout,
		conns:           make(map[string]*conn),
		log:             logger.WithComponent("transport.http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the gin engine serving states. Inbound websocket messages are
// pushed into sender.
func (h *Handler) Router(states *state.StatesList, sender chan<- messaging.Message) *gin.Engine {
	dispatcher := rpc.NewDispatcher(rpc.NewManager(states, h.rpcOpts...))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sloggin.New(logger.WithComponent("http")))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"states":      states.Len(),
			"connections": h.ConnCount(),
		})
	})
	r.POST("/rpc", h.handleRPC(dispatcher))
	r.GET("/ws", h.handleWebsocket(sender))

	return r
}

// Run listens on the configured address and serves until ctx is cancelled.
func (h *Handler) Run(ctx context.Context, states *state.StatesList, sender chan<- messaging.Message) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.listener = ln.Addr()
	h.mu.Unlock()

	srv := &http.Server{
		Handler:           h.Router(states, sender),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		h.log.Info("HTTP transport listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		h.closeAll(websocket.StatusInternalError, "server error")
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP transport failed: %w", err)
	case <-ctx.Done():
	}

	h.log.Info("HTTP transport shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not closed by Shutdown.
	h.closeAll(websocket.StatusGoingAway, "server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		h.log.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}

// Addr returns the address the handler listens on once Run has started, or
// nil before that.
func (h *Handler) Addr() net.Addr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listener
}

// Send delivers msg to the subscribed websocket connections. Failing
// connections are logged and dropped; Send only fails when msg cannot be
// encoded.
func (h *Handler) Send(ctx context.Context, msg messaging.Message) error {
	data, err := messaging.Encode(msg)
	if err != nil {
		return err
	}

	target, hasTarget := messaging.TargetState(msg)
	h.mu.RLock()
	recipients := lo.Filter(lo.Values(h.conns), func(c *conn, _ int) bool {
		return !hasTarget || c.isSubscribed(target)
	})
	h.mu.RUnlock()

	for _, c := range recipients {
		if err := c.write(ctx, data); err != nil {
			h.log.Warn("websocket write failed", "conn", c.id, "error", err)
			h.unregister(c)
			c.close(websocket.StatusInternalError, "write failed")
		}
	}
	return nil
}

// ConnCount returns the number of open websocket connections.
func (h *Handler) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Handler) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Handler) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
}

func (h *Handler) closeAll(code websocket.StatusCode, reason string) {
	h.mu.Lock()
	conns := lo.Values(h.conns)
	h.conns = make(map[string]*conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.close(code, reason)
	}
}

// newConnID returns a fresh connection id.
func newConnID() string {
	return uuid.NewString()
}
