// Package socket serves the JSON-RPC API on a Unix domain socket for local
// clients. Requests and responses are newline-delimited JSON: each line is a
// request or a batch, and each response is written back as one line.
// Notifications get no line back.
package socket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/rpc"
	"github.com/zhubert/plural-editor/state"
)

const (
	// WriteTimeout bounds writing one response to a client.
	WriteTimeout = 10 * time.Second

	maxLineBytes = 16 << 20
)

// Server serves rpc.Dispatcher on a Unix socket.
type Server struct {
	socketPath string
	rpcOpts    []rpc.Option

	mu       sync.Mutex // guards listener, conns and closed
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg      sync.WaitGroup // tracks connection handlers
	readyCh chan struct{}  // closed once the socket accepts connections
	log     *slog.Logger
}

// New creates a Server that will listen on socketPath.
func New(socketPath string, opts ...rpc.Option) *Server {
	return &Server{
		socketPath: socketPath,
		rpcOpts:    opts,
		conns:      make(map[net.Conn]struct{}),
		readyCh:    make(chan struct{}),
		log:        logger.WithComponent("rpc-socket").With("socketPath", socketPath),
	}
}

// SocketPath returns the path to the socket
func (s *Server) SocketPath() string {
	return s.socketPath
}

// WaitReady blocks until the server accepts connections or ctx is done.
func (s *Server) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run listens on the socket and serves states until ctx is cancelled. The
// socket file is removed on return.
func (s *Server) Run(ctx context.Context, states *state.StatesList) error {
	// Remove a stale socket left by a previous run
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	dispatcher := rpc.NewDispatcher(rpc.NewManager(states, s.rpcOpts...))
	s.log.Info("listening")
	close(s.readyCh)

	stop := context.AfterFunc(ctx, s.shutdown)
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				s.log.Info("listener closed, stopping")
				break
			}
			// Log error but continue accepting connections
			s.log.Warn("accept error (continuing)", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			break
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(ctx, dispatcher, conn)
		}()
	}

	s.shutdown()
	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove socket file", "error", err)
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, dispatcher *rpc.Dispatcher, conn net.Conn) {
	defer conn.Close()
	s.log.Debug("connection accepted")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := dispatcher.Handle(ctx, line)
		if resp == nil {
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := conn.Write(append(resp, '\n')); err != nil {
			s.log.Warn("write error", "error", err)
			return
		}
	}

	if err := scanner.Err(); err != nil && !s.isClosed() && !errors.Is(err, net.ErrClosed) {
		s.log.Warn("read error", "error", err)
	}
	s.log.Debug("connection closed")
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// shutdown closes the listener and every open connection, unblocking Accept
// and the connection readers.
func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
}
