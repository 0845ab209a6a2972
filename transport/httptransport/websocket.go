package httptransport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/zhubert/plural-editor/messaging"
	"github.com/zhubert/plural-editor/rpc"
)

// conn is one websocket client.
type conn struct {
	id string
	ws *websocket.Conn

	mu     sync.Mutex // guards states and serializes writes
	states map[uint8]struct{}
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		id:     newConnID(),
		ws:     ws,
		states: make(map[uint8]struct{}),
	}
}

func (c *conn) subscribe(id uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[id] = struct{}{}
}

func (c *conn) isSubscribed(id uint8) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.states[id]
	return ok
}

func (c *conn) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *conn) close(code websocket.StatusCode, reason string) {
	_ = c.ws.Close(code, reason)
}

func (h *Handler) handleRPC(dispatcher *rpc.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRPCBodyBytes))
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}

		resp := dispatcher.Handle(c.Request.Context(), body)
		if resp == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.Data(http.StatusOK, "application/json", resp)
	}
}

func (h *Handler) handleWebsocket(sender chan<- messaging.Message) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns:     h.originPatterns,
			InsecureSkipVerify: len(h.originPatterns) == 0,
		})
		if err != nil {
			h.log.Warn("websocket upgrade failed", "error", err)
			return
		}

		cn := newConn(ws)
		h.register(cn)
		log := h.log.With("conn", cn.id)
		log.Info("websocket connected", "remote", c.Request.RemoteAddr)

		defer func() {
			h.unregister(cn)
			cn.close(websocket.StatusNormalClosure, "")
			log.Info("websocket disconnected")
		}()

		ctx := c.Request.Context()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
					log.Debug("websocket closed", "status", status)
				} else {
					log.Warn("websocket read failed", "error", err)
				}
				return
			}

			msg, err := messaging.Decode(data)
			if err != nil {
				log.Warn("invalid message ignored", "error", err)
				continue
			}
			if listen, ok := msg.(messaging.ListenToState); ok {
				cn.subscribe(listen.StateID)
			}

			select {
			case sender <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}
