package extensions

import (
	"log/slog"
	"time"

	"github.com/zhubert/plural-editor/logger"
	"github.com/zhubert/plural-editor/messaging"
)

// SendTimeout bounds how long an extension may block handing a message to the core.
const SendTimeout = 2 * time.Second

// Sender forwards extension messages to the core's inbound channel.
type Sender struct {
	ch      chan<- messaging.Message
	timeout time.Duration
	log     *slog.Logger
}

// NewSender creates a Sender writing to ch.
func NewSender(ch chan<- messaging.Message) *Sender {
	return &Sender{
		ch:      ch,
		timeout: SendTimeout,
		log:     logger.WithComponent("extensions"),
	}
}

// Send hands msg to the core. It returns false when the sender is nil or the
// core did not accept the message within the send timeout.
func (s *Sender) Send(msg messaging.Message) bool {
	if s == nil || s.ch == nil {
		return false
	}

	select {
	case s.ch <- msg:
		return true
	case <-time.After(s.timeout):
		s.log.Warn("timeout sending message to core", "type", msg.MessageType())
		return false
	}
}
