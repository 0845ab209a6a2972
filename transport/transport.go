// Package transport defines the contract between the core and the channel
// clients connect through.
package transport

import (
	"context"

	"github.com/zhubert/plural-editor/messaging"
	"github.com/zhubert/plural-editor/state"
)

// Handler connects clients to the core.
//
// Run serves clients until ctx is cancelled, pushing every inbound message
// into sender. It returns nil on cancellation and an error only when the
// transport can no longer serve, which ends the core.
//
// Send delivers an outbound message to the clients concerned. It must be safe
// to call concurrently with Run.
type Handler interface {
	Run(ctx context.Context, states *state.StatesList, sender chan<- messaging.Message) error
	Send(ctx context.Context, msg messaging.Message) error
}
