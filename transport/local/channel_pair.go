package local

import "context"

// ChannelPair groups the inbound and outbound channels of one in-process client.
type ChannelPair[In, Out any] struct {
	In  chan In
	Out chan Out
}

// NewChannelPair creates a new ChannelPair with the given buffer size.
func NewChannelPair[In, Out any](bufferSize int) *ChannelPair[In, Out] {
	return &ChannelPair[In, Out]{
		In:  make(chan In, bufferSize),
		Out: make(chan Out, bufferSize),
	}
}

// Close closes both channels. Safe to call on nil ChannelPair.
func (cp *ChannelPair[In, Out]) Close() {
	if cp == nil {
		return
	}
	if cp.In != nil {
		close(cp.In)
		cp.In = nil
	}
	if cp.Out != nil {
		close(cp.Out)
		cp.Out = nil
	}
}

// IsInitialized returns true if both channels are non-nil.
func (cp *ChannelPair[In, Out]) IsInitialized() bool {
	return cp != nil && cp.In != nil && cp.Out != nil
}

// Forward copies values from src to dst until ctx is done or src is closed.
// It returns ctx.Err() on cancellation and nil when src is closed.
func Forward[T any](ctx context.Context, src <-chan T, dst chan<- T) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-src:
			if !ok {
				return nil
			}
			select {
			case dst <- v:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
