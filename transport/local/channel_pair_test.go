package local

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewChannelPair(t *testing.T) {
	cp := NewChannelPair[int, string](1)
	if cp == nil {
		t.Fatal("NewChannelPair returned nil")
	}
	if cp.In == nil {
		t.Error("In channel is nil")
	}
	if cp.Out == nil {
		t.Error("Out channel is nil")
	}

	// Verify buffer size by sending without blocking
	cp.In <- 42
	cp.Out <- "hello"

	if got := <-cp.In; got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if got := <-cp.Out; got != "hello" {
		t.Errorf("expected hello, got %s", got)
	}
}

func TestChannelPairClose(t *testing.T) {
	cp := NewChannelPair[int, string](1)

	cp.Close()
	if cp.In != nil || cp.Out != nil {
		t.Error("channels should be nil after Close")
	}

	// Double close and nil close should not panic
	cp.Close()
	var nilPair *ChannelPair[int, string]
	nilPair.Close()
}

func TestChannelPairIsInitialized(t *testing.T) {
	tests := []struct {
		name     string
		cp       *ChannelPair[int, string]
		expected bool
	}{
		{
			name:     "nil pair",
			cp:       nil,
			expected: false,
		},
		{
			name:     "initialized pair",
			cp:       NewChannelPair[int, string](1),
			expected: true,
		},
		{
			name: "nil In channel",
			cp: &ChannelPair[int, string]{
				In:  nil,
				Out: make(chan string, 1),
			},
			expected: false,
		},
		{
			name: "nil Out channel",
			cp: &ChannelPair[int, string]{
				In:  make(chan int, 1),
				Out: nil,
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cp.IsInitialized(); got != tt.expected {
				t.Errorf("IsInitialized() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestForward(t *testing.T) {
	src := make(chan int, 3)
	dst := make(chan int, 3)

	src <- 1
	src <- 2
	src <- 3
	close(src)

	if err := Forward(context.Background(), src, dst); err != nil {
		t.Fatalf("expected nil when src closes, got %v", err)
	}

	for want := 1; want <= 3; want++ {
		if got := <-dst; got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
}

func TestForwardStopsOnCancel(t *testing.T) {
	src := make(chan int)
	dst := make(chan int)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := Forward(ctx, src, dst); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestForwardStopsWhenDestinationBlocks(t *testing.T) {
	src := make(chan int, 1)
	dst := make(chan int)
	src <- 1

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := Forward(ctx, src, dst); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
