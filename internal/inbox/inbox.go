// Package inbox provides a bounded typed queue whose senders give up after
// a timeout instead of blocking forever.
package inbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Inbox is a buffered channel of T with send timeouts and usage stats
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger

	sent     atomic.Int64
	received atomic.Int64
	rejected atomic.Int64

	mu       sync.Mutex
	maxDepth int
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	RejectedCount int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates an inbox holding up to bufferSize messages
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Send queues msg, waiting at most the configured timeout for space.
// Returns false if the message was not queued.
func (ib *Inbox[T]) Send(msg T) bool {
	return ib.SendContext(context.Background(), msg)
}

// SendContext is Send that also gives up when ctx is done
func (ib *Inbox[T]) SendContext(ctx context.Context, msg T) bool {
	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case ib.ch <- msg:
		ib.sent.Add(1)
		ib.updateDepth()
		return true
	case <-timer.C:
		ib.rejected.Add(1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return false
	case <-ctx.Done():
		ib.rejected.Add(1)
		return false
	}
}

// C exposes the receive side for use in select statements. Callers that
// receive from it should call MarkReceived.
func (ib *Inbox[T]) C() <-chan T {
	return ib.ch
}

// MarkReceived counts a message taken directly from C
func (ib *Inbox[T]) MarkReceived() {
	ib.received.Add(1)
}

// TryReceive attempts to receive a message without blocking
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg := <-ib.ch:
		ib.received.Add(1)
		return msg, true
	default:
		var zero T
		return zero, false
	}
}

func (ib *Inbox[T]) updateDepth() {
	depth := len(ib.ch)
	ib.mu.Lock()
	if depth > ib.maxDepth {
		ib.maxDepth = depth
	}
	ib.mu.Unlock()
}

// GetStats returns a snapshot of the inbox statistics
func (ib *Inbox[T]) GetStats() Stats {
	ib.mu.Lock()
	maxDepth := ib.maxDepth
	ib.mu.Unlock()

	return Stats{
		TotalSent:     ib.sent.Load(),
		TotalReceived: ib.received.Load(),
		RejectedCount: ib.rejected.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  maxDepth,
	}
}
