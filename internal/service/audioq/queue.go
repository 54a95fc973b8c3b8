// Package audioq provides the bounded frame queue between the audio-ingest
// callback and the recognition stream producer loop.
package audioq

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Errors returned by Dequeue.
var (
	// ErrTimeout means no frame arrived within the poll interval.
	ErrTimeout = errors.New("dequeue timed out")
	// ErrStopped means the termination sentinel was received.
	ErrStopped = errors.New("queue stopped")
)

// Frame is one raw PCM audio frame. Immutable once enqueued; ownership
// transfers to the queue on Enqueue and to the consumer on Dequeue.
type Frame struct {
	Data []byte
	Recv time.Time
}

// Queue is a goroutine-safe bounded FIFO of audio frames plus a termination
// sentinel. Enqueue never blocks the caller: when the buffer is full the
// frame is dropped and counted.
type Queue struct {
	frames   chan *Frame
	stop     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
}

// New creates a queue holding at most capacity frames.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		frames: make(chan *Frame, capacity),
		stop:   make(chan struct{}),
	}
}

// Enqueue adds a frame without blocking. Returns false if the frame was
// dropped because the buffer is full or the queue is already stopped.
func (q *Queue) Enqueue(f *Frame) bool {
	select {
	case <-q.stop:
		return false
	default:
	}

	select {
	case q.frames <- f:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// EnqueueSentinel delivers the termination sentinel. Idempotent, never
// blocks, never lost even when the frame buffer is full.
func (q *Queue) EnqueueSentinel() {
	q.stopOnce.Do(func() { close(q.stop) })
}

// Dequeue returns the next frame in enqueue order. It returns ErrTimeout
// when no frame arrived within timeout, and ErrStopped once the sentinel has
// been received and no frames remain buffered.
func (q *Queue) Dequeue(timeout time.Duration) (*Frame, error) {
	// Drain buffered frames before honoring the sentinel so enqueue order
	// is preserved for frames accepted ahead of it.
	select {
	case f := <-q.frames:
		return f, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-q.frames:
		return f, nil
	case <-q.stop:
		return nil, ErrStopped
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Depth returns the number of frames currently buffered.
func (q *Queue) Depth() int {
	return len(q.frames)
}

// Dropped returns the number of frames dropped due to a full buffer.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
