package audioq

import (
	"testing"
	"time"
)

func TestQueue_PreservesEnqueueOrder(t *testing.T) {
	q := New(16)

	for i := byte(0); i < 5; i++ {
		if !q.Enqueue(&Frame{Data: []byte{i}, Recv: time.Now()}) {
			t.Fatalf("enqueue %d failed", i)
		}
	}

	for i := byte(0); i < 5; i++ {
		f, err := q.Dequeue(100 * time.Millisecond)
		if err != nil {
			t.Fatalf("dequeue %d: unexpected error: %v", i, err)
		}
		if f.Data[0] != i {
			t.Errorf("expected frame %d, got %d", i, f.Data[0])
		}
	}
}

func TestQueue_DequeueTimeout(t *testing.T) {
	q := New(4)

	start := time.Now()
	_, err := q.Dequeue(50 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("dequeue returned too early: %v", elapsed)
	}
}

func TestQueue_SentinelStopsConsumer(t *testing.T) {
	q := New(4)
	q.EnqueueSentinel()

	_, err := q.Dequeue(time.Second)
	if err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestQueue_SentinelIdempotent(t *testing.T) {
	q := New(4)

	// A second sentinel must not panic or change behavior.
	q.EnqueueSentinel()
	q.EnqueueSentinel()

	if _, err := q.Dequeue(time.Second); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestQueue_BufferedFramesDrainBeforeSentinel(t *testing.T) {
	q := New(8)
	q.Enqueue(&Frame{Data: []byte{1}})
	q.Enqueue(&Frame{Data: []byte{2}})
	q.EnqueueSentinel()

	f, err := q.Dequeue(time.Second)
	if err != nil || f.Data[0] != 1 {
		t.Fatalf("expected frame 1, got %v err=%v", f, err)
	}
	f, err = q.Dequeue(time.Second)
	if err != nil || f.Data[0] != 2 {
		t.Fatalf("expected frame 2, got %v err=%v", f, err)
	}
	if _, err := q.Dequeue(time.Second); err != ErrStopped {
		t.Fatalf("expected ErrStopped after drain, got %v", err)
	}
}

func TestQueue_EnqueueNeverBlocksWhenFull(t *testing.T) {
	q := New(2)

	if !q.Enqueue(&Frame{Data: []byte{1}}) {
		t.Fatal("first enqueue should succeed")
	}
	if !q.Enqueue(&Frame{Data: []byte{2}}) {
		t.Fatal("second enqueue should succeed")
	}

	done := make(chan bool, 1)
	go func() { done <- q.Enqueue(&Frame{Data: []byte{3}}) }()

	select {
	case accepted := <-done:
		if accepted {
			t.Error("expected overflow frame to be dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on full queue")
	}

	if q.Dropped() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", q.Dropped())
	}
}

func TestQueue_EnqueueAfterSentinelRejected(t *testing.T) {
	q := New(4)
	q.EnqueueSentinel()

	if q.Enqueue(&Frame{Data: []byte{1}}) {
		t.Error("expected enqueue after sentinel to be rejected")
	}
}

func TestQueue_Depth(t *testing.T) {
	q := New(8)

	if q.Depth() != 0 {
		t.Errorf("expected empty queue, depth=%d", q.Depth())
	}
	q.Enqueue(&Frame{Data: []byte{1}})
	q.Enqueue(&Frame{Data: []byte{2}})
	if q.Depth() != 2 {
		t.Errorf("expected depth 2, got %d", q.Depth())
	}
}
