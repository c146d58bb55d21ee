package journal

import (
	"testing"
	"time"
)

func TestUnboundedQueuePushPopOrder(t *testing.T) {
	q := newUnboundedQueue[int]()
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.PopBlocking()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d ok=%v", i, v, ok)
		}
	}
}

func TestUnboundedQueuePopBlockingWakesOnPush(t *testing.T) {
	q := newUnboundedQueue[string]()
	done := make(chan string, 1)
	go func() {
		v, ok := q.PopBlocking()
		if ok {
			done <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-done:
		if v != "hello" {
			t.Fatalf("expected hello, got %s", v)
		}
	case <-time.After(time.Second):
		t.Fatal("PopBlocking never woke up after Push")
	}
}

func TestUnboundedQueuePopBlockingUnblocksOnStop(t *testing.T) {
	q := newUnboundedQueue[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.PopBlocking()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Stop()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false from an empty, stopped queue")
		}
	case <-time.After(time.Second):
		t.Fatal("PopBlocking never returned after Stop")
	}
}

func TestUnboundedQueuePopWaitTimesOut(t *testing.T) {
	q := newUnboundedQueue[int]()
	start := time.Now()
	_, ok := q.PopWait(20 * time.Millisecond)
	if ok {
		t.Fatal("expected no item")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("PopWait returned before its deadline")
	}
}

func TestUnboundedQueuePopWaitZeroPolls(t *testing.T) {
	q := newUnboundedQueue[int]()
	start := time.Now()
	_, ok := q.PopWait(0)
	if ok {
		t.Fatal("expected no item on an empty queue")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("PopWait(0) should return immediately")
	}
}

func TestUnboundedQueueLen(t *testing.T) {
	q := newUnboundedQueue[int]()
	if q.Len() != 0 {
		t.Fatal("expected empty queue length 0")
	}
	q.Push(1)
	q.Push(2)
	if q.Len() != 2 {
		t.Fatalf("expected length 2, got %d", q.Len())
	}
}
