package callback

import (
	"sync"
	"testing"
	"time"
)

func TestExecutorKeyedOrdering(t *testing.T) {
	e := NewExecutor(4)
	defer e.Shutdown()

	const n = 50
	results := make([]int, 0, n)
	var mu sync.Mutex
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		e.Submit("same-key", func() {
			mu.Lock()
			results = append(results, i)
			mu.Unlock()
			if i == n-1 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	for i, v := range results {
		if v != i {
			t.Fatalf("expected in-order dispatch for a shared key, got %v", results)
		}
	}
}

func TestExecutorUnkeyedRunsConcurrently(t *testing.T) {
	e := NewExecutor(8)
	defer e.Shutdown()

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		e.SubmitUnkeyed(func() {
			defer wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unkeyed tasks never completed")
	}
}

func TestExecutorPanicIsContained(t *testing.T) {
	e := NewExecutor(1)
	defer e.Shutdown()

	done := make(chan struct{})
	e.SubmitUnkeyed(func() { panic("boom") })
	e.SubmitUnkeyed(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a panicking task should not stop the worker lane")
	}
}

func TestExecutorDifferentKeysDontBlockEachOther(t *testing.T) {
	e := NewExecutor(4)
	defer e.Shutdown()

	slowKey := "slow-key"
	otherKey := "other-key"
	// Hash collisions land both keys on the same lane; pick a second key that
	// is guaranteed to route elsewhere so the test exercises cross-lane
	// concurrency rather than getting lucky.
	if e.laneFor(slowKey) == e.laneFor(otherKey) {
		otherKey = "other-key-2"
	}

	block := make(chan struct{})
	started := make(chan struct{})
	e.Submit(slowKey, func() {
		close(started)
		<-block
	})
	<-started

	done := make(chan struct{})
	e.Submit(otherKey, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a task on a different key should not wait behind a blocked key")
	}
	close(block)
}
