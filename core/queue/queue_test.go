package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/queue"
	"github.com/momentics/labstream/core/sample"
)

func TestQueueEvictsOldestOnOverrun(t *testing.T) {
	pool := sample.NewPool(api.FormatInt8, 1, 16)
	q := queue.New(10)

	var first *sample.Sample
	for i := 0; i < 11; i++ {
		s := pool.Allocate(float64(i), false)
		if i == 0 {
			first = s
		}
		q.Push(s)
	}

	seen := map[*sample.Sample]bool{}
	for {
		s, ok := q.Pop(0)
		if !ok {
			break
		}
		seen[s] = true
		s.Release()
	}
	if seen[first] {
		t.Fatalf("first-pushed sample should have been evicted, not observed")
	}
	if len(seen) != 10 {
		t.Fatalf("expected exactly 10 resident samples, saw %d", len(seen))
	}
}

func TestQueueCapacityOneKeepsLatest(t *testing.T) {
	pool := sample.NewPool(api.FormatInt8, 1, 4)
	q := queue.New(1)

	q.Push(pool.Allocate(1, false))
	q.Push(pool.Allocate(2, false))
	q.Push(pool.Allocate(3, false))

	s, ok := q.Pop(0)
	if !ok {
		t.Fatalf("expected a resident sample")
	}
	if s.Timestamp != 3 {
		t.Fatalf("expected latest pushed sample (ts=3), got ts=%v", s.Timestamp)
	}
	s.Release()

	if live := pool.Live(); live != 0 {
		t.Fatalf("expected all overwritten/popped samples released back to the pool, pool.Live()=%d", live)
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	pool := sample.NewPool(api.FormatInt8, 1, 4)
	q := queue.New(4)

	done := make(chan *sample.Sample, 1)
	go func() {
		s, ok := q.Pop(500 * time.Millisecond)
		if ok {
			done <- s
		} else {
			done <- nil
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(pool.Allocate(42, false))

	select {
	case s := <-done:
		if s == nil {
			t.Fatalf("expected a sample to be delivered before timeout")
		}
		s.Release()
	case <-time.After(time.Second):
		t.Fatalf("pop never returned")
	}
}

func TestQueueConcurrentMultiConsumerPop(t *testing.T) {
	const n = 5000
	pool := sample.NewPool(api.FormatInt8, 1, 64)
	q := queue.New(n)
	for i := 0; i < n; i++ {
		q.Push(pool.Allocate(float64(i), false))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				s, ok := q.Pop(50 * time.Millisecond)
				if !ok {
					return
				}
				s.Release()
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if count != n {
		t.Fatalf("expected %d samples popped across consumers, got %d", n, count)
	}
}
