package dispatch_test

import (
	"sync"
	"testing"
	"time"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/dispatch"
	"github.com/momentics/labstream/core/sample"
)

func TestSendBufferPushWithNoConsumersReclaims(t *testing.T) {
	pool := sample.NewPool(api.FormatFloat32, 1, 4)
	sb := dispatch.New()
	s := pool.Allocate(1, false)
	sb.Push(s)
	if pool.Live() != 0 {
		t.Fatalf("expected sample with zero consumers to be reclaimed, live=%d", pool.Live())
	}
}

func TestSendBufferFansOutToAllConsumers(t *testing.T) {
	pool := sample.NewPool(api.FormatFloat32, 1, 8)
	sb := dispatch.New()
	c1 := sb.NewConsumer(8, 0)
	c2 := sb.NewConsumer(8, 0)
	defer c1.Close()
	defer c2.Close()

	sb.Push(pool.Allocate(42, false))

	s1, ok := c1.Pop(0)
	if !ok {
		t.Fatalf("expected consumer 1 to receive a sample")
	}
	s2, ok := c2.Pop(0)
	if !ok {
		t.Fatalf("expected consumer 2 to receive a sample")
	}
	if s1.Timestamp != 42 || s2.Timestamp != 42 {
		t.Fatalf("unexpected timestamps: %v %v", s1.Timestamp, s2.Timestamp)
	}
	s1.Release()
	s2.Release()
	if pool.Live() != 0 {
		t.Fatalf("expected zero live samples after both consumers release, got %d", pool.Live())
	}
}

func TestSendBufferConsumerCapacityClampedByGlobalMax(t *testing.T) {
	pool := sample.NewPool(api.FormatFloat32, 1, 8)
	sb := dispatch.New()
	c := sb.NewConsumer(100, 5)
	defer c.Close()
	if c.Len() != 0 {
		t.Fatalf("expected empty new consumer")
	}
	for i := 0; i < 6; i++ {
		sb.Push(pool.Allocate(float64(i), false))
	}
	if c.Len() != 5 {
		t.Fatalf("expected queue capacity clamped to 5, got %d resident", c.Len())
	}
}

func TestSendBufferUnregisterStopsFutureDelivery(t *testing.T) {
	pool := sample.NewPool(api.FormatFloat32, 1, 4)
	sb := dispatch.New()
	c := sb.NewConsumer(4, 0)
	c.Close()

	if sb.HaveConsumers() {
		t.Fatalf("expected no consumers after close")
	}
	sb.Push(pool.Allocate(1, false))
	if pool.Live() != 0 {
		t.Fatalf("expected push after unregister to reclaim immediately")
	}
}

func TestSendBufferWaitForConsumersUnblocksOnRegistration(t *testing.T) {
	sb := dispatch.New()
	var wg sync.WaitGroup
	wg.Add(1)
	result := make(chan bool, 1)
	go func() {
		defer wg.Done()
		result <- sb.WaitForConsumers(time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	c := sb.NewConsumer(4, 0)
	defer c.Close()

	wg.Wait()
	if !<-result {
		t.Fatalf("expected WaitForConsumers to observe the new registration")
	}
}

func TestSendBufferWaitForConsumersTimesOut(t *testing.T) {
	sb := dispatch.New()
	start := time.Now()
	if sb.WaitForConsumers(50 * time.Millisecond) {
		t.Fatalf("expected no consumers to be present")
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("expected WaitForConsumers to actually wait out the timeout")
	}
}
