package sample_test

import (
	"sync"
	"testing"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/sample"
)

func TestPoolAllocateReleaseBalances(t *testing.T) {
	p := sample.NewPool(api.FormatInt16, 4, 2)
	s := p.Allocate(1.0, false)
	if s.RefCount() != 1 {
		t.Fatalf("expected refcount 1 after allocate, got %d", s.RefCount())
	}
	before := p.Live()
	s.Release()
	if p.Live() != before-1 {
		t.Fatalf("expected live count to drop by one release, got live=%d", p.Live())
	}
}

func TestPoolReclaimsStringChannelsOnRelease(t *testing.T) {
	p := sample.NewPool(api.FormatString, 2, 0)
	s := p.Allocate(0, false)
	s.Strings[0] = []byte("hello")
	s.Strings[1] = []byte("world")
	s.Release()

	s2 := p.Allocate(0, false)
	for i, v := range s2.Strings {
		if v != nil {
			t.Fatalf("expected reclaimed string channel %d to be cleared, got %q", i, v)
		}
	}
}

func TestPoolConcurrentAllocateRelease(t *testing.T) {
	p := sample.NewPool(api.FormatFloat32, 8, 16)
	const n = 2000
	var wg sync.WaitGroup
	samples := make(chan *sample.Sample, n)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			samples <- p.Allocate(float64(i), false)
		}
		close(samples)
	}()

	var releasers sync.WaitGroup
	for i := 0; i < 8; i++ {
		releasers.Add(1)
		go func() {
			defer releasers.Done()
			for s := range samples {
				s.Release()
			}
		}()
	}
	wg.Wait()
	releasers.Wait()

	if got := p.Live(); got != 0 {
		t.Fatalf("expected zero live samples after all releases, got %d", got)
	}
}
