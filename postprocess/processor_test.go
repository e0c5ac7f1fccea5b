package postprocess_test

import (
	"math"
	"testing"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/postprocess"
)

func TestProcessNoFlagsPassesThrough(t *testing.T) {
	p := postprocess.New(api.ProcNone, 100, 90, nil)
	if got := p.Process(42.0); got != 42.0 {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestClockSyncAddsOffset(t *testing.T) {
	p := postprocess.New(api.ProcClockSync, 0, 0, func() float64 { return 1.5 })
	if got := p.Process(10.0); got != 11.5 {
		t.Fatalf("expected offset applied, got %v", got)
	}
}

func TestMonotonizeClampsToHighWatermark(t *testing.T) {
	p := postprocess.New(api.ProcMonotonize, 0, 0, nil)
	if got := p.Process(5.0); got != 5.0 {
		t.Fatalf("expected first sample unchanged, got %v", got)
	}
	if got := p.Process(3.0); got != 5.0 {
		t.Fatalf("expected clamp to prior high watermark, got %v", got)
	}
	if got := p.Process(9.0); got != 9.0 {
		t.Fatalf("expected new high watermark to pass through, got %v", got)
	}
}

func TestDejitterConvergesTowardRegularSpacing(t *testing.T) {
	p := postprocess.New(api.ProcDejitter, 100, 90, nil)
	base := 1000.0
	var last float64
	for i := 0; i < 200; i++ {
		jitter := 0.0002 * math.Sin(float64(i))
		ts := base + float64(i)/100.0 + jitter
		last = p.Process(ts)
	}
	want := base + 199.0/100.0
	if math.Abs(last-want) > 0.01 {
		t.Fatalf("expected dejittered output near %v, got %v", want, last)
	}
}

func TestDejitterIgnoredForIrregularRate(t *testing.T) {
	p := postprocess.New(api.ProcDejitter, 0, 90, nil)
	if got := p.Process(3.3); got != 3.3 {
		t.Fatalf("expected irregular-rate stream to bypass dejitter, got %v", got)
	}
}

func TestSetFlagsResetsMonotonizeWatermark(t *testing.T) {
	p := postprocess.New(api.ProcMonotonize, 0, 0, nil)
	p.Process(100.0)
	p.SetFlags(api.ProcNone)
	p.SetFlags(api.ProcMonotonize)
	if got := p.Process(1.0); got != 1.0 {
		t.Fatalf("expected watermark reset after re-enabling monotonize, got %v", got)
	}
}

func TestOnClockResetReinitializesDejitter(t *testing.T) {
	p := postprocess.New(api.ProcDejitter|api.ProcClockSync, 100, 90, func() float64 { return 0 })
	for i := 0; i < 50; i++ {
		p.Process(1000.0 + float64(i)/100.0)
	}
	p.OnClockReset()
	got := p.Process(5000.0)
	if got != 5000.0 {
		t.Fatalf("expected dejitter to restart fresh after clock reset, got %v", got)
	}
}

func TestProcessSkipAdvancesPhase(t *testing.T) {
	p := postprocess.New(api.ProcDejitter, 100, 90, nil)
	p.Process(0.0)
	got := p.ProcessSkip(0.03, 3)
	want := 0.03
	if math.Abs(got-want) > 0.02 {
		t.Fatalf("expected skip-adjusted estimate near %v, got %v", want, got)
	}
}

func TestThreadsafeFlagDoesNotChangeValues(t *testing.T) {
	p := postprocess.New(api.ProcThreadsafe|api.ProcMonotonize, 0, 0, nil)
	if got := p.Process(1.0); got != 1.0 {
		t.Fatalf("unexpected value under threadsafe wrapper: %v", got)
	}
}
