// File: postprocess/processor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Processor is the inlet-side time post-processing pipeline of spec §4.12
// (C12): up to four optional stages — clocksync, RLS dejitter, monotonize,
// threadsafe — selected and reset via a bitmask built from api.PostProcessingFlag.
// The pipeline shape (ordered stage application behind a single entry
// point, mutex only engaged when requested) follows the teacher's
// control/config.go discipline of guarding shared mutable state no more
// broadly than the caller asked for.
package postprocess

import (
	"math"
	"sync"

	"github.com/momentics/labstream/api"
)

// OffsetFunc returns the inlet's current clock offset estimate, as published
// by its time receiver (spec §4.11's time_correction).
type OffsetFunc func() float64

// Processor applies the selected post-processing stages to incoming sample
// timestamps, in the fixed order clocksync -> dejitter -> monotonize.
type Processor struct {
	mu sync.Mutex

	flags       api.PostProcessingFlag
	nominalRate float64
	halftime    float64
	offsetFn    OffsetFunc

	// clocksync
	sampleCount   int64
	lastQueryTime float64
	offset        float64

	// dejitter (RLS)
	dejitterInit bool
	n            float64
	t0           float64
	w0, w1       float64
	p00, p01     float64
	p10, p11     float64
	lambda       float64

	// monotonize
	hasWatermark bool
	watermark    float64
}

// New constructs a processor for a stream of the given nominal rate (0 for
// irregular). halftimeSeconds is tuning.SmoothingHalftime; offsetFn supplies
// the live clock offset for the clocksync stage (may be nil if clocksync is
// never enabled).
func New(flags api.PostProcessingFlag, nominalRate, halftimeSeconds float64, offsetFn OffsetFunc) *Processor {
	p := &Processor{
		flags:       flags,
		nominalRate: nominalRate,
		halftime:    halftimeSeconds,
		offsetFn:    offsetFn,

		lastQueryTime: math.Inf(-1),
	}
	p.resetDejitterLocked()
	p.resetMonotonizeLocked()
	return p
}

// SetFlags updates the active stage mask. Newly enabled dejitter/monotonize
// stages reinitialize their state on the next sample; disabling and
// re-enabling clocksync simply forces a fresh offset query.
func (p *Processor) SetFlags(flags api.PostProcessingFlag) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if flags.Has(api.ProcDejitter) && !p.flags.Has(api.ProcDejitter) {
		p.resetDejitterLocked()
	}
	if flags.Has(api.ProcMonotonize) && !p.flags.Has(api.ProcMonotonize) {
		p.resetMonotonizeLocked()
	}
	if flags.Has(api.ProcClockSync) && !p.flags.Has(api.ProcClockSync) {
		p.sampleCount = 0
		p.lastQueryTime = math.Inf(-1)
	}
	p.flags = flags
}

// Flags returns the currently active stage mask.
func (p *Processor) Flags() api.PostProcessingFlag {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags
}

// OnClockReset must be called when the time receiver reports a clock reset;
// it fully reinitializes the clocksync and dejitter smoother state.
func (p *Processor) OnClockReset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sampleCount = 0
	p.lastQueryTime = math.Inf(-1)
	p.resetDejitterLocked()
}

// Process applies the active stages to one timestamp in push order.
func (p *Processor) Process(timestamp float64) float64 {
	return p.ProcessSkip(timestamp, 1)
}

// ProcessSkip applies the active stages to a timestamp that follows `skip`
// samples since the previous call (skip > 1 for samples dropped upstream,
// e.g. queue overflow), advancing the dejitter sample index accordingly to
// preserve phase (spec §4.12).
func (p *Processor) ProcessSkip(timestamp float64, skip int) float64 {
	if p.flags.Has(api.ProcThreadsafe) {
		p.mu.Lock()
		defer p.mu.Unlock()
	}

	out := timestamp
	if p.flags.Has(api.ProcClockSync) {
		out = p.clocksync(out)
	}
	if p.flags.Has(api.ProcDejitter) && p.nominalRate > 0 {
		out = p.dejitter(out, skip)
	}
	if p.flags.Has(api.ProcMonotonize) {
		out = p.monotonize(out)
	}
	return out
}

func (p *Processor) clocksync(ts float64) float64 {
	p.sampleCount++
	now := api.LocalClock()
	if p.sampleCount%50 == 0 || now-p.lastQueryTime >= 0.5 {
		if p.offsetFn != nil {
			p.offset = p.offsetFn()
		}
		p.lastQueryTime = now
	}
	return ts + p.offset
}

func (p *Processor) resetDejitterLocked() {
	p.dejitterInit = false
	p.n = 0
	p.w0, p.w1 = 0, 0
	const bigVariance = 1e10
	p.p00, p.p01 = bigVariance, 0
	p.p10, p.p11 = 0, bigVariance
	if p.nominalRate > 0 && p.halftime > 0 {
		p.lambda = math.Pow(2, -1.0/(p.nominalRate*p.halftime))
	} else {
		p.lambda = 1
	}
}

// dejitter fits t = w0 + w1*n via recursive least squares with forgetting
// factor lambda, returning the smoothed estimate for the current n.
func (p *Processor) dejitter(ts float64, skip int) float64 {
	if !p.dejitterInit {
		p.t0 = ts
		p.w0 = 0
		p.w1 = 1.0 / p.nominalRate
		p.dejitterInit = true
		p.n = 0
		return ts
	}
	if skip < 1 {
		skip = 1
	}
	p.n += float64(skip)

	x0, x1 := 1.0, p.n
	y := ts - p.t0

	// Px = P * x
	px0 := p.p00*x0 + p.p01*x1
	px1 := p.p10*x0 + p.p11*x1
	denom := p.lambda + x0*px0 + x1*px1

	k0 := px0 / denom
	k1 := px1 / denom

	pred := x0*p.w0 + x1*p.w1
	err := y - pred
	p.w0 += k0 * err
	p.w1 += k1 * err

	// P = (P - k * (x^T P)) / lambda, with x^T P == [px0, px1]
	p.p00 = (p.p00 - k0*px0) / p.lambda
	p.p01 = (p.p01 - k0*px1) / p.lambda
	p.p10 = (p.p10 - k1*px0) / p.lambda
	p.p11 = (p.p11 - k1*px1) / p.lambda

	return p.t0 + p.w0 + p.w1*p.n
}

func (p *Processor) resetMonotonizeLocked() {
	p.hasWatermark = false
	p.watermark = math.Inf(-1)
}

func (p *Processor) monotonize(ts float64) float64 {
	if !p.hasWatermark || ts > p.watermark {
		p.watermark = ts
		p.hasWatermark = true
	}
	return p.watermark
}
