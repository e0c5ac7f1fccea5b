// File: inlet/time.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Time receiver: periodically probes the remote UDP service port with the
// NTP-style exchange of spec §4.5/§4.11 (t0 local send, t1 remote receive,
// t2 remote send, t3 local receive; offset = ((t1-t0)+(t2-t3))/2), keeping
// the lowest-RTT probe of each round as the round's estimate. Exposes the
// latest estimate through a broadcast-on-update channel, the same
// wait-for-update shape as core/dispatch/sendbuffer.go's WaitForConsumers.
package inlet

import (
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/lslerr"
	"github.com/momentics/labstream/transport/udp"
)

// clockState holds the latest time-correction estimate.
type clockState struct {
	mu         sync.Mutex
	offset     float64
	remoteTime float64
	uncertainty float64
	updatedAt  time.Time
	haveValue  bool

	// stageResetPending is consumed internally by the time loop to trigger
	// postprocess.Processor.OnClockReset exactly once per jump.
	stageResetPending bool
	// userResetPending is consumed by the public WasClockReset API and
	// persists across multiple jumps until the caller polls it.
	userResetPending bool

	waitMu sync.Mutex
	waitCh chan struct{}
}

func (c *clockState) ensureWaitCh() chan struct{} {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	if c.waitCh == nil {
		c.waitCh = make(chan struct{})
	}
	return c.waitCh
}

func (c *clockState) publish(offset, remoteTime, uncertainty float64) {
	c.mu.Lock()
	prevOffset, hadValue := c.offset, c.haveValue
	c.offset = offset
	c.remoteTime = remoteTime
	c.uncertainty = uncertainty
	c.updatedAt = time.Now()
	if hadValue && math.Abs(offset-prevOffset) > clockResetThreshold {
		c.stageResetPending = true
		c.userResetPending = true
	}
	c.haveValue = true
	c.mu.Unlock()

	c.waitMu.Lock()
	old := c.waitCh
	c.waitCh = make(chan struct{})
	c.waitMu.Unlock()
	if old != nil {
		close(old)
	}
}

// clockResetThreshold (seconds) is the offset jump spec §4.12 treats as a
// clock reset requiring the dejitter stage to reinitialize.
const clockResetThreshold = 1.0

func (c *clockState) snapshot() (offset, remoteTime, uncertainty float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset, c.remoteTime, c.uncertainty, c.haveValue
}

// consumeStageResetFlag is polled internally by the time loop.
func (c *clockState) consumeStageResetFlag() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.stageResetPending
	c.stageResetPending = false
	return v
}

// consumeUserResetFlag backs the public WasClockReset API.
func (c *clockState) consumeUserResetFlag() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.userResetPending
	c.userResetPending = false
	return v
}

// clockOffsetNow is the postprocess.OffsetFunc fed to the clocksync stage.
func (in *Inlet) clockOffsetNow() float64 {
	offset, _, _, _ := in.clock.snapshot()
	return offset
}

// TimeCorrection blocks until a time-correction estimate is available,
// waiting up to timeout (spec §6: time_correction).
func (in *Inlet) TimeCorrection(timeout time.Duration) (offset, remoteTime, uncertainty float64, err error) {
	if o, r, u, ok := in.clock.snapshot(); ok {
		return o, r, u, nil
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		ch := in.clock.ensureWaitCh()
		select {
		case <-ch:
			if o, r, u, ok := in.clock.snapshot(); ok {
				return o, r, u, nil
			}
		case <-deadline.C:
			return 0, 0, 0, lslerr.New(lslerr.CodeTimeout, "time_correction timed out")
		case <-in.stop:
			return 0, 0, 0, lslerr.New(lslerr.CodeLost, "inlet closed")
		}
	}
}

func (in *Inlet) timeLoop() {
	defer in.wg.Done()
	interval := time.Duration(in.cfg.Tuning.TimeUpdateInterval * float64(time.Second))
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	in.runTimeRound()
	for {
		select {
		case <-in.stop:
			return
		case <-ticker.C:
			in.runTimeRound()
		}
	}
}

func (in *Inlet) runTimeRound() {
	ep := in.bundle.current()
	conn, err := net.Dial("udp", netAddr(ep, ep.servicePort))
	if err != nil {
		return
	}
	defer conn.Close()

	tok := in.registry.Register(connCancellable{conn: conn})
	defer in.registry.Unregister(tok)

	count := in.cfg.Tuning.TimeProbeCount
	if count <= 0 {
		count = 8
	}
	probeInterval := time.Duration(in.cfg.Tuning.TimeProbeInterval * float64(time.Second))
	maxRTT := in.cfg.Tuning.TimeProbeMaxRTT
	minProbes := in.cfg.Tuning.TimeUpdateMinProbes

	var bestOffset, bestRemote, bestRTT float64
	valid := 0
	haveBest := false

	for i := 0; i < count; i++ {
		offset, remote, rtt, ok := probeOnce(conn, i)
		if ok && (maxRTT <= 0 || rtt <= maxRTT) {
			valid++
			if !haveBest || rtt < bestRTT {
				bestOffset, bestRemote, bestRTT, haveBest = offset, remote, rtt, true
			}
		}
		if i < count-1 && probeInterval > 0 {
			time.Sleep(probeInterval)
		}
	}

	if !haveBest || (minProbes > 0 && valid < minProbes) {
		return
	}
	in.clock.publish(bestOffset, bestRemote, bestRTT/2)
	if in.clock.consumeStageResetFlag() {
		in.pp.OnClockReset()
	}
}

func probeOnce(conn net.Conn, seq int) (offset, remoteTime, rtt float64, ok bool) {
	waveID := strconv.Itoa(seq)
	t0 := api.LocalClock()
	req := udp.BuildTimeDataRequest(waveID, t0)

	_ = conn.SetDeadline(time.Now().Add(500 * time.Millisecond))
	if _, err := conn.Write(req); err != nil {
		return 0, 0, 0, false
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return 0, 0, 0, false
	}
	t3 := api.LocalClock()

	reply, parsed := udp.ParseTimeDataReply(buf[:n])
	if !parsed || reply.WaveID != waveID {
		return 0, 0, 0, false
	}

	offset = ((reply.T1 - reply.T0) + (reply.T2 - t3)) / 2
	rtt = t3 - reply.T0
	return offset, reply.T2, rtt, true
}
