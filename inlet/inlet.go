// File: inlet/inlet.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Inlet is the C10/C11 consumer-facing counterpart to outlet.Outlet: it
// resolves to one fixed remote instance (identified by the descriptor's
// instance UID), maintains a data connection, a time-correction probe loop, and a watchdog that notices a silent connection and either
// re-resolves the producer by source_id or declares the stream lost (spec
// §4.10/§4.11). Connection lifecycle (attempts counter, backoff, recover
// loop around a dial+handshake call) is grounded on the teacher's
// client/client.go WebSocketClient.connect/dialAndHandshake, generalized
// from an HTTP upgrade handshake to LSL's streamfeed text handshake.
package inlet

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/config"
	"github.com/momentics/labstream/core/queue"
	"github.com/momentics/labstream/core/sample"
	"github.com/momentics/labstream/core/streaminfo"
	"github.com/momentics/labstream/internal/xferbuf"
	sessionreg "github.com/momentics/labstream/internal/session"
	"github.com/momentics/labstream/lslerr"
	"github.com/momentics/labstream/postprocess"
)

// Inlet consumes one remote stream identified at Open time.
type Inlet struct {
	cfg    *config.Config
	logger zerolog.Logger

	format   api.ChannelFormat
	channels int
	rate     float64

	bundle   *endpointBundle
	registry *sessionreg.Registry

	pool  *sample.Pool
	queue *queue.ConsumerQueue
	pp    *postprocess.Processor

	recoverSourceID string
	maxBufLen       float64
	maxChunkLen     float64

	descMu     sync.RWMutex
	descriptor *streaminfo.Descriptor

	clock clockState

	connectMu  sync.Mutex
	dataWanted bool

	stop chan struct{}
	wg   sync.WaitGroup

	dataConnActive atomic.Bool
	closed         atomic.Bool
}

// Open resolves descriptor's current transport endpoint and constructs an
// Inlet. recover enables watchdog-driven re-resolution by the descriptor's
// source_id (spec §4.10); it is silently disabled if source_id is empty,
// since an anonymous producer cannot be relocated. maxBufLen (seconds) and
// maxChunkLen (samples, 0 meaning producer's default) size the pull-side
// queue and the streamfeed request.
func Open(descriptor *streaminfo.Descriptor, maxBufLen, maxChunkLen float64, recover bool, flags api.PostProcessingFlag, logger zerolog.Logger) (*Inlet, error) {
	cfg := config.Get()

	ep, err := endpointFromDescriptor(descriptor)
	if err != nil {
		return nil, err
	}

	format := descriptor.ChannelFormat()
	channels := descriptor.ChannelCount()
	rate := descriptor.NominalRate()

	reserve := cfg.Tuning.InletBufferReserveSamples
	if reserve <= 0 {
		reserve = descriptor.TransportBufferSamples(cfg.Tuning.InletBufferReserveMs, xferbuf.UnitMillis)
	}

	sourceID := ""
	if recover {
		sourceID = descriptor.SourceID()
	}

	in := &Inlet{
		cfg:             cfg,
		logger:          logger,
		format:          format,
		channels:        channels,
		rate:            rate,
		bundle:          newEndpointBundle(ep),
		registry:        sessionreg.NewRegistry(),
		pool:            sample.NewPool(format, channels, reserve),
		queue:           queue.New(xferbuf.SampleCount(maxBufLen, xferbuf.UnitSeconds, rate)),
		recoverSourceID: sourceID,
		maxBufLen:       maxBufLen,
		maxChunkLen:     maxChunkLen,
		descriptor:      descriptor,
		stop:            make(chan struct{}),
	}
	in.pp = postprocess.New(flags, rate, cfg.Tuning.SmoothingHalftime, in.clockOffsetNow)

	in.wg.Add(3)
	go in.dataLoop()
	go in.timeLoop()
	go in.watchdogLoop()

	return in, nil
}

func endpointFromDescriptor(d *streaminfo.Descriptor) (endpoint, error) {
	host, dataPort, servicePort := d.TransportV4()
	if host == "" {
		host, dataPort, servicePort = d.TransportV6()
	}
	if host == "" {
		return endpoint{}, lslerr.New(lslerr.CodeArgument, "descriptor carries no transport address")
	}
	return endpoint{host: host, dataPort: dataPort, servicePort: servicePort, uid: d.UID()}, nil
}

// OpenStream ensures the data connection is established, waiting up to
// timeout for the streamfeed handshake to complete (spec §6: open_stream).
func (in *Inlet) OpenStream(timeout time.Duration) error {
	in.connectMu.Lock()
	in.dataWanted = true
	in.connectMu.Unlock()
	in.bundle.setTransmissionWanted(true)

	deadline := time.Now().Add(timeout)
	for {
		if in.bundle.isLost() {
			return lslerr.New(lslerr.CodeLost, "stream is lost")
		}
		if in.hasDataConn() {
			return nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return lslerr.New(lslerr.CodeTimeout, "open_stream timed out")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// CloseStream drops the current data connection without tearing down the
// Inlet; dataLoop will not redial until OpenStream or a Pull call asks for
// it again.
func (in *Inlet) CloseStream() {
	in.connectMu.Lock()
	in.dataWanted = false
	in.connectMu.Unlock()
	in.bundle.setTransmissionWanted(false)
	in.registry.CancelAll()
}

// Close permanently shuts the inlet down: every background loop exits and
// every registered cancellable is tripped.
func (in *Inlet) Close() {
	if !in.closed.CompareAndSwap(false, true) {
		return
	}
	in.bundle.setShutdown()
	close(in.stop)
	in.registry.CancelAll()
	in.wg.Wait()
	in.queue.Close()
	in.queue.Flush()
}

// SetPostProcessing updates the active post-processing stage mask (spec §6:
// set_postprocessing).
func (in *Inlet) SetPostProcessing(flags api.PostProcessingFlag) {
	in.pp.SetFlags(flags)
}

// SmoothingHalftime returns the dejitter stage's configured halftime.
func (in *Inlet) SmoothingHalftime() float64 { return in.cfg.Tuning.SmoothingHalftime }

// SamplesAvailable reports how many samples currently sit in the pull queue.
func (in *Inlet) SamplesAvailable() int { return in.queue.Len() }

// Flush discards every currently queued sample, returning the count
// dropped (spec §6: flush).
func (in *Inlet) Flush() int { return in.queue.Flush() }

// PullSample blocks up to timeout for one numeric sample, applying the
// active post-processing stages to its timestamp.
func (in *Inlet) PullSample(timeout time.Duration) ([]float64, float64, error) {
	if in.format == api.FormatString {
		return nil, 0, lslerr.New(lslerr.CodeArgument, "stream is string-typed; use PullStringSample")
	}
	s, ok := in.popSample(timeout)
	if !ok {
		return nil, 0, in.pullError()
	}
	defer s.Release()

	values := make([]float64, s.Channels)
	width := s.Format.Size()
	for i := range values {
		values[i] = decodeNumericValue(s.Numeric[i*width:(i+1)*width], s.Format)
	}
	return values, s.Timestamp, nil
}

// PullStringSample blocks up to timeout for one string-typed sample.
func (in *Inlet) PullStringSample(timeout time.Duration) ([]string, float64, error) {
	if in.format != api.FormatString {
		return nil, 0, lslerr.New(lslerr.CodeArgument, "stream is not string-typed")
	}
	s, ok := in.popSample(timeout)
	if !ok {
		return nil, 0, in.pullError()
	}
	defer s.Release()

	values := make([]string, len(s.Strings))
	for i, v := range s.Strings {
		values[i] = string(v)
	}
	return values, s.Timestamp, nil
}

// PullChunk drains every sample currently queued (blocking up to timeout
// for at least one), returning parallel value rows and timestamps (spec
// §6: pull_chunk).
func (in *Inlet) PullChunk(timeout time.Duration) ([][]float64, []float64, error) {
	first, ts, err := in.PullSample(timeout)
	if err != nil {
		return nil, nil, err
	}
	rows := [][]float64{first}
	timestamps := []float64{ts}
	for {
		row, t, err := in.PullSample(0)
		if err != nil {
			break
		}
		rows = append(rows, row)
		timestamps = append(timestamps, t)
	}
	return rows, timestamps, nil
}

func (in *Inlet) popSample(timeout time.Duration) (*sample.Sample, bool) {
	in.ensureStreamRequested()
	return in.queue.Pop(timeout)
}

func (in *Inlet) pullError() error {
	if in.bundle.isLost() {
		return lslerr.New(lslerr.CodeLost, "stream is lost")
	}
	return lslerr.New(lslerr.CodeTimeout, "pull timed out")
}

func (in *Inlet) ensureStreamRequested() {
	in.connectMu.Lock()
	in.dataWanted = true
	in.connectMu.Unlock()
	in.bundle.setTransmissionWanted(true)
}

// WasClockReset reports whether the most recent time-correction update
// detected a discontinuity large enough to reinitialize the post-processing
// pipeline (spec §6: was_clock_reset).
func (in *Inlet) WasClockReset() bool {
	return in.clock.consumeUserResetFlag()
}

func netAddr(ep endpoint, port int) string {
	return net.JoinHostPort(ep.host, strconv.Itoa(port))
}

func (in *Inlet) hasDataConn() bool {
	return in.dataConnActive.Load()
}
