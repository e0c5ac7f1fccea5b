// File: outlet/outlet.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outlet is the C8 orchestrator plus the public producer-facing API of
// spec §6 (stream_outlet, push_sample, push_chunk, push_numeric_raw,
// have_consumers, wait_for_consumers): it owns the descriptor, the sample
// pool, the fan-out send buffer, and one transport/tcp.Server +
// transport/udp.Server pair per enabled IP stack plus a discovery-only
// transport/udp.Server per configured multicast group. Bring-up/teardown
// sequencing (bind everything, stamp the descriptor, begin_serving; on
// Close, end_serving every server before releasing resources) follows
// spec §4.8 and the teacher's accept-loop lifecycle in
// transport/tcp/listener.go, generalized from one listener to a bundle.
package outlet

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/config"
	"github.com/momentics/labstream/core/dispatch"
	"github.com/momentics/labstream/core/sample"
	"github.com/momentics/labstream/core/streaminfo"
	"github.com/momentics/labstream/internal/xferbuf"
	"github.com/momentics/labstream/transport/tcp"
	"github.com/momentics/labstream/transport/udp"
)

// Outlet binds and serves one stream descriptor.
type Outlet struct {
	descriptor *streaminfo.Descriptor
	pool       *sample.Pool
	sendBuffer *dispatch.SendBuffer
	cfg        *config.Config
	logger     zerolog.Logger
	chunkSize  int

	tcpServers  []*tcp.Server
	udpServers  []*udp.Server
	mcastGroups []*multicastGroup
}

// New constructs and binds an outlet for descriptor: one TCP data server
// and one unicast UDP discovery/time server per enabled IP stack, plus a
// discovery-only UDP responder per configured multicast group. chunkSize
// is the producer's preferred push granularity; it is stored on the outlet
// and not otherwise used. maxBuffered caps every attached consumer's queue
// (spec §4.2). logger is injected per spec §2.1, never a package global.
func New(descriptor *streaminfo.Descriptor, chunkSize, maxBuffered int, logger zerolog.Logger) (*Outlet, error) {
	cfg := config.Get()

	reserve := cfg.Tuning.OutletBufferReserveSamp
	if reserve <= 0 {
		reserve = descriptor.TransportBufferSamples(cfg.Tuning.OutletBufferReserveMs, xferbuf.UnitMillis)
	}

	o := &Outlet{
		descriptor: descriptor,
		pool:       sample.NewPool(descriptor.ChannelFormat(), descriptor.ChannelCount(), reserve),
		sendBuffer: dispatch.New(),
		cfg:        cfg,
		logger:     logger,
		chunkSize:  chunkSize,
	}

	if err := o.bind(maxBuffered); err != nil {
		o.Close()
		return nil, err
	}

	o.stampIdentity()
	o.beginServing()
	return o, nil
}

func (o *Outlet) bind(maxBuffered int) error {
	ifs, err := localInterfaces()
	if err != nil {
		return fmt.Errorf("outlet: enumerate interfaces: %w", err)
	}

	if err := o.bindStack(filterByStack(ifs, true), true, maxBuffered); err != nil {
		return err
	}
	if o.cfg.Ports.IPv6 != config.IPv6Disabled {
		if err := o.bindStack(filterByStack(ifs, false), false, maxBuffered); err != nil {
			if o.cfg.Ports.IPv6 == config.IPv6Forced {
				return err
			}
			o.logger.Warn().Err(err).Msg("outlet: ipv6 stack unavailable, continuing v4-only")
		}
	}

	if len(o.tcpServers) == 0 {
		return fmt.Errorf("outlet: no IP stack could be bound")
	}

	o.bindMulticastResponders()
	return nil
}

// bindStack binds one TCP data server and one unicast UDP service server
// for the given address family, choosing the first usable local address.
func (o *Outlet) bindStack(ifs []netif, v4 bool, maxBuffered int) error {
	var bindAddr net.IP
	for _, f := range ifs {
		bindAddr = f.IP
		break
	}
	if bindAddr == nil {
		bindAddr = net.IPv4zero
		if !v4 {
			bindAddr = net.IPv6unspecified
		}
	}

	ports := o.cfg.Ports
	ln, err := bindTCP(bindAddr, ports.BasePort, ports.PortRange, ports.AllowRandomPorts)
	if err != nil {
		return fmt.Errorf("outlet: bind tcp: %w", err)
	}
	tcpSrv := tcp.NewServer(ln, o.descriptor, o.sendBuffer, o.pool, o.cfg.Tuning.UseProtocolVersion, maxBuffered, o.logger)
	o.tcpServers = append(o.tcpServers, tcpSrv)

	udpConn, err := bindUDP(bindAddr, ports.BasePort, ports.PortRange, ports.AllowRandomPorts)
	if err != nil {
		return fmt.Errorf("outlet: bind udp: %w", err)
	}
	udpSrv := udp.NewServer(udpConn, o.descriptor, true, o.logger)
	o.udpServers = append(o.udpServers, udpSrv)

	dataPort := tcpPort(ln)
	servicePort := udpPort(udpConn)
	if v4 {
		o.descriptor.SetTransportAddresses(bindAddr.String(), dataPort, servicePort, "", 0, 0)
	} else {
		v4addr, v4data, v4service := o.descriptor.TransportV4()
		o.descriptor.SetTransportAddresses(v4addr, v4data, v4service, bindAddr.String(), dataPort, servicePort)
	}
	return nil
}

// bindMulticastResponders joins every configured discovery-only multicast
// group up to the resolve scope and starts a time-disabled UDP responder
// on each (spec §4.7: "the multicast listener instance disables the time
// service"). A group that fails to bind is logged and skipped (spec §8:
// "a multicast socket that fails to open is logged and skipped").
func (o *Outlet) bindMulticastResponders() {
	ttl := multicastTTLFor(o.cfg.Multicast.ResolveScope)
	port := o.cfg.Ports.MulticastPort

	iface, err := interfaceForListenAddress(o.cfg)
	if err != nil {
		o.logger.Warn().Err(err).Msg("outlet: multicast.ListenAddress could not be resolved, using default route")
		iface = nil
	}

	for _, addr := range multicastGroupsForScope(o.cfg, true) {
		o.joinAndServe(addr, port, ttl, iface)
	}
	if o.cfg.Ports.IPv6 != config.IPv6Disabled {
		for _, addr := range multicastGroupsForScope(o.cfg, false) {
			o.joinAndServe(addr, port, ttl, iface)
		}
	}
}

func (o *Outlet) joinAndServe(addr string, port, ttl int, iface *net.Interface) {
	group := &net.UDPAddr{IP: net.ParseIP(addr), Port: port}
	mg, err := joinMulticast(group, iface, ttl)
	if err != nil {
		o.logger.Warn().Err(err).Str("group", addr).Msg("outlet: multicast group unavailable, skipping")
		return
	}
	o.mcastGroups = append(o.mcastGroups, mg)
	srv := udp.NewServer(mg.conn, o.descriptor, false, o.logger)
	o.udpServers = append(o.udpServers, srv)
}

func (o *Outlet) stampIdentity() {
	if h, err := os.Hostname(); err == nil {
		o.descriptor.SetHostname(h)
	}
	o.descriptor.SetSessionID(o.cfg.Lab.SessionID)
}

func (o *Outlet) beginServing() {
	for _, s := range o.tcpServers {
		s.BeginServing()
	}
	for _, s := range o.udpServers {
		s.BeginServing()
	}
}

// Close tears down every bound server (spec §4.8: "call end_serving on
// each server"). Safe to call whether or not any consumers ever attached,
// and safe to call multiple times.
func (o *Outlet) Close() {
	for _, s := range o.tcpServers {
		s.EndServing()
	}
	for _, s := range o.udpServers {
		s.EndServing()
	}
	for _, g := range o.mcastGroups {
		_ = g.Close()
	}
}

// PushSample allocates a sample from the outlet's pool, fills it from
// values, and fans it out to every attached consumer (spec §6). timestamp
// of api.DeducedTimestamp defers timestamping to the reader per sample
// framing rules.
func (o *Outlet) PushSample(values []float64, timestamp float64, pushthrough bool) error {
	if timestamp == 0 {
		timestamp = api.LocalClock()
	}
	s := o.pool.Allocate(timestamp, pushthrough)
	if err := fillNumeric(s, values); err != nil {
		s.Release()
		return err
	}
	o.sendBuffer.Push(s)
	return nil
}

// PushChunk pushes a slice of per-sample value vectors, sharing one
// capture-time base the way a regular-rate producer's batch submit would
// (spec §6: push_chunk).
func (o *Outlet) PushChunk(rows [][]float64, timestamp float64, pushthrough bool) error {
	if timestamp == 0 {
		timestamp = api.LocalClock()
	}
	rate := o.descriptor.NominalRate()
	for i, row := range rows {
		ts := timestamp
		if rate > 0 && i > 0 {
			ts = timestamp + float64(i)/rate
		}
		if err := o.PushSample(row, ts, pushthrough && i == len(rows)-1); err != nil {
			return err
		}
	}
	return nil
}

// PushStringSample pushes one multi-channel string-format sample.
func (o *Outlet) PushStringSample(values []string, timestamp float64, pushthrough bool) error {
	if timestamp == 0 {
		timestamp = api.LocalClock()
	}
	s := o.pool.Allocate(timestamp, pushthrough)
	if len(values) != s.Channels {
		s.Release()
		return fmt.Errorf("outlet: expected %d channels, got %d", s.Channels, len(values))
	}
	for i, v := range values {
		s.Strings[i] = []byte(v)
	}
	o.sendBuffer.Push(s)
	return nil
}

// HaveConsumers reports whether at least one inlet is currently attached.
func (o *Outlet) HaveConsumers() bool { return o.sendBuffer.HaveConsumers() }

// WaitForConsumers blocks until at least one consumer attaches or timeout
// elapses.
func (o *Outlet) WaitForConsumers(timeout time.Duration) bool {
	return o.sendBuffer.WaitForConsumers(timeout)
}

// Descriptor returns the outlet's stream descriptor.
func (o *Outlet) Descriptor() *streaminfo.Descriptor { return o.descriptor }

func fillNumeric(s *sample.Sample, values []float64) error {
	if len(values) != s.Channels {
		return fmt.Errorf("outlet: expected %d channels, got %d", s.Channels, len(values))
	}
	width := s.Format.Size()
	for i, v := range values {
		putNumeric(s.Numeric[i*width:(i+1)*width], s.Format, v)
	}
	return nil
}

// PushNumericRaw pushes a pre-encoded native-endian payload directly,
// bypassing per-value conversion (spec §6: push_numeric_raw), for callers
// that already hold samples packed in the stream's wire layout.
func (o *Outlet) PushNumericRaw(payload []byte, timestamp float64, pushthrough bool) error {
	if timestamp == 0 {
		timestamp = api.LocalClock()
	}
	s := o.pool.Allocate(timestamp, pushthrough)
	if len(payload) != len(s.Numeric) {
		s.Release()
		return fmt.Errorf("outlet: expected %d raw bytes, got %d", len(s.Numeric), len(payload))
	}
	copy(s.Numeric, payload)
	o.sendBuffer.Push(s)
	return nil
}
