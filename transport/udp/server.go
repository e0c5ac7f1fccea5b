// File: transport/udp/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server is the UDP discovery/time-probe responder of spec §4.7 (C7): one
// instance is bound either on a stream's unicast service port or on a
// multicast group's fixed discovery port, and answers LSL:shortinfo and
// LSL:timedata requests on the shared packet connection. Multicast
// instances carry timeEnabled=false (discovery-only), per spec §4.7.
//
// The accept-loop/goroutine-per-request shape and the recover()-guarded
// handler are grounded on the teacher's transport/tcp/listener.go accept
// loop, adapted from a stream-oriented TCP accept loop to UDP's
// datagram-oriented ReadFrom loop.
package udp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/streaminfo"
)

const maxDatagramSize = 64 * 1024

// Server answers shortinfo and timedata requests on one PacketConn.
type Server struct {
	conn        net.PacketConn
	descriptor  *streaminfo.Descriptor
	timeEnabled bool
	logger      zerolog.Logger

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

// NewServer wraps an already-bound PacketConn. timeEnabled is false for a
// multicast discovery listener (spec §4.7: "the multicast listener instance
// disables the time service").
func NewServer(conn net.PacketConn, descriptor *streaminfo.Descriptor, timeEnabled bool, logger zerolog.Logger) *Server {
	return &Server{
		conn:        conn,
		descriptor:  descriptor,
		timeEnabled: timeEnabled,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// LocalAddr returns the bound address, e.g. for stamping the descriptor's
// service port.
func (s *Server) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// BeginServing starts the receive loop on its own goroutine.
func (s *Server) BeginServing() {
	s.wg.Add(1)
	go s.serve()
}

// EndServing closes the socket, unblocking the receive loop, and waits for
// it to exit.
func (s *Server) EndServing() {
	s.Cancel()
	s.wg.Wait()
}

// Cancel closes the underlying socket; satisfies session.Cancellable so the
// outlet orchestrator can register it for coordinated shutdown.
func (s *Server) Cancel() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Server) serve() {
	defer s.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Warn().Err(err).Msg("udp: read failed")
				return
			}
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		go s.handle(payload, addr)
	}
}

func (s *Server) handle(payload []byte, from net.Addr) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("udp: recovered from panic handling request")
		}
	}()

	lines := splitLines(string(payload))
	if len(lines) == 0 {
		return
	}

	switch {
	case lines[0] == "LSL:shortinfo":
		s.handleShortInfo(lines, from)
	case lines[0] == "LSL:timedata":
		s.handleTimeData(lines, from)
	default:
		s.logger.Debug().Str("method", lines[0]).Msg("udp: unrecognized request")
	}
}

// handleShortInfo implements spec §4.5/§4.7's shortinfo exchange: a query
// predicate plus a return address, answered only when the query matches
// this outlet's descriptor.
func (s *Server) handleShortInfo(lines []string, from net.Addr) {
	if len(lines) < 3 {
		return
	}
	query := lines[1]
	fields := strings.Fields(lines[2])
	if len(fields) < 2 {
		return
	}
	returnPort, err := strconv.Atoi(fields[0])
	if err != nil {
		return
	}
	queryID := fields[1]

	if !s.descriptor.MatchesQuery(query) {
		return
	}

	host, _, err := net.SplitHostPort(from.String())
	if err != nil {
		return
	}
	replyAddr := net.JoinHostPort(host, strconv.Itoa(returnPort))
	udpAddr, err := net.ResolveUDPAddr(udpNetwork(from), replyAddr)
	if err != nil {
		s.logger.Warn().Err(err).Str("addr", replyAddr).Msg("udp: resolve reply addr failed")
		return
	}

	reply := fmt.Sprintf("%s\r\n%s", queryID, s.descriptor.ShortInfo())
	if _, err := s.conn.WriteTo([]byte(reply), udpAddr); err != nil {
		s.logger.Warn().Err(err).Msg("udp: shortinfo reply failed")
	}
}

// handleTimeData implements spec §4.5/§4.7's NTP-style time-probe exchange:
// t1 is this server's receive timestamp (captured before any further work),
// t2 its send timestamp.
func (s *Server) handleTimeData(lines []string, from net.Addr) {
	if !s.timeEnabled {
		return
	}
	t1 := api.LocalClock()
	if len(lines) < 2 {
		return
	}
	fields := strings.Fields(lines[1])
	if len(fields) < 2 {
		return
	}
	waveID := fields[0]
	t0 := fields[1]

	t2 := api.LocalClock()
	reply := fmt.Sprintf("%s %s %s %s\r\n", waveID, t0, formatFloat(t1), formatFloat(t2))
	if _, err := s.conn.WriteTo([]byte(reply), from); err != nil {
		s.logger.Warn().Err(err).Msg("udp: timedata reply failed")
	}
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func udpNetwork(addr net.Addr) string {
	if u, ok := addr.(*net.UDPAddr); ok && u.IP.To4() == nil {
		return "udp6"
	}
	return "udp"
}
