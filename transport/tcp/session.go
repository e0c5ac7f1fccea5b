// File: transport/tcp/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection state machine for the TCP data server (spec §4.6, C6):
// AwaitingRequest -> ParsingHeaders -> WritingResponse -> SendingTestPattern
// -> Streaming -> Closing. Request-line/header parsing is grounded on the
// teacher's transport/tcp/listener.go handleConn (bufio.Reader.ReadString,
// lower-cased header map, blank-line terminator), generalized from the
// HTTP/WebSocket upgrade grammar to LSL's text handshake.
package tcp

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/dispatch"
	"github.com/momentics/labstream/core/wire"
	sessionreg "github.com/momentics/labstream/internal/session"
	"github.com/momentics/labstream/internal/xferbuf"
)

// State names a session's position in the C6 state machine.
type State int

const (
	AwaitingRequest State = iota
	ParsingHeaders
	WritingResponse
	SendingTestPattern
	Streaming
	Closing
)

const handshakeTimeout = 5 * time.Second

type session struct {
	conn   net.Conn
	server *Server
	state  State

	consumer *dispatch.Consumer
	regTok   sessionreg.Token
	regd     bool
}

func newSession(conn net.Conn, server *Server) *session {
	return &session{conn: conn, server: server, state: AwaitingRequest}
}

func (s *session) run() {
	defer func() {
		if r := recover(); r != nil {
			s.server.logRecover(r)
		}
		s.close()
	}()

	s.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	br := bufio.NewReader(s.conn)

	s.state = AwaitingRequest
	reqLine, err := br.ReadString('\n')
	if err != nil {
		return
	}
	reqLine = strings.TrimRight(reqLine, "\r\n")

	switch {
	case reqLine == "LSL:fullinfo":
		s.serveFullInfo()
	case reqLine == "LSL:streamfeed":
		s.serveStreamfeed100(br)
	case strings.HasPrefix(reqLine, "LSL:streamfeed/"):
		s.serveStreamfeed110(br, reqLine)
	default:
		// Unrecognized request line: close without a response.
	}
}

func (s *session) serveFullInfo() {
	s.state = WritingResponse
	io := s.server.descriptor.FullInfo()
	s.conn.Write([]byte(io))
}

// serveStreamfeed110 implements the >=1.10 handshake: request headers,
// status-line + header response, test pattern exchange, then streaming.
func (s *session) serveStreamfeed110(br *bufio.Reader, reqLine string) {
	s.state = ParsingHeaders
	parts := strings.SplitN(reqLine, " ", 2)
	if len(parts) != 2 {
		s.writeStatus(400, "Malformed request line")
		return
	}
	uid := parts[1]
	if uid != s.server.descriptor.UID() {
		s.writeStatus(404, "UID no longer served")
		return
	}

	headers, err := readHeaders(br)
	if err != nil {
		s.writeStatus(400, "Malformed headers")
		return
	}

	req := parseRequestHeaders(headers)
	negotiated, err := s.server.negotiate(req)
	if err != nil {
		s.writeStatus(400, err.Error())
		return
	}

	s.state = WritingResponse
	if err := s.writeResponseHeaders(negotiated); err != nil {
		return
	}

	s.state = SendingTestPattern
	if err := s.exchangeTestPattern(negotiated); err != nil {
		return
	}

	s.stream(negotiated, req.maxBufLen, req.maxChunkLen)
}

func (s *session) writeStatus(code int, message string) {
	fmt.Fprintf(s.conn, "LSL/%d %d %s\r\n\r\n", s.server.protocolVersion, code, message)
}

func (s *session) writeResponseHeaders(n negotiation) error {
	var b strings.Builder
	fmt.Fprintf(&b, "LSL/%d 200 OK\r\n", s.server.protocolVersion)
	fmt.Fprintf(&b, "Byte-Order: %d\r\n", n.byteOrder)
	fmt.Fprintf(&b, "Suppress-Subnormals: %d\r\n", boolToInt(n.suppressSubnormals))
	fmt.Fprintf(&b, "UID: %s\r\n", s.server.descriptor.UID())
	fmt.Fprintf(&b, "Data-Protocol-Version: %d\r\n", n.protocolVersion)
	b.WriteString("\r\n")
	_, err := s.conn.Write([]byte(b.String()))
	return err
}

func (s *session) exchangeTestPattern(n negotiation) error {
	format := s.server.descriptor.ChannelFormat()
	channels := s.server.descriptor.ChannelCount()

	for _, offset := range []int{2, 4} {
		local := wire.GenerateTestPattern(s.server.pool, format, channels, offset)
		if err := wire.WriteSample(s.conn, local, n.byteOrder, true); err != nil {
			local.Release()
			return err
		}
		local.Release()
	}
	return nil
}

func (s *session) stream(n negotiation, maxBufLen, maxChunkLen float64) {
	s.state = Streaming
	s.conn.SetDeadline(time.Time{})

	bufSamples := xferbuf.SampleCount(maxBufLen, xferbuf.UnitSamples, s.server.descriptor.NominalRate())
	s.consumer = s.server.sendBuffer.NewConsumer(bufSamples, s.server.globalMaxBuffered)
	s.regTok, s.regd = s.server.register(s), true
	defer s.unregisterSelf()
	defer s.consumer.Close()

	for {
		sample, ok := s.consumer.Pop(500 * time.Millisecond)
		if !ok {
			if s.server.isClosed() {
				return
			}
			continue
		}
		err := wire.WriteSample(s.conn, sample, n.byteOrder, sample.Timestamp == api.DeducedTimestamp)
		sample.Release()
		if err != nil {
			return
		}
	}
}

// serveStreamfeed100 implements the 1.00 handshake: "<max_buf> <max_chunk>"
// followed by a portable-archive-wrapped shortinfo, the test pattern, then
// archive-framed samples (spec §4.5's "Handshake (1.00)" and "Sample
// framing (protocol 1.00)").
func (s *session) serveStreamfeed100(br *bufio.Reader) {
	s.state = ParsingHeaders
	line, err := br.ReadString('\n')
	if err != nil {
		return
	}
	fields := strings.Fields(line)
	var maxBuf, maxChunk float64
	if len(fields) >= 1 {
		maxBuf, _ = strconv.ParseFloat(fields[0], 64)
	}
	if len(fields) >= 2 {
		maxChunk, _ = strconv.ParseFloat(fields[1], 64)
	}

	s.state = WritingResponse
	if err := wire.WriteArchiveHeader(s.conn); err != nil {
		return
	}
	if err := wire.WriteArchiveString(s.conn, []byte(s.server.descriptor.ShortInfo())); err != nil {
		return
	}

	s.state = SendingTestPattern
	format := s.server.descriptor.ChannelFormat()
	channels := s.server.descriptor.ChannelCount()
	for _, offset := range []int{2, 4} {
		local := wire.GenerateTestPattern(s.server.pool, format, channels, offset)
		werr := wire.WriteArchiveSample(s.conn, local)
		local.Release()
		if werr != nil {
			return
		}
	}

	s.streamArchive(maxBuf, maxChunk)
}

func (s *session) streamArchive(maxBufLen, maxChunkLen float64) {
	s.state = Streaming
	s.conn.SetDeadline(time.Time{})

	bufSamples := xferbuf.SampleCount(maxBufLen, xferbuf.UnitSamples, s.server.descriptor.NominalRate())
	s.consumer = s.server.sendBuffer.NewConsumer(bufSamples, s.server.globalMaxBuffered)
	s.regTok, s.regd = s.server.register(s), true
	defer s.unregisterSelf()
	defer s.consumer.Close()

	for {
		sample, ok := s.consumer.Pop(500 * time.Millisecond)
		if !ok {
			if s.server.isClosed() {
				return
			}
			continue
		}
		err := wire.WriteArchiveSample(s.conn, sample)
		sample.Release()
		if err != nil {
			return
		}
	}
}

func (s *session) unregisterSelf() {
	if s.regd {
		s.server.unregister(s.regTok)
		s.regd = false
	}
}

func (s *session) close() {
	s.state = Closing
	s.conn.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// readHeaders reads "Key: value\r\n" lines until a blank line, lower-casing
// keys, matching the teacher's handleConn header loop.
func readHeaders(br *bufio.Reader) (map[string]string, error) {
	headers := map[string]string{}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		if sep := strings.Index(line, ":"); sep > 0 {
			key := strings.ToLower(strings.TrimSpace(line[:sep]))
			val := strings.TrimSpace(line[sep+1:])
			headers[key] = val
		}
	}
	return headers, nil
}

type requestHeaders struct {
	nativeByteOrder    int
	endianPerformance  float64
	hasIEEEFloats      bool
	supportsSubnormals bool
	valueSize          int
	protocolVersion    int
	maxBufLen          float64
	maxChunkLen        float64
	hostname           string
	sourceID           string
	sessionID          string
}

func parseRequestHeaders(h map[string]string) requestHeaders {
	r := requestHeaders{protocolVersion: 100}
	if v, err := strconv.Atoi(h["native-byte-order"]); err == nil {
		r.nativeByteOrder = v
	}
	if v, err := strconv.ParseFloat(h["endian-performance"], 64); err == nil {
		r.endianPerformance = v
	}
	r.hasIEEEFloats = h["has-ieee754-floats"] == "1"
	r.supportsSubnormals = h["supports-subnormals"] == "1"
	if v, err := strconv.Atoi(h["value-size"]); err == nil {
		r.valueSize = v
	}
	if v, err := strconv.Atoi(h["data-protocol-version"]); err == nil {
		r.protocolVersion = v
	}
	if v, err := strconv.ParseFloat(h["max-buffer-length"], 64); err == nil {
		r.maxBufLen = v
	}
	if v, err := strconv.ParseFloat(h["max-chunk-length"], 64); err == nil {
		r.maxChunkLen = v
	}
	r.hostname = h["hostname"]
	r.sourceID = h["source-id"]
	r.sessionID = h["session-id"]
	return r
}
