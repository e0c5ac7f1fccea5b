// File: inlet/data.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Data receiver: dials the remote streamfeed port, runs the >=1.10 text
// handshake from the client side (mirroring transport/tcp/negotiate.go and
// session.go's server-side logic), validates the two test-pattern samples,
// then streams decoded samples into the pull queue with post-processed
// timestamps. Protocol 1.00's portable-archive fallback is not implemented
// client-side: config.Tuning.UseProtocolVersion defaults to 110 and every
// outlet in this module only ever negotiates down to what the client
// offers, so a inlet that always offers >=1.10 never exercises it.
package inlet

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/wire"
	"github.com/momentics/labstream/internal/xferbuf"
)

const dataHandshakeTimeout = 5 * time.Second

type dataNegotiation struct {
	protocolVersion    int
	byteOrder          int
	suppressSubnormals bool
}

// connCancellable adapts a net.Conn to session.Cancellable.
type connCancellable struct{ conn net.Conn }

func (c connCancellable) Cancel() { _ = c.conn.Close() }

// dataLoop is the reconnect loop for the data receiver: it waits until a
// stream pull has been requested, dials, handshakes, streams until error or
// cancellation, then retries with backoff, grounded on client/client.go's
// connect()/dialAndHandshake() attempt-counter shape.
func (in *Inlet) dataLoop() {
	defer in.wg.Done()
	attempts := 0
	for {
		select {
		case <-in.stop:
			return
		default:
		}

		in.connectMu.Lock()
		wanted := in.dataWanted
		in.connectMu.Unlock()
		if !wanted {
			if !sleepOrStop(in.stop, 50*time.Millisecond) {
				return
			}
			continue
		}

		ep := in.bundle.current()
		if err := in.runDataConnection(ep); err != nil {
			in.logger.Warn().Err(err).Str("host", ep.host).Msg("inlet: data connection failed")
			attempts++
			if !in.recoverEnabled() && attempts >= maxDirectReconnectAttempts {
				in.bundle.setLost(true)
				return
			}
			if !sleepOrStop(in.stop, time.Duration(attempts)*100*time.Millisecond) {
				return
			}
			continue
		}
		attempts = 0
	}
}

const maxDirectReconnectAttempts = 10

func (in *Inlet) recoverEnabled() bool { return in.recoverSourceID != "" }

// sleepOrStop sleeps for d unless stop fires first; returns false if stop
// fired.
func sleepOrStop(stop chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

// runDataConnection dials, handshakes, and streams until the connection
// ends (error, remote close, or watchdog cancellation). It registers the
// live connection with the inlet's cancellable registry for the duration.
func (in *Inlet) runDataConnection(ep endpoint) error {
	conn, err := net.DialTimeout("tcp", netAddr(ep, ep.dataPort), dataHandshakeTimeout)
	if err != nil {
		return fmt.Errorf("inlet: dial: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(dataHandshakeTimeout))
	br := bufio.NewReader(conn)

	neg, err := in.handshake(conn, br, ep)
	if err != nil {
		return err
	}

	tok := in.registry.Register(connCancellable{conn: conn})
	defer in.registry.Unregister(tok)

	conn.SetDeadline(time.Time{})
	in.bundle.beginTransmission()
	in.dataConnActive.Store(true)
	defer func() {
		in.dataConnActive.Store(false)
		in.bundle.endTransmission()
	}()

	return in.streamLoop(br, neg)
}

func (in *Inlet) handshake(conn net.Conn, br *bufio.Reader, ep endpoint) (dataNegotiation, error) {
	if err := in.writeRequest(conn, ep); err != nil {
		return dataNegotiation{}, err
	}

	status, headers, err := readStatusAndHeaders(br)
	if err != nil {
		return dataNegotiation{}, fmt.Errorf("inlet: read handshake response: %w", err)
	}
	if status != 200 {
		return dataNegotiation{}, fmt.Errorf("inlet: handshake rejected: status %d", status)
	}

	neg := dataNegotiation{protocolVersion: 100}
	if v, err := strconv.Atoi(headers["byte-order"]); err == nil {
		neg.byteOrder = v
	}
	neg.suppressSubnormals = headers["suppress-subnormals"] == "1"
	if v, err := strconv.Atoi(headers["data-protocol-version"]); err == nil {
		neg.protocolVersion = v
	}

	if err := in.exchangeTestPattern(conn, br, neg); err != nil {
		return dataNegotiation{}, err
	}
	return neg, nil
}

func (in *Inlet) writeRequest(conn net.Conn, ep endpoint) error {
	var b strings.Builder
	fmt.Fprintf(&b, "LSL:streamfeed/%d %s\r\n", in.cfg.Tuning.UseProtocolVersion, ep.uid)
	fmt.Fprintf(&b, "Native-Byte-Order: %d\r\n", wire.NativeOrder())
	fmt.Fprintf(&b, "Has-IEEE754-Floats: 1\r\n")
	fmt.Fprintf(&b, "Supports-Subnormals: 1\r\n")
	fmt.Fprintf(&b, "Value-Size: %d\r\n", in.format.Size())
	fmt.Fprintf(&b, "Data-Protocol-Version: %d\r\n", in.cfg.Tuning.UseProtocolVersion)
	fmt.Fprintf(&b, "Max-Buffer-Length: %d\r\n", xferbuf.SampleCount(in.maxBufLen, xferbuf.UnitSeconds, in.rate))
	fmt.Fprintf(&b, "Max-Chunk-Length: %s\r\n", strconv.FormatFloat(in.maxChunkLen, 'f', -1, 64))
	if h, err := os.Hostname(); err == nil {
		fmt.Fprintf(&b, "Hostname: %s\r\n", h)
	}
	fmt.Fprintf(&b, "Session-Id: %s\r\n", in.cfg.Lab.SessionID)
	b.WriteString("\r\n")
	_, err := conn.Write([]byte(b.String()))
	return err
}

func (in *Inlet) exchangeTestPattern(conn net.Conn, br *bufio.Reader, neg dataNegotiation) error {
	for _, offset := range []int{2, 4} {
		local := wire.GenerateTestPattern(in.pool, in.format, in.channels, offset)
		remote, err := wire.ReadSample(br, in.pool, in.format, in.channels, neg.byteOrder, neg.suppressSubnormals)
		if err != nil {
			local.Release()
			return fmt.Errorf("inlet: test pattern read: %w", err)
		}
		equal := wire.EqualTestPattern(local, remote)
		local.Release()
		remote.Release()
		if !equal {
			return fmt.Errorf("inlet: test pattern mismatch at offset %d", offset)
		}
	}
	return nil
}

func (in *Inlet) streamLoop(br *bufio.Reader, neg dataNegotiation) error {
	var last float64
	for {
		select {
		case <-in.stop:
			return nil
		default:
		}

		s, err := wire.ReadSample(br, in.pool, in.format, in.channels, neg.byteOrder, neg.suppressSubnormals)
		if err != nil {
			return fmt.Errorf("inlet: read sample: %w", err)
		}
		in.bundle.updateReceiveTime(time.Now())

		if s.Timestamp == api.DeducedTimestamp && in.rate > 0 {
			s.Timestamp = last + 1/in.rate
		}
		last = s.Timestamp
		s.Timestamp = in.pp.Process(s.Timestamp)
		in.queue.Push(s)
	}
}

// readStatusAndHeaders parses "LSL/<ver> <code> <msg>\r\n" followed by
// "Key: value\r\n" lines until a blank line, matching session.go's
// writeResponseHeaders/writeStatus output.
func readStatusAndHeaders(br *bufio.Reader) (int, map[string]string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return 0, nil, err
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, nil, fmt.Errorf("inlet: malformed status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, nil, fmt.Errorf("inlet: malformed status code %q", line)
	}

	headers := map[string]string{}
	for {
		hline, err := br.ReadString('\n')
		if err != nil {
			return 0, nil, err
		}
		if hline == "\r\n" || hline == "\n" {
			break
		}
		if sep := strings.Index(hline, ":"); sep > 0 {
			key := strings.ToLower(strings.TrimSpace(hline[:sep]))
			val := strings.TrimSpace(hline[sep+1:])
			headers[key] = val
		}
	}
	return code, headers, nil
}
