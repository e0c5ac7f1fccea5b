package tcp_test

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/dispatch"
	"github.com/momentics/labstream/core/sample"
	"github.com/momentics/labstream/core/streaminfo"
	"github.com/momentics/labstream/core/wire"
	"github.com/momentics/labstream/transport/tcp"
)

func newFixture(t *testing.T) (net.Conn, *streaminfo.Descriptor, *dispatch.SendBuffer, *sample.Pool, *tcp.Server) {
	t.Helper()
	desc := streaminfo.New("Bounce", "Marker", 1, 0, api.FormatInt8, "")
	pool := sample.NewPool(desc.ChannelFormat(), desc.ChannelCount(), 4)
	sendBuffer := dispatch.New()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := tcp.NewServer(ln, desc, sendBuffer, pool, 110, 0, zerolog.Nop())
	srv.BeginServing()
	t.Cleanup(srv.EndServing)

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn, desc, sendBuffer, pool, srv
}

func writeStreamfeedRequest(conn net.Conn, uid string, byteOrder int) error {
	var b strings.Builder
	fmt.Fprintf(&b, "LSL:streamfeed/110 %s\r\n", uid)
	fmt.Fprintf(&b, "Native-Byte-Order: %d\r\n", byteOrder)
	fmt.Fprintf(&b, "Has-IEEE754-Floats: 1\r\n")
	fmt.Fprintf(&b, "Supports-Subnormals: 1\r\n")
	fmt.Fprintf(&b, "Value-Size: 1\r\n")
	fmt.Fprintf(&b, "Data-Protocol-Version: 110\r\n")
	fmt.Fprintf(&b, "Max-Buffer-Length: 1\r\n")
	fmt.Fprintf(&b, "Max-Chunk-Length: 0\r\n")
	b.WriteString("\r\n")
	_, err := conn.Write([]byte(b.String()))
	return err
}

func readStatusAndHeaders(br *bufio.Reader) (int, map[string]string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return 0, nil, err
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, nil, fmt.Errorf("malformed status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, nil, err
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
			headers[strings.ToLower(strings.TrimSpace(hline[:sep]))] = strings.TrimSpace(hline[sep+1:])
		}
	}
	return code, headers, nil
}

// TestStreamfeedHandshakeAndStream drives the full >=1.10 handshake from a
// raw socket: status 200, the two test-pattern samples, then a live sample
// pushed through the SendBuffer after the session has registered (spec
// §4.6, the "Bounce" scenario's transport leg).
func TestStreamfeedHandshakeAndStream(t *testing.T) {
	conn, desc, sendBuffer, pool, _ := newFixture(t)
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	br := bufio.NewReader(conn)

	if err := writeStreamfeedRequest(conn, desc.UID(), wire.NativeOrder()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	status, headers, err := readStatusAndHeaders(br)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != 200 {
		t.Fatalf("expected status 200, got %d", status)
	}
	byteOrder, _ := strconv.Atoi(headers["byte-order"])

	for _, offset := range []int{2, 4} {
		want := wire.GenerateTestPattern(pool, desc.ChannelFormat(), desc.ChannelCount(), offset)
		got, err := wire.ReadSample(br, pool, desc.ChannelFormat(), desc.ChannelCount(), byteOrder, false)
		if err != nil {
			want.Release()
			t.Fatalf("read test pattern offset %d: %v", offset, err)
		}
		if !wire.EqualTestPattern(want, got) {
			want.Release()
			got.Release()
			t.Fatalf("test pattern mismatch at offset %d", offset)
		}
		want.Release()
		got.Release()
	}

	deadline := time.Now().Add(2 * time.Second)
	for !sendBuffer.HaveConsumers() {
		if time.Now().After(deadline) {
			t.Fatalf("session never registered as a consumer")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s := pool.Allocate(1.5, true)
	s.Numeric[0] = 0x01
	sendBuffer.Push(s)

	got, err := wire.ReadSample(br, pool, desc.ChannelFormat(), desc.ChannelCount(), byteOrder, false)
	if err != nil {
		t.Fatalf("read streamed sample: %v", err)
	}
	defer got.Release()
	if got.Numeric[0] != 0x01 {
		t.Fatalf("expected streamed value 0x01, got %#x", got.Numeric[0])
	}
}

// TestStreamfeedRejectsUnknownUID confirms a request for a UID this server
// no longer serves is refused with a 404, not served stale data.
func TestStreamfeedRejectsUnknownUID(t *testing.T) {
	conn, _, _, _, _ := newFixture(t)
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(conn)

	if err := writeStreamfeedRequest(conn, "not-the-real-uid", wire.NativeOrder()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	status, _, err := readStatusAndHeaders(br)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != 404 {
		t.Fatalf("expected status 404 for an unknown UID, got %d", status)
	}
}

// TestStreamfeedRejectsMixedByteOrder covers the boundary behavior of spec
// §8: "Endian negotiation with a [mixed] peer is refused with a handshake
// error, not silently misread."
func TestStreamfeedRejectsMixedByteOrder(t *testing.T) {
	conn, desc, _, _, _ := newFixture(t)
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(conn)

	if err := writeStreamfeedRequest(conn, desc.UID(), 9999); err != nil {
		t.Fatalf("write request: %v", err)
	}

	status, _, err := readStatusAndHeaders(br)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != 400 {
		t.Fatalf("expected status 400 for an unsupported byte order, got %d", status)
	}
}

// TestFullInfoRequest confirms the plain LSL:fullinfo request returns the
// descriptor's full XML, independent of the streamfeed handshake.
func TestFullInfoRequest(t *testing.T) {
	conn, desc, _, _, _ := newFixture(t)
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte("LSL:fullinfo\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read full info: %v", err)
	}
	if !strings.Contains(string(buf[:n]), desc.UID()) {
		t.Fatalf("expected full info response to carry the descriptor UID")
	}
}
