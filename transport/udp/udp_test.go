package udp_test

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/streaminfo"
	"github.com/momentics/labstream/transport/udp"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	return conn
}

// TestShortInfoMatchingQueryReplies exercises the shortinfo half of the
// resolution-by-predicate scenario (spec §8) at the wire level: a query
// matching the descriptor gets a reply carrying the same query id and the
// descriptor's short info.
func TestShortInfoMatchingQueryReplies(t *testing.T) {
	desc := streaminfo.New("BioSemi", "EEG", 32, 512, api.FormatFloat32, "S1")

	srvConn := listenLoopback(t)
	srv := udp.NewServer(srvConn, desc, true, zerolog.Nop())
	srv.BeginServing()
	defer srv.EndServing()

	returnConn := listenLoopback(t)
	defer returnConn.Close()
	returnPort := returnConn.LocalAddr().(*net.UDPAddr).Port

	req := udp.BuildShortInfoRequest("type='EEG'", returnPort, "q1")
	if _, err := returnConn.WriteTo(req, srvConn.LocalAddr()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	_ = returnConn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	n, _, err := returnConn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("expected a reply, got error: %v", err)
	}

	queryID, xml, ok := udp.ParseShortInfoReply(buf[:n])
	if !ok {
		t.Fatalf("reply did not parse")
	}
	if queryID != "q1" {
		t.Fatalf("expected query id q1, got %q", queryID)
	}

	parsed, err := streaminfo.Parse(xml)
	if err != nil {
		t.Fatalf("parse short info: %v", err)
	}
	if parsed.UID() != desc.UID() {
		t.Fatalf("expected reply to carry the outlet's UID")
	}
}

// TestShortInfoMismatchedQueryNoReply confirms a query that cannot match
// this descriptor draws no reply.
func TestShortInfoMismatchedQueryNoReply(t *testing.T) {
	desc := streaminfo.New("BioSemi", "EEG", 32, 512, api.FormatFloat32, "S1")

	srvConn := listenLoopback(t)
	srv := udp.NewServer(srvConn, desc, true, zerolog.Nop())
	srv.BeginServing()
	defer srv.EndServing()

	returnConn := listenLoopback(t)
	defer returnConn.Close()
	returnPort := returnConn.LocalAddr().(*net.UDPAddr).Port

	req := udp.BuildShortInfoRequest("type='Audio'", returnPort, "q2")
	if _, err := returnConn.WriteTo(req, srvConn.LocalAddr()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	_ = returnConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 4096)
	if _, _, err := returnConn.ReadFrom(buf); err == nil {
		t.Fatalf("expected no reply for a non-matching query")
	}
}

// TestTimeDataExchangeRoundTrip exercises the NTP-style probe (spec §4.5):
// the reply's t0 echoes the request and t1<=t2, both captured server-side.
func TestTimeDataExchangeRoundTrip(t *testing.T) {
	desc := streaminfo.New("Clock", "Marker", 1, 0, api.FormatInt8, "")

	srvConn := listenLoopback(t)
	srv := udp.NewServer(srvConn, desc, true, zerolog.Nop())
	srv.BeginServing()
	defer srv.EndServing()

	client := listenLoopback(t)
	defer client.Close()

	t0 := api.LocalClock()
	req := udp.BuildTimeDataRequest("7", t0)
	if _, err := client.WriteTo(req, srvConn.LocalAddr()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		t.Fatalf("expected a reply, got error: %v", err)
	}

	reply, ok := udp.ParseTimeDataReply(buf[:n])
	if !ok {
		t.Fatalf("reply did not parse")
	}
	if reply.WaveID != "7" {
		t.Fatalf("expected wave id 7, got %q", reply.WaveID)
	}
	if reply.T0 != t0 {
		t.Fatalf("expected echoed t0 %v, got %v", t0, reply.T0)
	}
	if reply.T1 > reply.T2 {
		t.Fatalf("expected t1<=t2, got t1=%v t2=%v", reply.T1, reply.T2)
	}
}

// TestTimeDataDisabledOnMulticastListener confirms a discovery-only
// multicast responder (timeEnabled=false) never answers timedata, matching
// spec §4.7's "the multicast listener instance disables the time service".
func TestTimeDataDisabledOnMulticastListener(t *testing.T) {
	desc := streaminfo.New("Clock", "Marker", 1, 0, api.FormatInt8, "")

	srvConn := listenLoopback(t)
	srv := udp.NewServer(srvConn, desc, false, zerolog.Nop())
	srv.BeginServing()
	defer srv.EndServing()

	client := listenLoopback(t)
	defer client.Close()

	req := udp.BuildTimeDataRequest("1", api.LocalClock())
	if _, err := client.WriteTo(req, srvConn.LocalAddr()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 4096)
	if _, _, err := client.ReadFrom(buf); err == nil {
		t.Fatalf("expected no timedata reply from a time-disabled listener")
	}
}
