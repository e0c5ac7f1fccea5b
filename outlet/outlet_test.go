package outlet_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/streaminfo"
	"github.com/momentics/labstream/inlet"
	"github.com/momentics/labstream/outlet"
)

// forceLoopback rewrites a freshly bound outlet's advertised v4 address to
// 127.0.0.1, isolating tests from whatever non-loopback interfaces (or lack
// thereof) happen to be present in the environment.
func forceLoopback(t *testing.T, o *outlet.Outlet) {
	t.Helper()
	_, dataPort, servicePort := o.Descriptor().TransportV4()
	if dataPort == 0 && servicePort == 0 {
		t.Fatalf("outlet did not bind an IPv4 transport")
	}
	o.Descriptor().SetTransportAddresses("127.0.0.1", dataPort, servicePort, "", 0, 0)
}

// TestBounce implements spec §8 scenario 1: a one-channel int8 outlet at
// rate 0, a matching inlet, one pushed sample pulled back unchanged with a
// plausible timestamp.
func TestBounce(t *testing.T) {
	desc := streaminfo.New("Bounce", "Marker", 1, 0, api.FormatInt8, "")
	o, err := outlet.New(desc, 0, 360, zerolog.Nop())
	if err != nil {
		t.Fatalf("outlet.New: %v", err)
	}
	defer o.Close()
	forceLoopback(t, o)

	in, err := inlet.Open(desc, 1, 0, false, api.ProcNone, zerolog.Nop())
	if err != nil {
		t.Fatalf("inlet.Open: %v", err)
	}
	defer in.Close()

	if err := in.OpenStream(2 * time.Second); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if !o.WaitForConsumers(2 * time.Second) {
		t.Fatalf("outlet never saw a consumer attach")
	}

	pushTime := api.LocalClock()
	if err := o.PushSample([]float64{1}, pushTime, true); err != nil {
		t.Fatalf("PushSample: %v", err)
	}

	values, ts, err := in.PullSample(500 * time.Millisecond)
	if err != nil {
		t.Fatalf("PullSample: %v", err)
	}
	if len(values) != 1 || values[0] != 1 {
		t.Fatalf("expected [1], got %v", values)
	}
	now := api.LocalClock()
	if ts < pushTime-0.5 || ts > now+0.5 {
		t.Fatalf("timestamp %v outside plausible window [%v, %v]", ts, pushTime-0.5, now+0.5)
	}
}

// TestMultichannelInt16RoundTrip implements spec §8 scenario 2.
func TestMultichannelInt16RoundTrip(t *testing.T) {
	desc := streaminfo.New("Multichannel", "Marker", 16, 0, api.FormatInt16, "")
	o, err := outlet.New(desc, 0, 360, zerolog.Nop())
	if err != nil {
		t.Fatalf("outlet.New: %v", err)
	}
	defer o.Close()
	forceLoopback(t, o)

	in, err := inlet.Open(desc, 1, 0, false, api.ProcNone, zerolog.Nop())
	if err != nil {
		t.Fatalf("inlet.Open: %v", err)
	}
	defer in.Close()

	if err := in.OpenStream(2 * time.Second); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	o.WaitForConsumers(2 * time.Second)

	want := make([]float64, 16)
	for i := range want {
		sign := 1.0
		if i%2 != 0 {
			sign = -1.0
		}
		want[i] = sign * float64(i/2+1)
	}
	if err := o.PushSample(want, 0, true); err != nil {
		t.Fatalf("PushSample: %v", err)
	}

	got, _, err := in.PullSample(500 * time.Millisecond)
	if err != nil {
		t.Fatalf("PullSample: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d channels, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("channel %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

// TestLargeStringRoundTrip implements spec §8 scenario 3: a 1 MiB string
// channel alongside an empty one, byte-exact on pull.
func TestLargeStringRoundTrip(t *testing.T) {
	desc := streaminfo.New("LargeString", "Marker", 2, 0, api.FormatString, "")
	o, err := outlet.New(desc, 0, 8, zerolog.Nop())
	if err != nil {
		t.Fatalf("outlet.New: %v", err)
	}
	defer o.Close()
	forceLoopback(t, o)

	in, err := inlet.Open(desc, 5, 0, false, api.ProcNone, zerolog.Nop())
	if err != nil {
		t.Fatalf("inlet.Open: %v", err)
	}
	defer in.Close()

	if err := in.OpenStream(2 * time.Second); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	o.WaitForConsumers(2 * time.Second)

	big := make([]byte, 1<<20)
	for i := range big {
		big[i] = 'x'
	}
	want := []string{"", string(big)}
	if err := o.PushStringSample(want, 0, true); err != nil {
		t.Fatalf("PushStringSample: %v", err)
	}

	got, _, err := in.PullStringSample(2 * time.Second)
	if err != nil {
		t.Fatalf("PullStringSample: %v", err)
	}
	if len(got) != 2 || got[0] != "" || got[1] != want[1] {
		t.Fatalf("string sample did not round-trip byte-exact")
	}
}
