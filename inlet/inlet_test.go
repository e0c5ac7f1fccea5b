package inlet_test

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/config"
	"github.com/momentics/labstream/core/streaminfo"
	"github.com/momentics/labstream/inlet"
	"github.com/momentics/labstream/outlet"
)

func forceLoopback(t *testing.T, o *outlet.Outlet) {
	t.Helper()
	_, dataPort, servicePort := o.Descriptor().TransportV4()
	if dataPort == 0 && servicePort == 0 {
		t.Fatalf("outlet did not bind an IPv4 transport")
	}
	o.Descriptor().SetTransportAddresses("127.0.0.1", dataPort, servicePort, "", 0, 0)
}

// TestRecovery implements spec §8 scenario 5: an inlet attached to a
// source_id="S1" outlet keeps pulling from a brand-new outlet instance
// (different UID, same name/type/channels/source_id) once the original is
// torn down, within the watchdog threshold. Exercises the comment-2 fix
// directly: without it the watchdog never notices the dead connection.
func TestRecovery(t *testing.T) {
	cfg := config.Get()
	prevCheck, prevThreshold, prevPeers := cfg.Tuning.WatchdogCheckInterval, cfg.Tuning.WatchdogTimeThreshold, cfg.Lab.KnownPeers
	cfg.Tuning.WatchdogCheckInterval = 0.05
	cfg.Tuning.WatchdogTimeThreshold = 0.05
	cfg.Lab.KnownPeers = []string{"127.0.0.1"}
	t.Cleanup(func() {
		cfg.Tuning.WatchdogCheckInterval = prevCheck
		cfg.Tuning.WatchdogTimeThreshold = prevThreshold
		cfg.Lab.KnownPeers = prevPeers
	})

	desc1 := streaminfo.New("Recover", "EEG", 1, 0, api.FormatInt8, "S1")
	o1, err := outlet.New(desc1, 0, 360, zerolog.Nop())
	if err != nil {
		t.Fatalf("outlet.New (first): %v", err)
	}
	forceLoopback(t, o1)

	in, err := inlet.Open(desc1, 1, 0, true, api.ProcNone, zerolog.Nop())
	if err != nil {
		t.Fatalf("inlet.Open: %v", err)
	}
	defer in.Close()

	if err := in.OpenStream(2 * time.Second); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if !o1.WaitForConsumers(2 * time.Second) {
		t.Fatalf("first outlet never saw a consumer attach")
	}
	if err := o1.PushSample([]float64{1}, 0, true); err != nil {
		t.Fatalf("PushSample (first outlet): %v", err)
	}
	if values, _, err := in.PullSample(time.Second); err != nil || values[0] != 1 {
		t.Fatalf("expected initial pull of [1] from the first outlet, got %v, err %v", values, err)
	}

	o1.Close()

	desc2 := streaminfo.New("Recover", "EEG", 1, 0, api.FormatInt8, "S1")
	if desc2.UID() == desc1.UID() {
		t.Fatalf("expected the replacement outlet to mint a distinct UID")
	}
	o2, err := outlet.New(desc2, 0, 360, zerolog.Nop())
	if err != nil {
		t.Fatalf("outlet.New (second): %v", err)
	}
	defer o2.Close()
	forceLoopback(t, o2)

	deadline := time.Now().Add(10 * time.Second)
	for {
		o2.PushSample([]float64{2}, 0, true)
		values, _, err := in.PullSample(300 * time.Millisecond)
		if err == nil {
			if values[0] != 2 {
				t.Fatalf("expected recovered pull of [2], got %v", values)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("inlet never recovered onto the replacement outlet: %v", err)
		}
	}
}

// TestTimeCorrection implements spec §8 scenario 6: a colocated outlet and
// inlet exchange NTP-style probes with |offset| and uncertainty both under
// 10ms, since both share the same process clock over loopback.
func TestTimeCorrection(t *testing.T) {
	desc := streaminfo.New("Clock", "Marker", 1, 0, api.FormatInt8, "")
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

	offset, _, uncertainty, err := in.TimeCorrection(3 * time.Second)
	if err != nil {
		t.Fatalf("TimeCorrection: %v", err)
	}
	if math.Abs(offset) >= 0.010 {
		t.Fatalf("expected |offset| < 10ms, got %v", offset)
	}
	if uncertainty >= 0.010 {
		t.Fatalf("expected uncertainty < 10ms, got %v", uncertainty)
	}
}
