package resolve_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/config"
	"github.com/momentics/labstream/core/streaminfo"
	"github.com/momentics/labstream/outlet"
	"github.com/momentics/labstream/resolve"
)

// TestResolutionByPredicate implements spec §8 scenario 4: an outlet
// name='BioSemi', type='EEG', 32 channels, source_id='S1' is found by a
// predicate query naming its type, with the reply's UID matching the
// outlet's. Uses the unicast KnownPeers fallback rather than IP multicast,
// since multicast is frequently unavailable in a sandboxed test network
// namespace; both paths exercise the same shortinfo-query/match logic.
func TestResolutionByPredicate(t *testing.T) {
	cfg := config.Get()
	prevPeers := cfg.Lab.KnownPeers
	cfg.Lab.KnownPeers = []string{"127.0.0.1"}
	t.Cleanup(func() { cfg.Lab.KnownPeers = prevPeers })

	desc := streaminfo.New("BioSemi", "EEG", 32, 512, api.FormatFloat32, "S1")
	o, err := outlet.New(desc, 0, 360, zerolog.Nop())
	if err != nil {
		t.Fatalf("outlet.New: %v", err)
	}
	defer o.Close()

	_, dataPort, servicePort := o.Descriptor().TransportV4()
	if servicePort == 0 {
		t.Fatalf("outlet did not bind an IPv4 service port")
	}
	o.Descriptor().SetTransportAddresses("127.0.0.1", dataPort, servicePort, "", 0, 0)

	results, err := resolve.New(zerolog.Nop()).Oneshot("type='EEG'", 1, 2*time.Second, 0)
	if err != nil {
		t.Fatalf("Oneshot: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one result, got %d", len(results))
	}
	if results[0].UID() != desc.UID() {
		t.Fatalf("expected result UID %q, got %q", desc.UID(), results[0].UID())
	}
}
