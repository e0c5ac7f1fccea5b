package streaminfo_test

import (
	"strings"
	"testing"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/streaminfo"
	"github.com/momentics/labstream/internal/xferbuf"
)

func TestDescriptorIdentityGetters(t *testing.T) {
	d := streaminfo.New("BioSemi", "EEG", 32, 512, api.FormatFloat32, "S1")
	if d.Name() != "BioSemi" || d.Type() != "EEG" || d.ChannelCount() != 32 {
		t.Fatalf("unexpected identity: %q %q %d", d.Name(), d.Type(), d.ChannelCount())
	}
	if d.ChannelFormat() != api.FormatFloat32 {
		t.Fatalf("unexpected format %v", d.ChannelFormat())
	}
	if d.SourceID() != "S1" {
		t.Fatalf("unexpected source id %q", d.SourceID())
	}
	if d.UID() == "" {
		t.Fatalf("expected a generated uid")
	}
}

func TestDescriptorShortInfoOmitsDesc(t *testing.T) {
	d := streaminfo.New("Bounce", "Markers", 1, 0, api.FormatInt8, "")
	d.DescElement().CreateElement("channels").CreateElement("channel")

	short := d.ShortInfo()
	if strings.Contains(short, "channels") {
		t.Fatalf("shortinfo must not include desc subtree contents: %s", short)
	}
	full := d.FullInfo()
	if !strings.Contains(full, "channels") {
		t.Fatalf("fullinfo must include desc subtree contents: %s", full)
	}
}

func TestDescriptorResetUIDChangesValue(t *testing.T) {
	d := streaminfo.New("X", "Y", 1, 0, api.FormatInt8, "")
	before := d.UID()
	after := d.ResetUID()
	if after == before || d.UID() != after {
		t.Fatalf("expected uid to change and persist: before=%s after=%s current=%s", before, after, d.UID())
	}
}

func TestDescriptorMatchesEmptyQuery(t *testing.T) {
	d := streaminfo.New("Anything", "EEG", 4, 100, api.FormatFloat32, "")
	if !d.MatchesQuery("") {
		t.Fatalf("empty query must match every descriptor")
	}
}

func TestDescriptorMatchesPropertyPredicate(t *testing.T) {
	d := streaminfo.New("BioSemi", "EEG", 32, 512, api.FormatFloat32, "S1")
	if !d.MatchesQuery("type='EEG' and count(info/desc/channel)=0") {
		t.Fatalf("expected predicate to match a descriptor with no declared channels")
	}
	if d.MatchesQuery("type='ECG'") {
		t.Fatalf("expected predicate on a mismatching type to fail")
	}
}

func TestDescriptorMatchesPredicateAfterChannelsDeclared(t *testing.T) {
	d := streaminfo.New("BioSemi", "EEG", 2, 512, api.FormatFloat32, "S1")
	channels := d.DescElement().CreateElement("channels")
	channels.CreateElement("channel")
	channels.CreateElement("channel")

	if d.MatchesQuery("count(info/desc/channels/channel)=0") {
		t.Fatalf("expected predicate to observe the two declared channels")
	}
	if !d.MatchesQuery("count(info/desc/channels/channel)=2") {
		t.Fatalf("expected predicate to count exactly two channels")
	}
}

func TestDescriptorMatchesQueryUsesCacheConsistently(t *testing.T) {
	d := streaminfo.New("BioSemi", "EEG", 32, 512, api.FormatFloat32, "S1")
	d.SetCacheCapacity(2)
	q1 := "type='EEG'"
	q2 := "type='ECG'"
	q3 := "name='BioSemi'"

	direct := map[string]bool{q1: true, q2: false, q3: true}
	for i := 0; i < 3; i++ {
		for q, want := range direct {
			if got := d.MatchesQuery(q); got != want {
				t.Fatalf("query %q: got %v want %v", q, got, want)
			}
		}
	}
}

func TestParseRoundTripsFullInfo(t *testing.T) {
	d := streaminfo.New("RoundTrip", "EEG", 4, 250, api.FormatInt16, "src")
	xml := d.FullInfo()

	parsed, err := streaminfo.Parse(xml)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.Name() != "RoundTrip" || parsed.ChannelCount() != 4 || parsed.UID() != d.UID() {
		t.Fatalf("parsed descriptor mismatch: name=%q channels=%d uid=%q", parsed.Name(), parsed.ChannelCount(), parsed.UID())
	}
}

func TestTransportBufferSamplesUsesNominalRate(t *testing.T) {
	d := streaminfo.New("Regular", "EEG", 1, 100, api.FormatFloat32, "")
	if n := d.TransportBufferSamples(2, xferbuf.UnitSeconds); n != 200 {
		t.Fatalf("expected 200 samples for 2s at 100Hz, got %d", n)
	}

	irregular := streaminfo.New("Irregular", "Markers", 1, 0, api.FormatString, "")
	if n := irregular.TransportBufferSamples(1, xferbuf.UnitSeconds); n != 100 {
		t.Fatalf("expected heuristic 100 samples/sec for irregular stream, got %d", n)
	}
}
