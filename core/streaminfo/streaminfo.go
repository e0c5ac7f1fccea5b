// File: core/streaminfo/streaminfo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Descriptor is the stream descriptor of spec §4.4 (C4): typed identity
// getters backed by a mutable XML tree, two serialization depths, and a
// cached XPath predicate matcher. The XML tree is held with
// github.com/beevik/etree, grounded on the pack's config-store pattern
// (momentics-hioload-ws/control/config.go) for the read/write discipline
// around a shared mutable structure, generalized here from a map to a DOM.
package streaminfo

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/internal/xferbuf"
)

const identityVersion = 110 // wire value for protocol version 1.10

// identityFields lists the required <info> children in schema order (§6).
var identityFields = []string{
	"name", "type", "channel_count", "channel_format", "source_id",
	"nominal_srate", "version", "created_at", "uid", "session_id",
	"hostname", "v4address", "v4data_port", "v4service_port",
	"v6address", "v6data_port", "v6service_port",
}

// Descriptor exposes a stream's identity and metadata. The XML document is
// mutable only before the owning outlet begins serving, except for the uid
// field (reset_uid) and the desc subtree, which callers may mutate freely.
type Descriptor struct {
	mu   sync.RWMutex
	doc  *etree.Document
	root *etree.Element

	cache *queryCache
}

// New constructs a descriptor for a stream of the given identity. nominalRate
// of 0 indicates an irregular-rate stream.
func New(name, streamType string, channelCount int, nominalRate float64, format api.ChannelFormat, sourceID string) *Descriptor {
	doc := etree.NewDocument()
	root := doc.CreateElement("info")

	set := func(tag, value string) {
		root.CreateElement(tag).SetText(value)
	}
	set("name", name)
	set("type", streamType)
	set("channel_count", strconv.Itoa(channelCount))
	set("channel_format", format.String())
	set("source_id", sourceID)
	set("nominal_srate", strconv.FormatFloat(nominalRate, 'g', -1, 64))
	set("version", strconv.Itoa(identityVersion))
	set("created_at", strconv.FormatFloat(api.LocalClock(), 'f', 6, 64))
	set("uid", uuid.NewString())
	set("session_id", "")
	set("hostname", "")
	set("v4address", "")
	set("v4data_port", "0")
	set("v4service_port", "0")
	set("v6address", "")
	set("v6data_port", "0")
	set("v6service_port", "0")
	root.CreateElement("desc")

	return &Descriptor{doc: doc, root: root, cache: newQueryCache(32)}
}

func (d *Descriptor) field(tag string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	el := d.root.SelectElement(tag)
	if el == nil {
		return ""
	}
	return el.Text()
}

func (d *Descriptor) setField(tag, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	el := d.root.SelectElement(tag)
	if el == nil {
		el = d.root.CreateElement(tag)
	}
	el.SetText(value)
	d.cache.reset()
}

// Name returns the stream's name.
func (d *Descriptor) Name() string { return d.field("name") }

// Type returns the stream's content type (e.g. "EEG").
func (d *Descriptor) Type() string { return d.field("type") }

// ChannelCount returns the number of channels.
func (d *Descriptor) ChannelCount() int {
	n, _ := strconv.Atoi(d.field("channel_count"))
	return n
}

// ChannelFormat returns the sample format.
func (d *Descriptor) ChannelFormat() api.ChannelFormat {
	f, _ := api.ParseChannelFormat(d.field("channel_format"))
	return f
}

// SourceID returns the stable source identifier, or "" if anonymous.
func (d *Descriptor) SourceID() string { return d.field("source_id") }

// NominalRate returns the nominal sampling rate, 0 for irregular streams.
func (d *Descriptor) NominalRate() float64 {
	r, _ := strconv.ParseFloat(d.field("nominal_srate"), 64)
	return r
}

// Version returns the protocol version (wire value, e.g. 110 for 1.10).
func (d *Descriptor) Version() int {
	v, _ := strconv.Atoi(d.field("version"))
	return v
}

// CreatedAt returns the local-clock timestamp the descriptor was created at.
func (d *Descriptor) CreatedAt() float64 {
	v, _ := strconv.ParseFloat(d.field("created_at"), 64)
	return v
}

// UID returns the instance's RFC4122 UUID.
func (d *Descriptor) UID() string { return d.field("uid") }

// SessionID returns the discovery scope token.
func (d *Descriptor) SessionID() string { return d.field("session_id") }

// SetSessionID sets the discovery scope token (from config's lab.SessionID).
func (d *Descriptor) SetSessionID(id string) { d.setField("session_id", id) }

// Hostname returns the advertising host's name.
func (d *Descriptor) Hostname() string { return d.field("hostname") }

// SetHostname sets the advertising host's name.
func (d *Descriptor) SetHostname(h string) { d.setField("hostname", h) }

// SetTransportAddresses stamps the address/port fields filled in once an
// outlet's servers are bound (spec §4.8: "after all ports are known").
func (d *Descriptor) SetTransportAddresses(v4addr string, v4data, v4service int, v6addr string, v6data, v6service int) {
	d.setField("v4address", v4addr)
	d.setField("v4data_port", strconv.Itoa(v4data))
	d.setField("v4service_port", strconv.Itoa(v4service))
	d.setField("v6address", v6addr)
	d.setField("v6data_port", strconv.Itoa(v6data))
	d.setField("v6service_port", strconv.Itoa(v6service))
}

// TransportV4 returns the IPv4 data/service endpoint stamped by
// SetTransportAddresses, or ("", 0, 0) if none was ever stamped (e.g. a
// descriptor parsed before the advertising outlet finished binding).
func (d *Descriptor) TransportV4() (addr string, dataPort, servicePort int) {
	addr = d.field("v4address")
	dataPort, _ = strconv.Atoi(d.field("v4data_port"))
	servicePort, _ = strconv.Atoi(d.field("v4service_port"))
	return
}

// TransportV6 returns the IPv6 data/service endpoint, mirroring TransportV4.
func (d *Descriptor) TransportV6() (addr string, dataPort, servicePort int) {
	addr = d.field("v6address")
	dataPort, _ = strconv.Atoi(d.field("v6data_port"))
	servicePort, _ = strconv.Atoi(d.field("v6service_port"))
	return
}

// DescElement returns the mutable <desc> subtree for application metadata.
func (d *Descriptor) DescElement() *etree.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.reset()
	return d.root.SelectElement("desc")
}

// ResetUID replaces the instance UID with a freshly generated RFC4122 v4
// UUID, per spec §4.4.
func (d *Descriptor) ResetUID() string {
	fresh := uuid.NewString()
	d.setField("uid", fresh)
	return fresh
}

// ShortInfo serializes the identity block only (no desc subtree).
func (d *Descriptor) ShortInfo() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc := etree.NewDocument()
	root := doc.CreateElement("info")
	for _, tag := range identityFields {
		if el := d.root.SelectElement(tag); el != nil {
			root.CreateElement(tag).SetText(el.Text())
		}
	}
	out, _ := doc.WriteToString()
	return out
}

// FullInfo serializes the identity block plus the full desc subtree.
func (d *Descriptor) FullInfo() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out, _ := d.doc.WriteToString()
	return out
}

// Parse rebuilds a Descriptor from a shortinfo or fullinfo XML document, as
// received by an inlet's info receiver.
func Parse(xml string) (*Descriptor, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, fmt.Errorf("streaminfo: parse: %w", err)
	}
	root := doc.SelectElement("info")
	if root == nil {
		return nil, fmt.Errorf("streaminfo: parse: missing <info> root")
	}
	if root.SelectElement("desc") == nil {
		root.CreateElement("desc")
	}
	return &Descriptor{doc: doc, root: root, cache: newQueryCache(32)}, nil
}

// MatchesQuery reports whether the XPath predicate (the content that would
// sit inside "[...]" on the root <info> element) matches this descriptor.
// Results are cached by query string; capacity and eviction are managed by
// the descriptor's queryCache.
func (d *Descriptor) MatchesQuery(predicate string) bool {
	if v, ok := d.cache.get(predicate); ok {
		return v
	}
	match := d.evalQuery(predicate)
	d.cache.put(predicate, match)
	return match
}

func (d *Descriptor) evalQuery(predicate string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return evaluatePredicate(d.root, predicate)
}

// SetCacheCapacity resizes the XPath match cache (tuning.MaxCachedQueries).
func (d *Descriptor) SetCacheCapacity(n int) {
	d.cache.resize(n)
}

// TransportBufferSamples converts a requested buffer length, interpreted per
// unit, into a sample count sized for this stream's nominal rate.
func (d *Descriptor) TransportBufferSamples(requestedLen float64, unit xferbuf.Unit) int {
	return xferbuf.SampleCount(requestedLen, unit, d.NominalRate())
}
