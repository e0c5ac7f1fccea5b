// File: resolve/resolve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package resolve implements the C9 discovery client of spec §4.9: oneshot
// and continuous resolution by sending shortinfo queries to multicast
// groups and known unicast peers and deduplicating replies into a result
// map keyed by instance UID. The wave's two-phase send (multicast now,
// unicast after a short delay) is scheduled through a task queue built on
// github.com/eapache/queue, grounded on the teacher's
// internal/concurrency/executor.go Submit/worker-pop shape, narrowed here
// from a persistent worker pool to one queue drained by the wave's own
// goroutine since a resolve attempt's task list is small and short-lived.
package resolve

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"

	"github.com/momentics/labstream/config"
	"github.com/momentics/labstream/core/streaminfo"
	"github.com/momentics/labstream/transport/udp"
)

// entry is one deduplicated result, tracking when it was last refreshed so
// a continuous resolver can prune it after forget_after.
type entry struct {
	descriptor *streaminfo.Descriptor
	addr       string
	firstSeen  time.Time
	lastSeen   time.Time
}

// Resolver runs wave schedules against the configured multicast groups and
// known unicast peers and deduplicates replies by instance UID.
type Resolver struct {
	cfg    *config.Config
	logger zerolog.Logger

	mu      sync.Mutex
	results map[string]*entry
}

// New constructs a Resolver bound to the process-wide configuration.
func New(logger zerolog.Logger) *Resolver {
	return &Resolver{cfg: config.Get(), logger: logger, results: make(map[string]*entry)}
}

// Oneshot runs wave(s) against query until minResults unique instance UIDs
// have been collected for at least minTime, or timeout elapses (spec §4.9). Returns whatever distinct descriptors were collected.
func (r *Resolver) Oneshot(query string, minResults int, timeout, minTime time.Duration) ([]*streaminfo.Descriptor, error) {
	fullQuery := scopedQuery(query, r.cfg.Lab.SessionID)

	conn, returnPort, err := openReturnSocket(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve: open return socket: %w", err)
	}
	defer conn.Close()

	local := make(map[string]*entry)
	var localMu sync.Mutex
	done := make(chan struct{})
	go receiveLoop(conn, &localMu, local, done)

	deadline := time.Now().Add(timeout)
	var satisfiedSince time.Time

	waveInterval := r.waveInterval()
	for {
		r.sendWave(fullQuery, returnPort)

		localMu.Lock()
		n := len(local)
		localMu.Unlock()

		if n >= minResults {
			if satisfiedSince.IsZero() {
				satisfiedSince = time.Now()
			}
			if time.Since(satisfiedSince) >= minTime {
				break
			}
		} else {
			satisfiedSince = time.Time{}
		}

		if time.Now().Add(waveInterval).After(deadline) {
			time.Sleep(time.Until(deadline))
			break
		}
		time.Sleep(waveInterval)
	}
	close(done)

	localMu.Lock()
	defer localMu.Unlock()
	out := make([]*streaminfo.Descriptor, 0, len(local))
	for _, e := range local {
		out = append(out, e.descriptor)
	}
	return out, nil
}

func (r *Resolver) waveInterval() time.Duration {
	iv := r.cfg.Tuning.MulticastMaxRTT + r.cfg.Tuning.UnicastMaxRTT
	if iv <= 0 {
		iv = 0.7
	}
	return time.Duration(iv * float64(time.Second))
}

// sendWave implements the two-phase send of spec §4.9: multicast query
// immediately, then the same query to every known unicast peer across the
// configured port range after a short delay. Scheduling is modeled as two
// tasks on an eapache/queue.Queue drained in order by this goroutine.
func (r *Resolver) sendWave(query string, returnPort int) {
	queryID := freshQueryID(query)
	tasks := queue.New()
	tasks.Add(func() { r.sendMulticast(query, returnPort, queryID) })
	tasks.Add(func() { r.sendUnicast(query, returnPort, queryID) })

	for tasks.Length() > 0 {
		task := tasks.Remove().(func())
		task()
		if tasks.Length() > 0 {
			time.Sleep(unicastDelay)
		}
	}
}

const unicastDelay = 50 * time.Millisecond

func (r *Resolver) sendMulticast(query string, returnPort int, queryID string) {
	payload := udp.BuildShortInfoRequest(query, returnPort, queryID)
	for _, addr := range multicastTargets(r.cfg) {
		a, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr, strconv.Itoa(r.cfg.Ports.MulticastPort)))
		if err != nil {
			continue
		}
		sendOnce(payload, a)
	}
}

func (r *Resolver) sendUnicast(query string, returnPort int, queryID string) {
	payload := udp.BuildShortInfoRequest(query, returnPort, queryID)
	for _, peer := range r.cfg.Lab.KnownPeers {
		for i := 0; i < r.cfg.Ports.PortRange; i++ {
			port := r.cfg.Ports.BasePort + i
			a, err := net.ResolveUDPAddr("udp", net.JoinHostPort(peer, strconv.Itoa(port)))
			if err != nil {
				continue
			}
			sendOnce(payload, a)
		}
	}
}

func sendOnce(payload []byte, addr *net.UDPAddr) {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return
	}
	defer conn.Close()
	_, _ = conn.Write(payload)
}

// openReturnSocket opens the UDP socket a wave's replies are collected on,
// binding to cfg.Multicast.ListenAddress when the deployment pins discovery
// to a specific local interface rather than the OS default route.
func openReturnSocket(cfg *config.Config) (*net.UDPConn, int, error) {
	bindIP := net.IPv4zero
	if cfg.Multicast.ListenAddress != "" {
		if ip := net.ParseIP(cfg.Multicast.ListenAddress); ip != nil {
			bindIP = ip
		}
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: bindIP, Port: 0})
	if err != nil {
		return nil, 0, err
	}
	return conn, conn.LocalAddr().(*net.UDPAddr).Port, nil
}

func receiveLoop(conn *net.UDPConn, mu *sync.Mutex, local map[string]*entry, done chan struct{}) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-done:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		_, xml, ok := udp.ParseShortInfoReply(buf[:n])
		if !ok {
			continue
		}
		desc, err := streaminfo.Parse(xml)
		if err != nil {
			continue
		}
		uid := desc.UID()

		mu.Lock()
		// Most recent descriptor wins, but the earliest-known address is
		// preserved (spec §4.9 tie-break) so a slower duplicate reply
		// doesn't clobber an already-working route.
		if prev, exists := local[uid]; exists {
			prev.descriptor = desc
			prev.lastSeen = time.Now()
		} else {
			local[uid] = &entry{descriptor: desc, addr: from.String(), firstSeen: time.Now(), lastSeen: time.Now()}
		}
		mu.Unlock()
	}
}

func multicastTargets(cfg *config.Config) []string {
	targets := append([]string{}, multicastGroupsForScope(cfg, true)...)
	if cfg.Ports.IPv6 != config.IPv6Disabled {
		targets = append(targets, multicastGroupsForScope(cfg, false)...)
	}
	return targets
}

// scopedQuery ANDs in the local session id so discovery never crosses
// experiment boundaries (spec §4.9).
func scopedQuery(query, sessionID string) string {
	clause := fmt.Sprintf("session_id='%s'", sessionID)
	if strings.TrimSpace(query) == "" {
		return clause
	}
	return fmt.Sprintf("(%s) and %s", query, clause)
}

// freshQueryID hashes the query string (spec §4.9: "a random query id
// (hash of the query string is used)") and appends random bytes so
// concurrent waves for the same query never collide on one return socket.
func freshQueryID(query string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(query))

	salt := make([]byte, 4)
	_, _ = rand.Read(salt)
	return fmt.Sprintf("%08x%s", h.Sum32(), hex.EncodeToString(salt))
}
