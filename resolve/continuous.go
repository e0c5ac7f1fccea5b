// File: resolve/continuous.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ContinuousResolver repeats the wave schedule on a background goroutine
// at ContinuousResolveInterval, publishing deduplicated results into a
// shared map that Results() prunes of anything older than forget_after on
// read (spec §4.9).
package resolve

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/labstream/core/streaminfo"
)

// ContinuousResolver runs a background wave schedule for one query.
type ContinuousResolver struct {
	resolver    *Resolver
	query       string
	forgetAfter time.Duration

	conn       *net.UDPConn
	returnPort int

	mu      sync.Mutex
	results map[string]*entry

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewContinuous starts a background resolver for query, repeating waves at
// config.Tuning.ContinuousResolveInterval until Close is called.
func NewContinuous(query string, forgetAfter time.Duration, logger zerolog.Logger) (*ContinuousResolver, error) {
	r := New(logger)
	conn, port, err := openReturnSocket(r.cfg)
	if err != nil {
		return nil, err
	}

	cr := &ContinuousResolver{
		resolver:    r,
		query:       scopedQuery(query, r.cfg.Lab.SessionID),
		forgetAfter: forgetAfter,
		conn:        conn,
		returnPort:  port,
		results:     make(map[string]*entry),
		stop:        make(chan struct{}),
	}

	cr.wg.Add(2)
	go cr.receiveLoop()
	go cr.waveLoop()
	return cr, nil
}

// interval returns the configured continuous wave cadence, defaulting to
// 5s if unset.
func (cr *ContinuousResolver) interval() time.Duration {
	iv := cr.resolver.cfg.Tuning.ContinuousResolveInterval
	if iv <= 0 {
		iv = 5
	}
	return time.Duration(iv * float64(time.Second))
}

func (cr *ContinuousResolver) waveLoop() {
	defer cr.wg.Done()
	ticker := time.NewTicker(cr.interval())
	defer ticker.Stop()
	cr.resolver.sendWave(cr.query, cr.returnPort)
	for {
		select {
		case <-cr.stop:
			return
		case <-ticker.C:
			cr.resolver.sendWave(cr.query, cr.returnPort)
		}
	}
}

func (cr *ContinuousResolver) receiveLoop() {
	defer cr.wg.Done()
	receiveLoop(cr.conn, &cr.mu, cr.results, cr.stop)
}

// Results returns up to max descriptors (0 meaning unbounded), pruning any
// entry whose last refresh is older than forgetAfter first.
func (cr *ContinuousResolver) Results(max int) []*streaminfo.Descriptor {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	now := time.Now()
	for uid, e := range cr.results {
		if cr.forgetAfter > 0 && now.Sub(e.lastSeen) > cr.forgetAfter {
			delete(cr.results, uid)
		}
	}

	out := make([]*streaminfo.Descriptor, 0, len(cr.results))
	for _, e := range cr.results {
		out = append(out, e.descriptor)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// Close stops the background goroutines and releases the return socket.
func (cr *ContinuousResolver) Close() {
	close(cr.stop)
	cr.wg.Wait()
	_ = cr.conn.Close()
}
