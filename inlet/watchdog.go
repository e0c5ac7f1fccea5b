// File: inlet/watchdog.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Watchdog: polls the endpoint bundle every watchdog_check_interval; once a
// live transmission has gone silent for watchdog_time_threshold, it either
// re-resolves the producer by source_id and redirects the bundle (spec
// §4.10: "recovery gated on non-empty source_id") or, when recovery is
// disabled, marks the stream permanently lost and cancels every registered
// cancellable so blocked Pull calls return promptly. A re-resolve that finds
// no producer leaves the stream as it is; the check runs again next tick.
package inlet

import (
	"fmt"
	"time"

	"github.com/momentics/labstream/resolve"
)

func (in *Inlet) watchdogLoop() {
	defer in.wg.Done()

	interval := time.Duration(in.cfg.Tuning.WatchdogCheckInterval * float64(time.Second))
	if interval <= 0 {
		interval = 15 * time.Second
	}
	threshold := time.Duration(in.cfg.Tuning.WatchdogTimeThreshold * float64(time.Second))
	if threshold <= 0 {
		threshold = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-in.stop:
			return
		case <-ticker.C:
			in.checkWatchdog(threshold)
		}
	}
}

func (in *Inlet) checkWatchdog(threshold time.Duration) {
	if in.bundle.isLost() || in.bundle.isShutdown() {
		return
	}
	if !in.bundle.staleness(threshold) {
		return
	}

	if !in.recoverEnabled() {
		in.logger.Warn().Msg("inlet: stream silent and recovery disabled, declaring lost")
		in.bundle.setLost(true)
		in.registry.CancelAll()
		return
	}

	in.logger.Info().Str("source_id", in.recoverSourceID).Msg("inlet: stream silent, re-resolving")
	r := resolve.New(in.logger)
	query := fmt.Sprintf("source_id='%s'", in.recoverSourceID)
	descriptors, err := r.Oneshot(query, 1, 5*time.Second, 0)
	if err != nil || len(descriptors) == 0 {
		in.logger.Warn().Err(err).Msg("inlet: re-resolve found no producer")
		return
	}

	ep, err := endpointFromDescriptor(descriptors[0])
	if err != nil {
		return
	}
	in.bundle.update(ep)
	in.registry.CancelAll()
}
