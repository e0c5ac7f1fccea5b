// File: api/clock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide monotonic clock. Every timestamp that crosses the wire
// (sample capture times, time-probe t0/t1/t2) is expressed in this clock.

package api

import "time"

// DeducedTimestamp is the sentinel capture-time value meaning "derive this
// sample's timestamp from its predecessor plus 1/rate" (spec §3, §8).
const DeducedTimestamp = -1.0

var processEpoch = time.Now()

// LocalClock returns the number of seconds since an arbitrary, fixed,
// process-wide epoch. It is monotonic for the lifetime of the process and
// is the clock every pushed sample's capture timestamp must agree with.
func LocalClock() float64 {
	return time.Since(processEpoch).Seconds()
}
