// File: transport/udp/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Request/reply framing helpers for the UDP shortinfo and timedata
// exchanges of spec §4.5, shared by the resolver (C9) and the inlet's
// time receiver (C11) so the wire format lives in one place instead
// of being duplicated at every call site.
package udp

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildShortInfoRequest frames a discovery query (spec §4.5: "LSL:shortinfo
// request"). query is the XPath predicate content; returnPort is where the
// requester expects the unicast reply; queryID disambiguates concurrent
// outstanding queries.
func BuildShortInfoRequest(query string, returnPort int, queryID string) []byte {
	return []byte(fmt.Sprintf("LSL:shortinfo\r\n%s\r\n%d %s\r\n", query, returnPort, queryID))
}

// ParseShortInfoReply splits a shortinfo reply into its query id and the
// shortinfo XML body.
func ParseShortInfoReply(payload []byte) (queryID, xml string, ok bool) {
	s := strings.ReplaceAll(string(payload), "\r\n", "\n")
	idx := strings.IndexByte(s, '\n')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// BuildTimeDataRequest frames a time-probe request (spec §4.5:
// "LSL:timedata request").
func BuildTimeDataRequest(waveID string, t0 float64) []byte {
	return []byte(fmt.Sprintf("LSL:timedata\r\n%s %s\r\n", waveID, formatFloat(t0)))
}

// TimeDataReply is a parsed timedata response: wave id plus the three
// clock readings used by the time receiver's offset computation.
type TimeDataReply struct {
	WaveID     string
	T0, T1, T2 float64
}

// ParseTimeDataReply parses a timedata reply line.
func ParseTimeDataReply(payload []byte) (TimeDataReply, bool) {
	fields := strings.Fields(strings.TrimSpace(string(payload)))
	if len(fields) != 4 {
		return TimeDataReply{}, false
	}
	t0, err0 := strconv.ParseFloat(fields[1], 64)
	t1, err1 := strconv.ParseFloat(fields[2], 64)
	t2, err2 := strconv.ParseFloat(fields[3], 64)
	if err0 != nil || err1 != nil || err2 != nil {
		return TimeDataReply{}, false
	}
	return TimeDataReply{WaveID: fields[0], T0: t0, T1: t1, T2: t2}, true
}
