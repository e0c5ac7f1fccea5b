// File: core/wire/testpattern.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Streamfeed negotiation test pattern (spec §4.6): both parties construct
// samples 2 and 4 of a deterministic sequence and compare bytes; a mismatch
// is fatal for that connection since it signals the peers disagree on
// framing despite having negotiated one.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/sample"
)

// GenerateTestPattern deterministically builds the sample at the given
// offset (2 or 4, per spec) for a stream of the given format/channel count:
// channel k's magnitude is (offset+k), sign alternates by channel parity,
// integer formats wrap to their type's range, and string channels render
// "+(k+10)" / "-(k+10)".
func GenerateTestPattern(pool *sample.Pool, format api.ChannelFormat, channels int, offset int) *sample.Sample {
	s := pool.Allocate(api.DeducedTimestamp, false)
	for k := 0; k < channels; k++ {
		sign := 1.0
		if k%2 != 0 {
			sign = -1.0
		}
		magnitude := float64(offset + k)

		if format == api.FormatString {
			sk := "+"
			if sign < 0 {
				sk = "-"
			}
			s.Strings[k] = []byte(fmt.Sprintf("%s%d", sk, k+10))
			continue
		}
		writeNumericChannel(s.Numeric, format, k, sign*magnitude)
	}
	return s
}

func writeNumericChannel(buf []byte, format api.ChannelFormat, channel int, value float64) {
	width := format.Size()
	off := channel * width
	switch format {
	case api.FormatFloat32:
		binary.NativeEndian.PutUint32(buf[off:], math.Float32bits(float32(value)))
	case api.FormatDouble64:
		binary.NativeEndian.PutUint64(buf[off:], math.Float64bits(value))
	case api.FormatInt8:
		buf[off] = byte(int8(int64(value) & 0xFF))
	case api.FormatInt16:
		binary.NativeEndian.PutUint16(buf[off:], uint16(int16(int64(value))))
	case api.FormatInt32:
		binary.NativeEndian.PutUint32(buf[off:], uint32(int32(int64(value))))
	case api.FormatInt64:
		binary.NativeEndian.PutUint64(buf[off:], uint64(int64(value)))
	}
}

// EqualTestPattern reports whether two samples of the same format/channel
// count carry byte-identical payloads, the comparison spec §4.6 requires to
// confirm both parties agree on the framing.
func EqualTestPattern(a, b *sample.Sample) bool {
	if a.Format != b.Format || a.Channels != b.Channels {
		return false
	}
	if a.Format == api.FormatString {
		for i := range a.Strings {
			if !bytes.Equal(a.Strings[i], b.Strings[i]) {
				return false
			}
		}
		return true
	}
	return bytes.Equal(a.Numeric, b.Numeric)
}
