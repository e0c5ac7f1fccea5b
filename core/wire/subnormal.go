// File: core/wire/subnormal.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Subnormal suppression on reception of a float format (spec §4.5): values
// with a zero exponent field and nonzero mantissa are flushed to a signed
// zero, preserving the sign bit.
package wire

import (
	"encoding/binary"

	"github.com/momentics/labstream/api"
)

// SuppressSubnormals scans data (native-endian packed values of the given
// format) and flushes any subnormal float to a signed zero in place. A no-op
// for non-float formats.
func SuppressSubnormals(data []byte, format api.ChannelFormat) {
	switch format {
	case api.FormatFloat32:
		for off := 0; off+4 <= len(data); off += 4 {
			bits := binary.NativeEndian.Uint32(data[off : off+4])
			if exp := (bits >> 23) & 0xFF; exp == 0 && bits&0x7FFFFF != 0 {
				binary.NativeEndian.PutUint32(data[off:off+4], bits&0x80000000)
			}
		}
	case api.FormatDouble64:
		for off := 0; off+8 <= len(data); off += 8 {
			bits := binary.NativeEndian.Uint64(data[off : off+8])
			if exp := (bits >> 52) & 0x7FF; exp == 0 && bits&0xFFFFFFFFFFFFF != 0 {
				binary.NativeEndian.PutUint64(data[off:off+8], bits&0x8000000000000000)
			}
		}
	}
}
