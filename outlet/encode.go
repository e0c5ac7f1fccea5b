// File: outlet/encode.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Encodes a pushed float64 value into a sample's native-endian numeric
// payload. core/wire's codec only ever transcodes endianness at write
// time (spec §4.5); on the producing side the pool's Numeric buffer is
// always filled in the local machine's native order.
package outlet

import (
	"encoding/binary"
	"math"

	"github.com/momentics/labstream/api"
)

func putNumeric(dst []byte, format api.ChannelFormat, v float64) {
	switch format {
	case api.FormatFloat32:
		binary.NativeEndian.PutUint32(dst, math.Float32bits(float32(v)))
	case api.FormatDouble64:
		binary.NativeEndian.PutUint64(dst, math.Float64bits(v))
	case api.FormatInt8:
		dst[0] = byte(int8(v))
	case api.FormatInt16:
		binary.NativeEndian.PutUint16(dst, uint16(int16(v)))
	case api.FormatInt32:
		binary.NativeEndian.PutUint32(dst, uint32(int32(v)))
	case api.FormatInt64:
		binary.NativeEndian.PutUint64(dst, uint64(int64(v)))
	}
}
