// File: inlet/decode.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Decodes one channel's native-endian numeric payload into a float64,
// mirroring outlet/encode.go's putNumeric in reverse.
package inlet

import (
	"encoding/binary"
	"math"

	"github.com/momentics/labstream/api"
)

func decodeNumericValue(buf []byte, format api.ChannelFormat) float64 {
	switch format {
	case api.FormatFloat32:
		return float64(math.Float32frombits(binary.NativeEndian.Uint32(buf)))
	case api.FormatDouble64:
		return math.Float64frombits(binary.NativeEndian.Uint64(buf))
	case api.FormatInt8:
		return float64(int8(buf[0]))
	case api.FormatInt16:
		return float64(int16(binary.NativeEndian.Uint16(buf)))
	case api.FormatInt32:
		return float64(int32(binary.NativeEndian.Uint32(buf)))
	case api.FormatInt64:
		return float64(int64(binary.NativeEndian.Uint64(buf)))
	default:
		return 0
	}
}
