// File: core/wire/endian.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Byte-order negotiation and in-place value conversion for protocol >=1.10
// framing (spec §4.5). Grounded on original_source/src/util/endian.hpp's
// LSL_LITTLE_ENDIAN/LSL_BIG_ENDIAN wire codes and its can_convert_endian
// refusal rule (a peer advertising neither pure little nor pure big endian
// cannot be converted and must fail the handshake).
package wire

import "encoding/binary"

// byteOrder is a local alias so codec.go need not import encoding/binary
// directly; call sites deal in wire order codes, not binary.ByteOrder.
type byteOrder = binary.ByteOrder

// Wire byte-order codes exchanged in the Native-Byte-Order handshake header.
const (
	OrderLittle = 1234
	OrderBig    = 4321
)

// NativeOrder reports this process's native byte order as a wire code.
func NativeOrder() int {
	buf := make([]byte, 2)
	binary.NativeEndian.PutUint16(buf, 0x0102)
	if buf[0] == 0x02 {
		return OrderLittle
	}
	return OrderBig
}

// ByteOrderFor resolves a wire order code to an encoding/binary.ByteOrder.
func ByteOrderFor(code int) (binary.ByteOrder, bool) {
	switch code {
	case OrderLittle:
		return binary.LittleEndian, true
	case OrderBig:
		return binary.BigEndian, true
	default:
		return nil, false
	}
}

// CanConvertEndian reports whether values of the given width can be
// transcoded between the local native order and the requested wire order.
// Width 1 never needs conversion. Any other width requires both the
// requested and the native order to be pure little/big endian.
func CanConvertEndian(requested, width int) bool {
	if width == 1 {
		return true
	}
	if requested != OrderLittle && requested != OrderBig {
		return false
	}
	native := NativeOrder()
	return native == OrderLittle || native == OrderBig
}

// ReverseValuesInPlace byte-swaps every width-wide value packed back to back
// in data. Width 1 is a no-op; widths other than 2/4/8 are rejected by the
// caller before reaching here (spec §4.5: "widths 2/4/8 supported").
func ReverseValuesInPlace(data []byte, width int) {
	if width <= 1 {
		return
	}
	for off := 0; off+width <= len(data); off += width {
		for i, j := off, off+width-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
	}
}
