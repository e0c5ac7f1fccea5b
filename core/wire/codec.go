// File: core/wire/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sample framing for protocol >=1.10 (spec §4.5): one tag byte, an optional
// f64 timestamp, then the payload. Numeric payloads are raw values packed
// back to back at format width; string payloads are length-prefixed with a
// self-describing prefix width. Packing style (encoding/binary,
// io.Reader/io.Writer, explicit byte-order parameter) is grounded on the
// teacher's core/protocol/frame_codec.go WebSocket frame codec, generalized
// from WS's fixed big-endian extended-length encoding to LSL's negotiated
// byte order and variable string length width.
package wire

import (
	"fmt"
	"io"
	"math"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/sample"
)

// Tag bytes preceding each sample on the wire.
const (
	TagDeduced   = 1 // no timestamp follows; receiver reconstructs it
	TagTimestamp = 2 // an f64 timestamp follows
)

// WriteSample encodes s in protocol >=1.10 framing onto the given wire byte
// order (OrderLittle/OrderBig). deduced selects the no-timestamp tag form
// (used when the sample carries api.DeducedTimestamp).
func WriteSample(w io.Writer, s *sample.Sample, orderCode int, deduced bool) error {
	order, ok := ByteOrderFor(orderCode)
	if !ok {
		return fmt.Errorf("labstream/wire: unsupported byte order code %d", orderCode)
	}

	var hdr [9]byte
	n := 1
	if deduced {
		hdr[0] = TagDeduced
	} else {
		hdr[0] = TagTimestamp
		order.PutUint64(hdr[1:9], math.Float64bits(s.Timestamp))
		n = 9
	}
	if _, err := w.Write(hdr[:n]); err != nil {
		return err
	}
	return writePayload(w, s, order, orderCode)
}

func writePayload(w io.Writer, s *sample.Sample, order byteOrder, orderCode int) error {
	if s.Format.IsNumeric() {
		width := s.Format.Size()
		buf := make([]byte, len(s.Numeric))
		copy(buf, s.Numeric)
		if orderCode != NativeOrder() && width > 1 {
			ReverseValuesInPlace(buf, width)
		}
		_, err := w.Write(buf)
		return err
	}
	for _, v := range s.Strings {
		if err := writeString(w, v, order); err != nil {
			return err
		}
	}
	return nil
}

func writeString(w io.Writer, v []byte, order byteOrder) error {
	width := smallestWidth(uint64(len(v)))
	var lenBuf [8]byte
	putUintWidth(lenBuf[:width], width, uint64(len(v)), order)
	if _, err := w.Write([]byte{byte(width)}); err != nil {
		return err
	}
	if _, err := w.Write(lenBuf[:width]); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}

// ReadSample decodes one sample in protocol >=1.10 framing, allocating it
// from pool. suppressSubnormals applies float-subnormal flushing per spec
// §4.5 after any needed endian conversion.
func ReadSample(r io.Reader, pool *sample.Pool, format api.ChannelFormat, channels int, orderCode int, suppressSubnormals bool) (*sample.Sample, error) {
	order, ok := ByteOrderFor(orderCode)
	if !ok {
		return nil, fmt.Errorf("labstream/wire: unsupported byte order code %d", orderCode)
	}

	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return nil, err
	}

	var timestamp float64
	switch tagBuf[0] {
	case TagDeduced:
		timestamp = api.DeducedTimestamp
	case TagTimestamp:
		var tsBuf [8]byte
		if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
			return nil, err
		}
		timestamp = math.Float64frombits(order.Uint64(tsBuf[:]))
	default:
		return nil, fmt.Errorf("labstream/wire: unknown sample tag 0x%02x", tagBuf[0])
	}

	s := pool.Allocate(timestamp, false)
	if err := readPayload(r, s, format, channels, order, orderCode, suppressSubnormals); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

func readPayload(r io.Reader, s *sample.Sample, format api.ChannelFormat, channels int, order byteOrder, orderCode int, suppressSubnormals bool) error {
	if format.IsNumeric() {
		width := format.Size()
		if _, err := io.ReadFull(r, s.Numeric); err != nil {
			return err
		}
		if orderCode != NativeOrder() && width > 1 {
			ReverseValuesInPlace(s.Numeric, width)
		}
		if suppressSubnormals {
			SuppressSubnormals(s.Numeric, format)
		}
		return nil
	}
	for i := 0; i < channels; i++ {
		v, err := readString(r, order)
		if err != nil {
			return err
		}
		s.Strings[i] = v
	}
	return nil
}

func readString(r io.Reader, order byteOrder) ([]byte, error) {
	var widthBuf [1]byte
	if _, err := io.ReadFull(r, widthBuf[:]); err != nil {
		return nil, err
	}
	width := int(widthBuf[0])
	if width != 1 && width != 2 && width != 4 && width != 8 {
		return nil, fmt.Errorf("labstream/wire: invalid string prefix width %d", width)
	}
	lenBuf := make([]byte, width)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := getUintWidth(lenBuf, width, order)
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func smallestWidth(n uint64) int {
	switch {
	case n <= 0xFF:
		return 1
	case n <= 0xFFFF:
		return 2
	case n <= 0xFFFFFFFF:
		return 4
	default:
		return 8
	}
}

func putUintWidth(buf []byte, width int, v uint64, order byteOrder) {
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		order.PutUint16(buf, uint16(v))
	case 4:
		order.PutUint32(buf, uint32(v))
	case 8:
		order.PutUint64(buf, v)
	}
}

func getUintWidth(buf []byte, width int, order byteOrder) uint64 {
	switch width {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	case 8:
		return order.Uint64(buf)
	}
	return 0
}
