// File: core/wire/archive100.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Protocol 1.00 sample framing: a portable binary archive, always
// little-endian on the wire regardless of either peer's native order, with
// variable-length integer encoding for string lengths. Grounded on
// original_source/src/portable_archive/portable_archive_includes.hpp's
// description (magic byte 0x7F, a version-tagged header, IEEE-754 bits
// extracted through a fixed-width trait rather than the platform's native
// float layout). Varint encoding uses stdlib encoding/binary's Uvarint,
// the idiomatic Go equivalent of boost::serialization's 7-bit length
// encoding; io pattern (bufio.Reader for framed reads) follows the
// teacher's transport/tcp/listener.go.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/sample"
)

// ArchiveMagic is the portable-archive header's leading byte.
const ArchiveMagic = 0x7F

// ArchiveVersion is the header version byte this codec emits and accepts.
const ArchiveVersion = 1

// WriteArchiveHeader writes the magic byte and archive version once per
// protocol-1.00 connection, before any shortinfo or sample payload.
func WriteArchiveHeader(w io.Writer) error {
	_, err := w.Write([]byte{ArchiveMagic, ArchiveVersion})
	return err
}

// ReadArchiveHeader validates the magic byte and returns the archive version.
func ReadArchiveHeader(r *bufio.Reader) (int, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, err
	}
	if hdr[0] != ArchiveMagic {
		return 0, fmt.Errorf("labstream/wire: bad portable-archive magic 0x%02x", hdr[0])
	}
	return int(hdr[1]), nil
}

// WriteArchiveString writes a variable-length-prefixed string, portable
// archive style: a Uvarint byte count followed by the raw bytes.
func WriteArchiveString(w io.Writer, v []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(v)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}

// ReadArchiveString reads a Uvarint-length-prefixed string.
func ReadArchiveString(r *bufio.Reader) ([]byte, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// WriteArchiveSample encodes one sample in protocol-1.00 portable-archive
// framing: an f64 timestamp (DeducedTimestamp sentinel included verbatim,
// since 1.00 has no tag-byte distinction), then the payload, always
// little-endian.
func WriteArchiveSample(w io.Writer, s *sample.Sample) error {
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], math.Float64bits(s.Timestamp))
	if _, err := w.Write(tsBuf[:]); err != nil {
		return err
	}

	if s.Format.IsNumeric() {
		width := s.Format.Size()
		buf := make([]byte, len(s.Numeric))
		copy(buf, s.Numeric)
		if NativeOrder() != OrderLittle && width > 1 {
			ReverseValuesInPlace(buf, width)
		}
		_, err := w.Write(buf)
		return err
	}
	for _, v := range s.Strings {
		if err := WriteArchiveString(w, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadArchiveSample decodes one protocol-1.00 sample from r, allocating it
// from pool.
func ReadArchiveSample(r *bufio.Reader, pool *sample.Pool, format api.ChannelFormat, channels int) (*sample.Sample, error) {
	var tsBuf [8]byte
	if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
		return nil, err
	}
	timestamp := math.Float64frombits(binary.LittleEndian.Uint64(tsBuf[:]))

	s := pool.Allocate(timestamp, false)
	if format.IsNumeric() {
		width := format.Size()
		if _, err := io.ReadFull(r, s.Numeric); err != nil {
			s.Release()
			return nil, err
		}
		if NativeOrder() != OrderLittle && width > 1 {
			ReverseValuesInPlace(s.Numeric, width)
		}
		return s, nil
	}
	for i := 0; i < channels; i++ {
		v, err := ReadArchiveString(r)
		if err != nil {
			s.Release()
			return nil, err
		}
		s.Strings[i] = v
	}
	return s, nil
}
