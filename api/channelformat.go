// File: api/channelformat.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel format enumeration shared by stream descriptors, the wire codec,
// and the sample pool.

package api

import "fmt"

// ChannelFormat names the per-channel value representation of a stream.
type ChannelFormat int

const (
	FormatUndefined ChannelFormat = iota
	FormatFloat32
	FormatDouble64
	FormatString
	FormatInt32
	FormatInt16
	FormatInt8
	FormatInt64
)

var formatTokens = [...]string{
	FormatUndefined: "undefined",
	FormatFloat32:   "float32",
	FormatDouble64:  "double64",
	FormatString:    "string",
	FormatInt32:     "int32",
	FormatInt16:     "int16",
	FormatInt8:      "int8",
	FormatInt64:     "int64",
}

// String returns the XML/wire token for the format.
func (f ChannelFormat) String() string {
	if int(f) < 0 || int(f) >= len(formatTokens) {
		return "undefined"
	}
	return formatTokens[f]
}

// ParseChannelFormat converts an XML/wire token into a ChannelFormat.
func ParseChannelFormat(token string) (ChannelFormat, error) {
	for i, t := range formatTokens {
		if t == token {
			return ChannelFormat(i), nil
		}
	}
	return FormatUndefined, fmt.Errorf("labstream: unknown channel format %q", token)
}

// Size returns the fixed per-value byte width for numeric formats, 0 for
// FormatString (variable length, framed separately) and -1 for
// FormatUndefined (never valid on a live stream).
func (f ChannelFormat) Size() int {
	switch f {
	case FormatFloat32, FormatInt32:
		return 4
	case FormatDouble64, FormatInt64:
		return 8
	case FormatInt16:
		return 2
	case FormatInt8:
		return 1
	case FormatString:
		return 0
	default:
		return -1
	}
}

// IsNumeric reports whether the format is fixed-width (i.e. not string).
func (f ChannelFormat) IsNumeric() bool {
	return f != FormatString && f != FormatUndefined
}
