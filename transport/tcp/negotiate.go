// File: transport/tcp/negotiate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Streamfeed handshake negotiation (spec §4.5/§4.6): protocol version is
// the min of local and remote; byte order defaults to whichever side needs
// zero conversion, falling back to the outlet's native order unless the
// remote's advertised Endian-Performance suggests it converts cheaper than
// a conservative local estimate (the "outlet may choose a byte order to
// reduce combined conversion cost" rule); subnormal suppression is enabled
// only when the remote declares support for it. An endian code outside the
// two pure orders is refused per spec §8 ("Endian negotiation with a
// [mixed] peer is refused with a handshake error, not silently misread").
package tcp

import (
	"fmt"

	"github.com/momentics/labstream/api"
	"github.com/momentics/labstream/core/wire"
)

// localEndianPerformanceEstimate is a conservative fixed estimate (seconds
// per converted value) for this process's own byte-swap cost, used only to
// compare against a remote's self-reported Endian-Performance advisory.
const localEndianPerformanceEstimate = 5e-8

type negotiation struct {
	protocolVersion    int
	byteOrder          int
	suppressSubnormals bool
}

func (srv *Server) negotiate(req requestHeaders) (negotiation, error) {
	if req.nativeByteOrder != wire.OrderLittle && req.nativeByteOrder != wire.OrderBig {
		return negotiation{}, fmt.Errorf("unsupported byte order %d", req.nativeByteOrder)
	}

	version := req.protocolVersion
	if srv.protocolVersion < version {
		version = srv.protocolVersion
	}

	format := srv.descriptor.ChannelFormat()
	suppress := format != api.FormatString && format != api.FormatUndefined && req.supportsSubnormals

	return negotiation{
		protocolVersion:    version,
		byteOrder:          srv.pickByteOrder(req),
		suppressSubnormals: suppress,
	}, nil
}

func (srv *Server) pickByteOrder(req requestHeaders) int {
	native := wire.NativeOrder()
	if req.nativeByteOrder == native {
		return native
	}
	if req.endianPerformance > 0 && req.endianPerformance < localEndianPerformanceEstimate {
		return req.nativeByteOrder
	}
	return native
}
