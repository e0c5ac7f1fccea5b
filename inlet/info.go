// File: inlet/info.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Info receiver: fetches the producer's full descriptor (identity plus
// desc subtree) over a short-lived TCP connection to the data port (spec
// §4.6's "LSL:fullinfo" request, served by transport/tcp/session.go's
// serveFullInfo). Unlike the data and time receivers this is not a
// persistent subclient: each Info call opens, reads, and closes its own
// connection.
package inlet

import (
	"io"
	"net"
	"time"

	"github.com/momentics/labstream/core/streaminfo"
	"github.com/momentics/labstream/lslerr"
)

// Info fetches the producer's current full descriptor, blocking up to
// timeout (spec §6: info).
func (in *Inlet) Info(timeout time.Duration) (*streaminfo.Descriptor, error) {
	ep := in.bundle.current()

	conn, err := net.DialTimeout("tcp", netAddr(ep, ep.dataPort), timeout)
	if err != nil {
		return nil, lslerr.Wrap(lslerr.CodeTimeout, "info: dial failed", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte("LSL:fullinfo\r\n")); err != nil {
		return nil, lslerr.Wrap(lslerr.CodeInternal, "info: request failed", err)
	}

	body, err := io.ReadAll(conn)
	if err != nil && len(body) == 0 {
		return nil, lslerr.Wrap(lslerr.CodeTimeout, "info: read failed", err)
	}

	desc, err := streaminfo.Parse(string(body))
	if err != nil {
		return nil, lslerr.Wrap(lslerr.CodeInternal, "info: parse failed", err)
	}

	in.descMu.Lock()
	in.descriptor = desc
	in.descMu.Unlock()
	return desc, nil
}

// Descriptor returns the last known full descriptor for this stream (the
// one passed to Open until Info refreshes it).
func (in *Inlet) Descriptor() *streaminfo.Descriptor {
	in.descMu.RLock()
	defer in.descMu.RUnlock()
	return in.descriptor
}
