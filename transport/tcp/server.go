// File: transport/tcp/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package tcp implements the per-subscriber TCP data server of spec §4.6
// (C6): one Server per bound data port, one goroutine per accepted session.
// The accept loop (goroutine-per-connection, recover()-guarded handler) is
// grounded on the teacher's transport/tcp/listener.go StartTCPListener/
// handleConn, generalized from the RFC6455 upgrade grammar to LSL's text
// handshake. In-flight sessions are tracked in an internal/session.Registry
// so EndServing can cancel pending I/O before the listener's goroutines
// exit (spec §4.6: "tracks in-flight session sockets in a registry").
package tcp

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/momentics/labstream/core/dispatch"
	"github.com/momentics/labstream/core/sample"
	"github.com/momentics/labstream/core/streaminfo"
	sessionreg "github.com/momentics/labstream/internal/session"
)

// Server accepts streamfeed/fullinfo TCP connections for one outlet.
type Server struct {
	listener   net.Listener
	descriptor *streaminfo.Descriptor
	sendBuffer *dispatch.SendBuffer
	pool       *sample.Pool

	protocolVersion    int
	globalMaxBuffered  int

	logger   zerolog.Logger
	sessions *sessionreg.Registry

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewServer wraps an already-bound listener. protocolVersion is the
// outlet's configured ceiling (tuning.UseProtocolVersion); globalMaxBuffered
// caps every session's consumer queue regardless of what the inlet
// requests (<=0 means no additional cap).
func NewServer(ln net.Listener, descriptor *streaminfo.Descriptor, sendBuffer *dispatch.SendBuffer, pool *sample.Pool, protocolVersion, globalMaxBuffered int, logger zerolog.Logger) *Server {
	return &Server{
		listener:          ln,
		descriptor:        descriptor,
		sendBuffer:        sendBuffer,
		pool:              pool,
		protocolVersion:   protocolVersion,
		globalMaxBuffered: globalMaxBuffered,
		logger:            logger,
		sessions:          sessionreg.NewRegistry(),
	}
}

// Addr returns the bound listen address.
func (srv *Server) Addr() net.Addr { return srv.listener.Addr() }

// BeginServing starts the accept loop on its own goroutine.
func (srv *Server) BeginServing() {
	srv.wg.Add(1)
	go srv.acceptLoop()
}

// EndServing marks the server closed, cancels every in-flight session, and
// waits for the accept loop and all session goroutines to exit.
func (srv *Server) EndServing() {
	srv.Cancel()
	srv.sessions.CancelAll()
	srv.wg.Wait()
}

// Cancel closes the listening socket; satisfies session.Cancellable.
func (srv *Server) Cancel() {
	if srv.closed.CompareAndSwap(false, true) {
		_ = srv.listener.Close()
	}
}

func (srv *Server) isClosed() bool { return srv.closed.Load() }

func (srv *Server) acceptLoop() {
	defer srv.wg.Done()
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			if srv.isClosed() {
				return
			}
			srv.logger.Warn().Err(err).Msg("tcp: accept failed")
			continue
		}
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			newSession(conn, srv).run()
		}()
	}
}

func (srv *Server) logRecover(r any) {
	srv.logger.Error().Interface("panic", r).Msg("tcp: recovered from panic in session")
}

// register adds a session's connection to the in-flight registry so
// EndServing can cancel it; returns the token for unregister.
func (srv *Server) register(s *session) sessionreg.Token {
	return srv.sessions.Register(connCancellable{s.conn})
}

func (srv *Server) unregister(tok sessionreg.Token) {
	srv.sessions.Unregister(tok)
}

type connCancellable struct{ conn net.Conn }

func (c connCancellable) Cancel() { _ = c.conn.Close() }
