// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cpi

import (
	"context"
	"net"
	"os"
	"time"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/logging"
)

// maxDatagram bounds one CPI record; the daemon's route messages are
// small, so this is generous.
const maxDatagram = 64 * 1024

// Server owns the CPI unix-datagram socket and the single-threaded
// receive loop that applies requests to the routing DB.
type Server struct {
	path    string
	handler *Handler
	log     *logging.Logger
	control chan func()
}

// NewServer builds a Server; path defaults to DefaultSocketPath when
// empty.
func NewServer(path string, handler *Handler, log *logging.Logger) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Server{path: path, handler: handler, log: log, control: make(chan func(), 16)}
}

// Do schedules f onto the serve loop, which is the routing DB's only
// writer thread; configuration appliers use it to mutate
// VRF state without racing the daemon's own requests.
func (s *Server) Do(f func()) {
	s.control <- f
}

func (s *Server) drainControl() {
	for {
		select {
		case f := <-s.control:
			f()
		default:
			return
		}
	}
}

// Run binds the socket and serves until ctx is cancelled. Requests are
// handled strictly sequentially on this goroutine, which is the only
// writer of the routing DB. A restart begins disconnected:
// the daemon must re-Connect before any other request is honored.
func (s *Server) Run(ctx context.Context) error {
	_ = os.Remove(s.path)
	addr, err := net.ResolveUnixAddr("unixgram", s.path)
	if err != nil {
		return gwerrors.Wrapf(err, gwerrors.KindInternal, "cpi: resolve %s", s.path)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return gwerrors.Wrapf(err, gwerrors.KindUnavailable, "cpi: listen %s", s.path)
	}
	defer func() {
		conn.Close()
		_ = os.Remove(s.path)
	}()

	s.handler.Reset()
	s.log.Info("cpi: listening", logging.F("path", s.path))

	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.drainControl()
		// A short deadline keeps the loop responsive to cancellation
		// without busy-waiting; this is the loop's only suspension point.
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, peer, err := conn.ReadFromUnix(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("cpi: read failed", logging.F("err", err.Error()))
			continue
		}

		req, err := Decode(buf[:n])
		if err != nil {
			s.log.Warn("cpi: malformed request", logging.F("err", err.Error()))
			continue
		}
		resp := s.handler.Handle(req)
		if peer == nil {
			continue
		}
		if _, err := conn.WriteToUnix(EncodeResponse(resp), peer); err != nil {
			s.log.Warn("cpi: ack write failed", logging.F("err", err.Error()))
		}
	}
}
