// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package clisock implements the operator CLI socket: a unix-datagram
// endpoint accepting one serialized request per datagram and answering
// with a structured response. It shares the single-threaded cooperative
// I/O domain with the CPI, so its handlers read control-plane state
// without locking.
package clisock

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sort"
	"time"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/logging"
)

// DefaultSocketPath is the CLI endpoint.
const DefaultSocketPath = "/var/run/dataplane/cli.sock"

// Request is one CLI command.
type Request struct {
	Command string `json:"command"`
}

// Response is the structured reply.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// HandlerFunc produces the data payload for one command.
type HandlerFunc func() (any, error)

// Server is the CLI socket server; commands are registered by name.
type Server struct {
	path     string
	log      *logging.Logger
	handlers map[string]HandlerFunc
}

// NewServer builds a Server (DefaultSocketPath when path is empty).
func NewServer(path string, log *logging.Logger) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Server{path: path, log: log, handlers: make(map[string]HandlerFunc)}
}

// Register installs the handler for command.
func (s *Server) Register(command string, h HandlerFunc) { s.handlers[command] = h }

func (s *Server) dispatch(req *Request) *Response {
	h, ok := s.handlers[req.Command]
	if !ok {
		known := make([]string, 0, len(s.handlers))
		for name := range s.handlers {
			known = append(known, name)
		}
		sort.Strings(known)
		return &Response{Status: "error", Error: "unknown command", Data: map[string]any{"commands": known}}
	}
	data, err := h()
	if err != nil {
		return &Response{Status: "error", Error: err.Error()}
	}
	return &Response{Status: "ok", Data: data}
}

// Run binds the socket and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	_ = os.Remove(s.path)
	addr, err := net.ResolveUnixAddr("unixgram", s.path)
	if err != nil {
		return gwerrors.Wrapf(err, gwerrors.KindInternal, "clisock: resolve %s", s.path)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return gwerrors.Wrapf(err, gwerrors.KindUnavailable, "clisock: listen %s", s.path)
	}
	defer func() {
		conn.Close()
		_ = os.Remove(s.path)
	}()
	s.log.Info("clisock: listening", logging.F("path", s.path))

	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, peer, err := conn.ReadFromUnix(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("clisock: read failed", logging.F("err", err.Error()))
			continue
		}

		var req Request
		resp := &Response{}
		if err := json.Unmarshal(buf[:n], &req); err != nil {
			resp.Status, resp.Error = "error", "malformed request"
		} else {
			resp = s.dispatch(&req)
		}
		if peer == nil {
			continue
		}
		out, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		if _, err := conn.WriteToUnix(out, peer); err != nil {
			s.log.Warn("clisock: write failed", logging.F("err", err.Error()))
		}
	}
}
