// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package frrmi

import (
	"context"
	"net"
	"time"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/logging"
)

// DefaultSocketPath is where the external config applier listens.
const DefaultSocketPath = "/var/run/frr/frr-agent.sock"

// RequestTimeout bounds one request/response exchange.
const RequestTimeout = 5 * time.Second

// okResponse is the applier's success payload; anything else is an
// error text.
const okResponse = "Ok"

type request struct {
	genid   int64
	payload []byte
	retries int
}

// Frrmi is the management side of the FRR-management interface. It
// queues rendered configurations by generation, services them one at a
// time, and survives applier restarts by requeueing the in-service
// request and reconnecting lazily. It is driven from the single
// cooperative I/O loop and is not internally locked.
type Frrmi struct {
	path string
	log  *logging.Logger

	// dial is injectable for tests; defaults to a unix-stream dial of path.
	dial func() (net.Conn, error)

	conn  net.Conn
	queue []*request

	lastGenid   int64
	lastApplied []byte
	hasApplied  bool
}

// New builds an Frrmi toward path (DefaultSocketPath when empty).
func New(path string, log *logging.Logger) *Frrmi {
	if path == "" {
		path = DefaultSocketPath
	}
	m := &Frrmi{path: path, log: log}
	m.dial = func() (net.Conn, error) {
		return net.DialTimeout("unix", m.path, RequestTimeout)
	}
	return m
}

// Connected reports whether a transport is currently established.
func (m *Frrmi) Connected() bool { return m.conn != nil }

// Pending returns the number of queued (not yet applied) requests.
func (m *Frrmi) Pending() int { return len(m.queue) }

// LastApplied returns the most recently acknowledged (genid, config).
func (m *Frrmi) LastApplied() (int64, []byte, bool) {
	return m.lastGenid, m.lastApplied, m.hasApplied
}

// Enqueue appends a configuration generation to the send queue. retries
// is the number of additional attempts after a failure (default 0: a
// failure is terminal for that generation). A generation already queued
// is replaced in place so the applier never sees a stale config after a
// newer one.
func (m *Frrmi) Enqueue(genid int64, payload []byte, retries int) {
	for _, r := range m.queue {
		if r.genid == genid {
			r.payload = payload
			r.retries = retries
			return
		}
	}
	m.queue = append(m.queue, &request{genid: genid, payload: payload, retries: retries})
}

// disconnect tears the transport down; buffered state dies with it.
func (m *Frrmi) disconnect() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

func (m *Frrmi) connect() error {
	if m.conn != nil {
		return nil
	}
	conn, err := m.dial()
	if err != nil {
		return gwerrors.Wrapf(err, gwerrors.KindUnavailable, "frrmi: connect %s", m.path)
	}
	m.conn = conn
	m.log.Debug("frrmi: connected", logging.F("path", m.path))
	return nil
}

// ServiceRequest dequeues the head request and runs one exchange with
// the applier under RequestTimeout. On a transport failure (timeout,
// socket error, peer closed) the connection is dropped and the request
// is requeued at the head for the next cycle. On an error response the
// request's retry budget is decremented; once exhausted the generation
// is dropped and logged.
func (m *Frrmi) ServiceRequest() error {
	if len(m.queue) == 0 {
		return nil
	}
	if err := m.connect(); err != nil {
		return err
	}

	req := m.queue[0]
	m.queue = m.queue[1:]

	deadline := time.Now().Add(RequestTimeout)
	_ = m.conn.SetDeadline(deadline)

	err := WriteFrame(m.conn, req.genid, req.payload)
	var respGenid int64
	var resp []byte
	if err == nil {
		respGenid, resp, err = ReadFrame(m.conn)
	}
	if err != nil {
		// Transport failure: disconnect, requeue at the head, reconnect
		// lazily on the next service cycle.
		m.disconnect()
		m.queue = append([]*request{req}, m.queue...)
		return gwerrors.Wrapf(err, gwerrors.KindUnavailable, "frrmi: exchange for genid %d", req.genid)
	}
	_ = m.conn.SetDeadline(time.Time{})

	if respGenid != req.genid {
		m.log.Warn("frrmi: response genid mismatch",
			logging.F("sent", req.genid), logging.F("got", respGenid))
	}
	if string(resp) == okResponse {
		m.lastGenid = req.genid
		m.lastApplied = req.payload
		m.hasApplied = true
		m.log.Info("frrmi: config applied", logging.F("genid", req.genid))
		return nil
	}

	if req.retries > 0 {
		req.retries--
		m.queue = append([]*request{req}, m.queue...)
		m.log.Warn("frrmi: apply failed, retrying",
			logging.F("genid", req.genid), logging.F("error", string(resp)), logging.F("retries_left", req.retries))
		return nil
	}
	m.log.Error("frrmi: apply failed, dropping generation",
		logging.F("genid", req.genid), logging.F("error", string(resp)))
	return nil
}

// Run services the queue until ctx is cancelled, backing off briefly
// when idle or when the applier is unreachable.
func (m *Frrmi) Run(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.disconnect()
			return nil
		case <-ticker.C:
			if len(m.queue) == 0 {
				continue
			}
			if err := m.ServiceRequest(); err != nil {
				m.log.Debug("frrmi: service cycle failed", logging.F("err", err.Error()))
			}
		}
	}
}
