// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"context"
	"io"
	"sync"
)

// MemIO is an in-memory PacketIO over channels, used by tests and the
// packet-replay tooling. Recv returns io.EOF once the RX channel is
// closed and drained.
type MemIO struct {
	rx chan []byte

	mu   sync.Mutex
	sent [][]byte
}

// NewMemIO returns a MemIO with the given RX buffer depth.
func NewMemIO(depth int) *MemIO {
	return &MemIO{rx: make(chan []byte, depth)}
}

// Inject queues a frame for the workers.
func (m *MemIO) Inject(frame []byte) { m.rx <- frame }

// Finish closes the RX side; workers drain and terminate.
func (m *MemIO) Finish() { close(m.rx) }

// Recv pops the next frame.
func (m *MemIO) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-m.rx:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
}

// Send records the egress frame.
func (m *MemIO) Send(frame []byte) error {
	m.mu.Lock()
	m.sent = append(m.sent, frame)
	m.mu.Unlock()
	return nil
}

// Sent returns every frame sent so far.
func (m *MemIO) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte{}, m.sent...)
}

// Close implements PacketIO.
func (m *MemIO) Close() error { return nil }
