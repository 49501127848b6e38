// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/grimm-is/gwcore/internal/logging"
	"github.com/grimm-is/gwcore/internal/packet"
)

// PacketIO is the frame source/sink a worker drives. Recv returns
// io.EOF when the iterator is exhausted, which terminates the worker
// cleanly.
type PacketIO interface {
	Recv(ctx context.Context) ([]byte, error)
	Send(frame []byte) error
	Close() error
}

// WorkerPool runs n workers over a shared Pipeline and PacketIO.
type WorkerPool struct {
	pipeline *Pipeline
	io       PacketIO
	n        int
	log      *logging.Logger
}

// NewWorkerPool builds a pool of n workers (minimum 1).
func NewWorkerPool(pipeline *Pipeline, pio PacketIO, n int, log *logging.Logger) *WorkerPool {
	if n < 1 {
		n = 1
	}
	return &WorkerPool{pipeline: pipeline, io: pio, n: n, log: log}
}

// Run blocks until every worker has terminated: on ctx cancellation or
// when the packet source is exhausted. Per-packet failures never
// propagate out of a worker; they are counted and logged.
func (w *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.n; i++ {
		worker := i
		g.Go(func() error { return w.runWorker(ctx, worker) })
	}
	return g.Wait()
}

func (w *WorkerPool) runWorker(ctx context.Context, id int) error {
	log := w.log.With(logging.F("worker", id))
	log.Debug("dataplane: worker started")
	for {
		frame, err := w.io.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Debug("dataplane: worker finished")
				return nil
			}
			log.Warn("dataplane: receive failed", logging.F("err", err.Error()))
			continue
		}
		out, reason := w.pipeline.ProcessFrame(frame)
		if out == nil {
			if reason != packet.DoneDelivered && reason != packet.DoneNone {
				log.Debug("dataplane: packet retired", logging.F("reason", reason.String()))
			}
			continue
		}
		if err := w.io.Send(out); err != nil {
			log.Warn("dataplane: send failed", logging.F("err", err.Error()))
		}
	}
}
