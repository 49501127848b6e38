// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package frrmi implements the FRR-management interface: a
// length-prefixed request/response channel over a unix stream socket to
// the external configuration applier, with reconnect, per-request
// timeout, and configurable retries.
//
// The frame fields are serialized little-endian on the wire.
package frrmi

import (
	"encoding/binary"
	"io"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// frameHeaderLen is the fixed prefix: u64 payload length plus i64
// generation id, both little-endian.
const frameHeaderLen = 16

// maxFramePayload bounds a single rendered configuration; a genuinely
// larger one indicates a corrupt frame, not a bigger config.
const maxFramePayload = 16 * 1024 * 1024

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, genid int64, payload []byte) error {
	var hdr [frameHeaderLen]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(len(payload)))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(genid))
	if _, err := w.Write(hdr[:]); err != nil {
		return gwerrors.Wrap(err, gwerrors.KindUnavailable, "frrmi: write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return gwerrors.Wrap(err, gwerrors.KindUnavailable, "frrmi: write frame payload")
	}
	return nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (genid int64, payload []byte, err error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, gwerrors.Wrap(err, gwerrors.KindUnavailable, "frrmi: read frame header")
	}
	n := binary.LittleEndian.Uint64(hdr[0:8])
	genid = int64(binary.LittleEndian.Uint64(hdr[8:16]))
	if n > maxFramePayload {
		return 0, nil, gwerrors.Errorf(gwerrors.KindValidation, "frrmi: frame payload %d exceeds bound", n)
	}
	payload = make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, gwerrors.Wrap(err, gwerrors.KindUnavailable, "frrmi: read frame payload")
	}
	return genid, payload, nil
}
