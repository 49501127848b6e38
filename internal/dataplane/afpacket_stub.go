// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package dataplane

import (
	"context"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// AfPacketIO is only functional on linux.
type AfPacketIO struct{}

func OpenAfPacket(string) (*AfPacketIO, error) {
	return nil, gwerrors.New(gwerrors.KindUnavailable, "dataplane: AF_PACKET is linux-only")
}

func (a *AfPacketIO) Recv(context.Context) ([]byte, error) {
	return nil, gwerrors.New(gwerrors.KindUnavailable, "dataplane: AF_PACKET is linux-only")
}

func (a *AfPacketIO) Send([]byte) error {
	return gwerrors.New(gwerrors.KindUnavailable, "dataplane: AF_PACKET is linux-only")
}

func (a *AfPacketIO) Close() error { return nil }
