// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package dataplane

import (
	"context"
	"net"
	"time"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// mtuHeadroom sizes receive buffers: jumbo frame plus VXLAN overhead.
const mtuHeadroom = 9216

// AfPacketIO is the production PacketIO: a raw AF_PACKET socket bound
// to the underlay interface.
type AfPacketIO struct {
	conn *packet.Conn
	ifi  *net.Interface
}

// OpenAfPacket binds a raw socket to ifname receiving all ethertypes.
func OpenAfPacket(ifname string) (*AfPacketIO, error) {
	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, gwerrors.Wrapf(err, gwerrors.KindNotFound, "dataplane: interface %s", ifname)
	}
	conn, err := packet.Listen(ifi, packet.Raw, unix.ETH_P_ALL, nil)
	if err != nil {
		return nil, gwerrors.Wrapf(err, gwerrors.KindUnavailable, "dataplane: AF_PACKET on %s", ifname)
	}
	return &AfPacketIO{conn: conn, ifi: ifi}, nil
}

// Recv reads one frame, polling in short slices so ctx cancellation is
// honored promptly.
func (a *AfPacketIO) Recv(ctx context.Context) ([]byte, error) {
	buf := make([]byte, mtuHeadroom)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = a.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := a.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil, gwerrors.Wrap(err, gwerrors.KindUnavailable, "dataplane: read")
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	}
}

// Send transmits one frame out the bound interface.
func (a *AfPacketIO) Send(frame []byte) error {
	addr := &packet.Addr{HardwareAddr: a.ifi.HardwareAddr}
	if _, err := a.conn.WriteTo(frame, addr); err != nil {
		return gwerrors.Wrap(err, gwerrors.KindUnavailable, "dataplane: write")
	}
	return nil
}

// Close releases the socket.
func (a *AfPacketIO) Close() error { return a.conn.Close() }
