// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dataplane wires the per-packet pipeline together and runs it
// on a pool of worker goroutines: VXLAN decap, LPM forwarding, stateless
// NAT, stateful NAT, and VXLAN encap, fed from a raw packet source.
// Control-plane state reaches the workers exclusively through published
// copy-on-write snapshots; the session table and allocator
// are the only cross-thread mutable structures and carry their own
// fine-grained locks.
package dataplane

import (
	"time"

	"github.com/grimm-is/gwcore/internal/forward"
	"github.com/grimm-is/gwcore/internal/logging"
	"github.com/grimm-is/gwcore/internal/natcompile"
	"github.com/grimm-is/gwcore/internal/packet"
	"github.com/grimm-is/gwcore/internal/statefulnat"
	"github.com/grimm-is/gwcore/internal/statelessnat"
	"github.com/grimm-is/gwcore/internal/wire"
)

// UnderlayVrf is the VRF every frame enters the pipeline in before
// decap re-homes it.
const UnderlayVrf uint32 = 0

// maxRecirculations bounds decap re-entry into the forwarding stage so
// a malicious nesting of VXLAN headers cannot loop a worker.
const maxRecirculations = 4

// Pipeline holds the stages and published snapshots shared by all
// workers.
type Pipeline struct {
	fibs *Snapshot[forward.Fibs]
	nat  *Snapshot[natcompile.NatTables]

	stateful *statefulnat.Stage
	vtep     forward.Vtep
	log      *logging.Logger
	now      func() time.Time
}

// NewPipeline builds a Pipeline. stateful may be nil when no stateful
// NAT is configured.
func NewPipeline(vtep forward.Vtep, stateful *statefulnat.Stage, log *logging.Logger) *Pipeline {
	return &Pipeline{
		fibs:     NewSnapshot[forward.Fibs](nil),
		nat:      NewSnapshot[natcompile.NatTables](nil),
		stateful: stateful,
		vtep:     vtep,
		log:      log,
		now:      time.Now,
	}
}

// PublishFibs atomically swaps the FIB snapshot seen by workers.
func (p *Pipeline) PublishFibs(f *forward.Fibs) { p.fibs.Publish(f) }

// PublishNatTables atomically swaps the stateless NAT tables.
func (p *Pipeline) PublishNatTables(t *natcompile.NatTables) { p.nat.Publish(t) }

// ProcessFrame runs one received frame through the full pipeline. It
// returns the serialized egress frame, or nil with the DoneReason the
// packet retired with. Stage errors never escape a worker: they become
// the packet's DoneReason.
func (p *Pipeline) ProcessFrame(buf []byte) ([]byte, packet.DoneReason) {
	h, n, err := wire.Parse(buf)
	if err != nil {
		return nil, packet.DoneMalformed
	}
	pkt := packet.NewWithPayload(h, buf[n:])
	pkt.Meta.Vrf, pkt.Meta.HasVrf = UnderlayVrf, true

	fibs := p.fibs.Enter()
	if fibs == nil {
		return nil, packet.DoneInternalFailure
	}

	for i := 0; ; i++ {
		if !forward.Process(fibs, p.vtep, pkt) {
			break
		}
		if i == maxRecirculations {
			pkt.Done(packet.DoneMalformed)
			break
		}
	}
	if pkt.IsDone() {
		return nil, pkt.Reason()
	}

	p.translate(pkt)
	if pkt.IsDone() {
		return nil, pkt.Reason()
	}

	out, err := p.serialize(pkt)
	if err != nil {
		p.log.Warn("dataplane: egress serialization failed", logging.F("err", err.Error()))
		return nil, packet.DoneInternalFailure
	}
	return out, packet.DoneNone
}

// translate runs the NAT stages. A successful stateless translation
// clears the nat flag so the stateful stage does not re-translate.
func (p *Pipeline) translate(pkt *packet.Packet) {
	if pkt.Meta.HasSrcVni && pkt.Meta.HasDstVni {
		if tables := p.nat.Enter(); tables != nil {
			modified, err := statelessnat.Translate(tables, pkt)
			if err != nil {
				pkt.Done(statelessnat.ToDoneReason(err))
				return
			}
			if modified {
				pkt.Meta.ChecksumRefresh = true
				pkt.Meta.Nat = false
			}
		}
	}

	if p.stateful != nil && pkt.Meta.Nat {
		if err := p.stateful.Translate(pkt, p.now()); err != nil {
			pkt.Done(statefulnat.ToDoneReason(err))
		}
	}
}

// serialize emits the egress frame: the encap outer (when present)
// followed by the inner headers and payload.
func (p *Pipeline) serialize(pkt *packet.Packet) ([]byte, error) {
	innerLen := pkt.Headers.Size() + len(pkt.Payload)
	outerLen := 0
	if pkt.Outer != nil {
		outerLen = pkt.Outer.Size()
	}
	out := make([]byte, outerLen+innerLen)
	off := 0
	if pkt.Outer != nil {
		n, err := pkt.Outer.Deparse(out)
		if err != nil {
			return nil, err
		}
		off = n
	}
	n, err := pkt.Headers.Deparse(out[off:])
	if err != nil {
		return nil, err
	}
	copy(out[off+n:], pkt.Payload)
	return out[:off+n+len(pkt.Payload)], nil
}
