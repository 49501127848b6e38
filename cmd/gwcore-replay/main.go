// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// gwcore-replay drives the dataplane pipeline offline: it reads frames
// from a hex dump (one frame per line, '#' comments allowed), runs them
// through decap/forward/NAT/encap against a given overlay configuration
// and a static FIB description, and reports each packet's outcome. It is
// the development-loop counterpart to running gwcored against a live
// interface.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/grimm-is/gwcore/internal/config"
	"github.com/grimm-is/gwcore/internal/dataplane"
	"github.com/grimm-is/gwcore/internal/fib"
	"github.com/grimm-is/gwcore/internal/forward"
	"github.com/grimm-is/gwcore/internal/logging"
	"github.com/grimm-is/gwcore/internal/natcompile"
	"github.com/grimm-is/gwcore/internal/packet"
	"github.com/grimm-is/gwcore/internal/wire"
)

func main() {
	var (
		configPath = flag.String("config", "", "overlay configuration file (HCL)")
		framesPath = flag.String("frames", "", "hex frame dump to replay")
		vtepIP     = flag.String("vtep-ip", "10.0.0.1", "local VTEP address")
		peerVtep   = flag.String("peer-vtep", "", "remote VTEP for a static encap route (optional)")
		peerPrefix = flag.String("peer-prefix", "", "prefix routed toward the peer VTEP")
		peerVni    = flag.Uint("peer-vni", 0, "VNI used toward the peer VTEP")
		localVni   = flag.Uint("local-vni", 0, "tenant VNI terminated locally")
	)
	flag.Parse()

	if err := run(*configPath, *framesPath, *vtepIP, *peerVtep, *peerPrefix, uint32(*peerVni), uint32(*localVni)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, framesPath, vtepIP, peerVtep, peerPrefix string, peerVni, localVni uint32) error {
	log := logging.New(os.Stderr, logging.LevelWarn).Named("replay")

	vtep := forward.Vtep{
		Ip:  netip.MustParseAddr(vtepIP),
		Mac: wire.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
	}
	pipeline := dataplane.NewPipeline(vtep, nil, log)

	if configPath != "" {
		overlay, err := config.LoadOverlayHCL(configPath)
		if err != nil {
			return err
		}
		tables, err := natcompile.Compile(overlay)
		if err != nil {
			return err
		}
		pipeline.PublishNatTables(tables)
	}

	fibs, err := staticFibs(vtep, peerVtep, peerPrefix, peerVni, localVni)
	if err != nil {
		return err
	}
	pipeline.PublishFibs(fibs)

	frames, err := loadFrames(framesPath)
	if err != nil {
		return err
	}
	for i, frame := range frames {
		out, reason := pipeline.ProcessFrame(frame)
		switch {
		case out != nil:
			fmt.Printf("frame %d: forwarded, %d bytes egress\n", i, len(out))
		case reason == packet.DoneDelivered:
			fmt.Printf("frame %d: delivered locally\n", i)
		default:
			fmt.Printf("frame %d: dropped (%s)\n", i, reason)
		}
	}
	return nil
}

// staticFibs builds a two-VRF FIB: the underlay terminates the local
// VTEP, and the tenant VRF routes peerPrefix through a VXLAN encap.
func staticFibs(vtep forward.Vtep, peerVtep, peerPrefix string, peerVni, localVni uint32) (*forward.Fibs, error) {
	store := fib.NewFibGroupStore()
	fibs := forward.NewFibs()

	underlay := fib.NewRouteTable()
	dropRoute := fib.NewFibRoute()
	dropRoute.Append(store.DropGroupRef())
	underlay.Insert(netip.MustParsePrefix("0.0.0.0/0"), dropRoute)

	localKey := fib.WithIfindex(1)
	store.AddOrReplace(localKey, []fib.FibEntry{{Instructions: []fib.PktInstruction{fib.Local(1)}}})
	localGroup, _ := store.GetRef(localKey)
	localRoute := fib.NewFibRoute()
	localRoute.Append(localGroup)
	bits := 32
	if vtep.Ip.Is6() {
		bits = 128
	}
	underlay.Insert(netip.PrefixFrom(vtep.Ip, bits), localRoute)
	fibs.ByVrf[dataplane.UnderlayVrf] = underlay

	if localVni == 0 {
		return fibs, nil
	}
	tenant := fib.NewRouteTable()
	tenant.Insert(netip.MustParsePrefix("0.0.0.0/0"), dropRoute)
	if peerVtep != "" && peerPrefix != "" {
		dst, err := netip.ParseAddr(peerVtep)
		if err != nil {
			return nil, err
		}
		pfx, err := netip.ParsePrefix(peerPrefix)
		if err != nil {
			return nil, err
		}
		enc := fib.Encapsulation{DstVtep: dst, Vni: peerVni, DstMac: [6]byte{0x02, 0xee, 0xee, 0xee, 0xee, 0x02}}
		encKey := fib.NhopKey{Address: dst, HasAddress: true, Encap: enc, HasEncap: true}
		store.AddOrReplace(encKey, []fib.FibEntry{{Instructions: []fib.PktInstruction{
			fib.EncapInstr(enc),
			fib.Egress(2, true, dst, true),
		}}})
		encGroup, _ := store.GetRef(encKey)
		peerRoute := fib.NewFibRoute()
		peerRoute.Append(encGroup)
		tenant.Insert(pfx, peerRoute)
	}
	fibs.ByVrf[1000+localVni] = tenant
	fibs.VrfByVni[localVni] = 1000 + localVni
	return fibs, nil
}

func loadFrames(path string) ([][]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("gwcore-replay: -frames is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frames [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.ReplaceAll(line, " ", "")
		frame, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("gwcore-replay: bad hex line: %w", err)
		}
		frames = append(frames, frame)
	}
	return frames, sc.Err()
}
