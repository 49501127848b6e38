// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// gwcored is the gateway core daemon: it loads the declarative overlay
// configuration, compiles the per-VNI NAT tables, serves the CPI to the
// routing daemon, manages FRR configuration pushes, reconciles kernel
// interfaces, and runs the packet-forwarding worker pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/grimm-is/gwcore/internal/clisock"
	"github.com/grimm-is/gwcore/internal/config"
	"github.com/grimm-is/gwcore/internal/cpi"
	"github.com/grimm-is/gwcore/internal/dataplane"
	"github.com/grimm-is/gwcore/internal/forward"
	"github.com/grimm-is/gwcore/internal/frrmi"
	"github.com/grimm-is/gwcore/internal/grpcapi"
	"github.com/grimm-is/gwcore/internal/logging"
	"github.com/grimm-is/gwcore/internal/natcompile"
	"github.com/grimm-is/gwcore/internal/netutil"
	"github.com/grimm-is/gwcore/internal/prefix"
	"github.com/grimm-is/gwcore/internal/reconcile"
	"github.com/grimm-is/gwcore/internal/rib"
	"github.com/grimm-is/gwcore/internal/statefulnat"
	"github.com/grimm-is/gwcore/internal/statefulnat/apalloc"
	"github.com/grimm-is/gwcore/internal/supervisor"
	"github.com/grimm-is/gwcore/internal/wire"
)

type options struct {
	configPath string
	ifacesPath string
	cpiSocket  string
	cliSocket  string
	frrSocket  string
	grpcListen string
	iface      string
	workers    int
	stateDir   string
	vtepIP     string
	vtepMAC    string
	logLevel   string
	noKernel   bool
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.configPath, "config", "", "overlay configuration file (HCL)")
	flag.StringVar(&o.ifacesPath, "interfaces", "", "static interface requirements file (YAML)")
	flag.StringVar(&o.cpiSocket, "cpi-socket", cpi.DefaultSocketPath, "routing daemon CPI socket path")
	flag.StringVar(&o.cliSocket, "cli-socket", clisock.DefaultSocketPath, "operator CLI socket path")
	flag.StringVar(&o.frrSocket, "frr-socket", frrmi.DefaultSocketPath, "FRR management agent socket path")
	flag.StringVar(&o.grpcListen, "grpc-listen", "127.0.0.1:50051", "configuration ingress listen address")
	flag.StringVar(&o.iface, "iface", "", "underlay interface for the dataplane (empty = control plane only)")
	flag.IntVar(&o.workers, "workers", runtime.NumCPU(), "dataplane worker count")
	flag.StringVar(&o.stateDir, "state-dir", "/var/lib/gwcored", "crash/safe-mode state directory")
	flag.StringVar(&o.vtepIP, "vtep-ip", "", "local VTEP source address")
	flag.StringVar(&o.vtepMAC, "vtep-mac", "", "local VTEP source MAC (derived from iface when empty)")
	flag.StringVar(&o.logLevel, "log-level", "info", "debug|info|warn|error")
	flag.BoolVar(&o.noKernel, "no-kernel", false, "disable kernel interface reconciliation")
	flag.Parse()
	return o
}

func logLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// daemon aggregates the long-lived subsystems.
type daemon struct {
	log      *logging.Logger
	opts     *options
	vtep     forward.Vtep
	vrfs     *rib.VrfTable
	fibSync  *rib.FibSync
	rmacs    *rib.RmacStore
	stage      *statefulnat.Stage
	alloc      *apalloc.Allocator
	staticReqs []reconcile.Requirement
	pipeline *dataplane.Pipeline
	cpiSrv   *cpi.Server
	frr      *frrmi.Frrmi
	rec      *reconcile.Reconciler
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	opts := parseFlags()
	log := logging.New(os.Stderr, logLevel(opts.logLevel)).Named("gwcored")

	safeMode := false
	if !supervisor.ShouldSkipDetection() {
		sup := supervisor.New(opts.stateDir, supervisor.DefaultConfig())
		safeMode = sup.ShouldEnterSafeMode()
		if safeMode {
			log.Error("crash loop detected; starting in safe mode without dataplane workers")
		}
		sup.StartStabilityTimer()
		defer func() {
			if r := recover(); r != nil {
				_ = sup.RecordExit(1, 0, true)
				panic(r)
			}
		}()
	}

	d := &daemon{
		log:     log,
		opts:    opts,
		vrfs:    rib.NewVrfTable(),
		fibSync: rib.NewFibSync(),
		rmacs:   rib.NewRmacStore(),
		alloc:   apalloc.New(),
	}
	d.stage = statefulnat.NewStage(d.alloc)

	if err := d.setupVtep(); err != nil {
		return err
	}
	d.pipeline = dataplane.NewPipeline(d.vtep, d.stage, log.Named("dataplane"))

	handler := cpi.NewHandler(d.vrfs, d.fibSync, d.rmacs, d.pipeline.PublishFibs, log.Named("cpi"))
	d.cpiSrv = cpi.NewServer(opts.cpiSocket, handler, log.Named("cpi"))
	d.frr = frrmi.New(opts.frrSocket, log.Named("frrmi"))

	underlay := rib.NewVrf("default", rib.VrfId(dataplane.UnderlayVrf))
	if err := d.vrfs.AddVrf(underlay); err != nil {
		return err
	}
	if d.vtep.Ip.IsValid() {
		d.installVtepRoute(underlay)
	}

	var kernel reconcile.Kernel
	if !opts.noKernel {
		nk, err := reconcile.NewNetlinkKernel()
		if err != nil {
			log.Warn("kernel reconciliation unavailable", logging.F("err", err.Error()))
		} else {
			kernel = nk
			defer nk.Close()
		}
	}
	if kernel != nil {
		d.rec = reconcile.New(kernel, log.Named("reconcile"))
	}
	if opts.ifacesPath != "" {
		reqs, err := reconcile.LoadRequirementsYAML(opts.ifacesPath)
		if err != nil {
			return err
		}
		d.staticReqs = reqs
		if d.rec != nil {
			d.rec.SetDeclared(reqs)
		}
	}

	if opts.configPath != "" {
		overlay, err := config.LoadOverlayHCL(opts.configPath)
		if err != nil {
			return err
		}
		if err := d.applyOverlay(overlay, 0, true); err != nil {
			return err
		}
	}
	handler.Republish()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.cpiSrv.Run(ctx) })
	g.Go(func() error { return d.frr.Run(ctx) })
	g.Go(func() error { return d.runCli(ctx) })
	g.Go(func() error { return d.runGrpc(ctx) })
	if d.rec != nil {
		g.Go(func() error { return d.rec.Run(ctx, 0) })
	}
	if opts.iface != "" && !safeMode {
		pio, err := dataplane.OpenAfPacket(opts.iface)
		if err != nil {
			return err
		}
		defer pio.Close()
		pool := dataplane.NewWorkerPool(d.pipeline, pio, opts.workers, log.Named("dataplane"))
		g.Go(func() error { return pool.Run(ctx) })
	}

	log.Info("gwcored started",
		logging.F("cpi", opts.cpiSocket),
		logging.F("grpc", opts.grpcListen),
		logging.F("iface", opts.iface))
	return g.Wait()
}

func (d *daemon) setupVtep() error {
	if d.opts.vtepIP != "" {
		ip, err := netip.ParseAddr(d.opts.vtepIP)
		if err != nil {
			return fmt.Errorf("bad -vtep-ip: %w", err)
		}
		d.vtep.Ip = ip
	}
	switch {
	case d.opts.vtepMAC != "":
		raw, err := netutil.ParseMAC(d.opts.vtepMAC)
		if err != nil {
			return fmt.Errorf("bad -vtep-mac: %w", err)
		}
		mac, err := wire.ParseMAC(raw)
		if err != nil {
			return err
		}
		d.vtep.Mac = mac
	case d.opts.iface != "":
		ifi, err := net.InterfaceByName(d.opts.iface)
		if err == nil {
			if mac, err := wire.ParseMAC(ifi.HardwareAddr); err == nil {
				d.vtep.Mac = mac
			}
		}
	}
	if d.vtep.Mac == (wire.MAC{}) {
		mac, err := wire.ParseMAC(netutil.GenerateVirtualMAC("gwcored"))
		if err == nil {
			d.vtep.Mac = mac
		}
	}
	return nil
}

// installVtepRoute makes the local VTEP address terminate in the
// underlay VRF so inbound VXLAN decapsulates.
func (d *daemon) installVtepRoute(underlay *rib.Vrf) {
	bits := 32
	if d.vtep.Ip.Is6() {
		bits = 128
	}
	p, err := prefix.New(d.vtep.Ip, bits)
	if err != nil {
		d.log.Warn("cannot install VTEP route", logging.F("err", err.Error()))
		return
	}
	d.fibSync.InstallRoute(underlay, p, rib.Route{
		Type:  rib.RouteTypeLocal,
		Nhops: []rib.NhopKey{},
	})
}

// applyOverlay realizes one configuration generation: tenant VRFs, NAT
// tables, stateful pools, kernel interface requirements, and the FIB
// snapshot. Failures reject the generation without partial apply.
func (d *daemon) applyOverlay(overlay *config.Overlay, generation int64, startup bool) error {
	tables, err := natcompile.Compile(overlay)
	if err != nil {
		return err
	}
	if err := statefulnat.Provision(d.alloc, d.stage, overlay); err != nil {
		return err
	}

	for _, vpc := range overlay.Vpcs.All() {
		if _, exists := d.vrfs.Get(rib.VrfId(vpc.Vni)); exists {
			continue
		}
		v := rib.NewVrf("vrf-"+vpc.Name, rib.VrfId(vpc.Vni))
		v.SetVni(vpc.Vni)
		if err := d.vrfs.AddVrf(v); err != nil {
			return err
		}
	}

	d.pipeline.PublishNatTables(tables)

	if d.rec != nil {
		d.rec.SetDeclared(d.requirements(overlay))
	}
	d.log.Info("overlay configuration applied",
		logging.F("generation", generation),
		logging.F("vpcs", len(overlay.Vpcs.All())),
		logging.F("peerings", len(overlay.Peerings.All())))
	return nil
}

// requirements derives the kernel interface set for the overlay: one
// VRF device, bridge, and VTEP per VPC, chained by enslavement.
func (d *daemon) requirements(overlay *config.Overlay) []reconcile.Requirement {
	reqs := append([]reconcile.Requirement{}, d.staticReqs...)
	for _, vpc := range overlay.Vpcs.All() {
		vrfName := "vrf-" + vpc.Name
		brName := "br-" + vpc.Name
		reqs = append(reqs,
			reconcile.Requirement{Name: vrfName, Kind: reconcile.KindVrf, TableId: 1000 + vpc.Vni},
			reconcile.Requirement{Name: brName, Kind: reconcile.KindBridge, Master: vrfName},
			reconcile.Requirement{Name: "vtep-" + vpc.Name, Kind: reconcile.KindVtep, Vni: vpc.Vni, LocalIP: d.vtep.Ip, Master: brName},
		)
	}
	return reqs
}

func (d *daemon) runCli(ctx context.Context) error {
	srv := clisock.NewServer(d.opts.cliSocket, d.log.Named("cli"))
	srv.Register("show-vpcs", func() (any, error) {
		var out []map[string]any
		for _, v := range d.vrfs.All() {
			out = append(out, map[string]any{"name": v.Name, "id": uint32(v.Id), "vni": v.Vni})
		}
		return out, nil
	})
	srv.Register("show-sessions", func() (any, error) {
		return map[string]any{"sessions": d.stage.Sessions().Len()}, nil
	})
	srv.Register("show-fib", func() (any, error) {
		out := map[string]any{}
		for id, rt := range d.fibSync.Tables() {
			out[fmt.Sprintf("vrf-%d", id)] = rt.Size()
		}
		return out, nil
	})
	srv.Register("show-frr-status", func() (any, error) {
		genid, _, applied := d.frr.LastApplied()
		return map[string]any{
			"connected":    d.frr.Connected(),
			"pending":      d.frr.Pending(),
			"last_applied": genid,
			"has_applied":  applied,
		}, nil
	})
	return srv.Run(ctx)
}

func (d *daemon) runGrpc(ctx context.Context) error {
	lis, err := net.Listen("tcp", d.opts.grpcListen)
	if err != nil {
		return err
	}
	srv := grpcapi.NewServer(func(cfg *grpcapi.GatewayConfig) error {
		// Route the mutation through the CPI loop, the routing DB's only
		// writer thread.
		errCh := make(chan error, 1)
		d.cpiSrv.Do(func() {
			errCh <- d.applyOverlay(cfg.Overlay, cfg.Generation, false)
		})
		return <-errCh
	}, d.log.Named("grpcapi"))

	go func() {
		<-ctx.Done()
		srv.Stop()
	}()
	return srv.Serve(lis)
}
