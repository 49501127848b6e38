// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package reconcile implements the kernel-state convergence loop: a
// declared set of interface requirements (VRF devices, bridges, VTEPs
// and their enslavement associations) is compared against observed
// kernel links, and the diff drives create/update/remove operations
// until the two agree.
//
// The Kernel interface isolates the netlink driver so the convergence
// logic is testable without privileges; the linux implementation lives
// in kernel_linux.go.
package reconcile

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/grimm-is/gwcore/internal/logging"
)

// LinkKind classifies a managed kernel interface.
type LinkKind int

const (
	KindVrf LinkKind = iota
	KindBridge
	KindVtep
)

func (k LinkKind) String() string {
	switch k {
	case KindVrf:
		return "vrf"
	case KindBridge:
		return "bridge"
	case KindVtep:
		return "vtep"
	default:
		return "unknown"
	}
}

// Requirement is one declared interface: what must exist and how it is
// associated. Only the fields relevant to Kind are meaningful.
type Requirement struct {
	Name string
	Kind LinkKind

	// KindVrf
	TableId uint32

	// KindVtep
	Vni     uint32
	LocalIP netip.Addr

	// Master names the link this one must be enslaved to ("" = none).
	Master string
}

// Observed is one kernel link as reported by the driver.
type Observed struct {
	Name    string
	Kind    LinkKind
	Index   int
	TableId uint32
	Vni     uint32
	LocalIP netip.Addr
	Master  string
	Up      bool
}

// Kernel is the netlink driver contract the loop converges through.
type Kernel interface {
	// Observe lists the managed-kind links currently in the kernel.
	Observe() ([]Observed, error)
	// Create realizes req from scratch, enslaving and bringing it up.
	Create(req Requirement) error
	// Update converges an existing link toward req (master, admin state).
	// Identity fields (table id, VNI) cannot be changed in place; the
	// driver recreates the link when they diverge.
	Update(req Requirement, got Observed) error
	// Remove deletes the named link.
	Remove(name string) error
}

// matches reports whether got already satisfies req.
func matches(req Requirement, got Observed) bool {
	if req.Kind != got.Kind || !got.Up || req.Master != got.Master {
		return false
	}
	switch req.Kind {
	case KindVrf:
		return req.TableId == got.TableId
	case KindVtep:
		return req.Vni == got.Vni && req.LocalIP == got.LocalIP
	default:
		return true
	}
}

// Plan is the set of operations one convergence step will drive.
type Plan struct {
	Creates []Requirement
	Updates []Requirement
	Removes []string
}

// Empty reports whether the plan is a no-op (state already converged).
func (p Plan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Removes) == 0
}

// diff computes the plan converging observed toward declared. A link is
// removed only if this reconciler previously declared it (owned), so
// foreign interfaces of the same kinds are left alone.
func diff(declared []Requirement, observed []Observed, owned map[string]bool) Plan {
	var plan Plan
	byName := make(map[string]Observed, len(observed))
	for _, o := range observed {
		byName[o.Name] = o
	}
	want := make(map[string]bool, len(declared))
	for _, req := range declared {
		want[req.Name] = true
		got, exists := byName[req.Name]
		switch {
		case !exists:
			plan.Creates = append(plan.Creates, req)
		case !matches(req, got):
			plan.Updates = append(plan.Updates, req)
		}
	}
	for _, o := range observed {
		if owned[o.Name] && !want[o.Name] {
			plan.Removes = append(plan.Removes, o.Name)
		}
	}
	return plan
}

// Reconciler runs the convergence loop over a Kernel.
type Reconciler struct {
	kernel Kernel
	log    *logging.Logger

	mu       sync.Mutex
	declared []Requirement
	owned    map[string]bool
}

// New builds a Reconciler over kernel.
func New(kernel Kernel, log *logging.Logger) *Reconciler {
	return &Reconciler{kernel: kernel, log: log, owned: make(map[string]bool)}
}

// SetDeclared replaces the declared requirement set. The next Step
// converges the kernel toward it; links dropped from the set are
// removed because the reconciler owns everything it ever declared.
func (r *Reconciler) SetDeclared(reqs []Requirement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declared = append([]Requirement{}, reqs...)
	for _, req := range reqs {
		r.owned[req.Name] = true
	}
}

// Step runs one observe/diff/act cycle and returns the plan it drove.
// Individual operation failures are logged and left for the next cycle
// rather than aborting the step.
func (r *Reconciler) Step() (Plan, error) {
	r.mu.Lock()
	declared := append([]Requirement{}, r.declared...)
	owned := make(map[string]bool, len(r.owned))
	for k, v := range r.owned {
		owned[k] = v
	}
	r.mu.Unlock()

	observed, err := r.kernel.Observe()
	if err != nil {
		return Plan{}, err
	}
	plan := diff(declared, observed, owned)

	byName := make(map[string]Observed, len(observed))
	for _, o := range observed {
		byName[o.Name] = o
	}

	for _, name := range plan.Removes {
		if err := r.kernel.Remove(name); err != nil {
			r.log.Warn("reconcile: remove failed", logging.F("link", name), logging.F("err", err.Error()))
			continue
		}
		r.mu.Lock()
		delete(r.owned, name)
		r.mu.Unlock()
		r.log.Info("reconcile: removed link", logging.F("link", name))
	}
	for _, req := range plan.Creates {
		if err := r.kernel.Create(req); err != nil {
			r.log.Warn("reconcile: create failed", logging.F("link", req.Name), logging.F("err", err.Error()))
			continue
		}
		r.log.Info("reconcile: created link", logging.F("link", req.Name), logging.F("kind", req.Kind.String()))
	}
	for _, req := range plan.Updates {
		if err := r.kernel.Update(req, byName[req.Name]); err != nil {
			r.log.Warn("reconcile: update failed", logging.F("link", req.Name), logging.F("err", err.Error()))
			continue
		}
		r.log.Info("reconcile: updated link", logging.F("link", req.Name))
	}
	return plan, nil
}

// Run steps the loop on interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Step(); err != nil {
				r.log.Warn("reconcile: observe failed", logging.F("err", err.Error()))
			}
		}
	}
}
