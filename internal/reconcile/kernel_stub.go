// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package reconcile

import (
	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

// NetlinkKernel is only functional on linux.
type NetlinkKernel struct{}

func NewNetlinkKernel() (*NetlinkKernel, error) {
	return nil, gwerrors.New(gwerrors.KindUnavailable, "reconcile: netlink is linux-only")
}

func (k *NetlinkKernel) Close() {}

func (k *NetlinkKernel) Observe() ([]Observed, error) {
	return nil, gwerrors.New(gwerrors.KindUnavailable, "reconcile: netlink is linux-only")
}

func (k *NetlinkKernel) Create(Requirement) error {
	return gwerrors.New(gwerrors.KindUnavailable, "reconcile: netlink is linux-only")
}

func (k *NetlinkKernel) Update(Requirement, Observed) error {
	return gwerrors.New(gwerrors.KindUnavailable, "reconcile: netlink is linux-only")
}

func (k *NetlinkKernel) Remove(string) error {
	return gwerrors.New(gwerrors.KindUnavailable, "reconcile: netlink is linux-only")
}
