// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package reconcile

import (
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	gwerrors "github.com/grimm-is/gwcore/internal/errors"
)

type yamlRequirement struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Table  uint32 `yaml:"table,omitempty"`
	Vni    uint32 `yaml:"vni,omitempty"`
	Local  string `yaml:"local,omitempty"`
	Master string `yaml:"master,omitempty"`
}

type yamlDeclared struct {
	Interfaces []yamlRequirement `yaml:"interfaces"`
}

// LoadRequirementsYAML reads a static interface-requirements file, the
// operator-supplied complement to the requirements the daemon derives
// from the overlay configuration (e.g. extra bridges an appliance image
// must keep converged).
func LoadRequirementsYAML(path string) ([]Requirement, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, gwerrors.Wrapf(err, gwerrors.KindNotFound, "reconcile: read %s", path)
	}
	var doc yamlDeclared
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, gwerrors.Wrapf(err, gwerrors.KindValidation, "reconcile: decode %s", path)
	}

	reqs := make([]Requirement, 0, len(doc.Interfaces))
	for _, y := range doc.Interfaces {
		if y.Name == "" {
			return nil, gwerrors.New(gwerrors.KindValidation, "reconcile: interface requirement without name")
		}
		req := Requirement{Name: y.Name, Master: y.Master}
		switch y.Kind {
		case "vrf":
			req.Kind = KindVrf
			req.TableId = y.Table
		case "bridge":
			req.Kind = KindBridge
		case "vtep":
			req.Kind = KindVtep
			req.Vni = y.Vni
			if y.Local != "" {
				addr, err := netip.ParseAddr(y.Local)
				if err != nil {
					return nil, gwerrors.Wrapf(err, gwerrors.KindValidation, "reconcile: %s local address", y.Name)
				}
				req.LocalIP = addr
			}
		default:
			return nil, gwerrors.Errorf(gwerrors.KindValidation, "reconcile: %s: unknown kind %q", y.Name, y.Kind)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
