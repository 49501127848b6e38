// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package grpcapi is the thin gRPC configuration-ingress surface: it
// receives the versioned gateway schema (generation, device, underlay,
// overlay), converts it field-for-field into the internal configuration
// model, and hands the result to the applier. This layer is deliberately
// nothing but conversion; validation and compilation happen behind it.
//
// The wire schema rides in structpb documents over a hand-registered
// grpc.ServiceDesc rather than a generated stub: the schema is a single
// self-describing record and the repository ships no protoc toolchain.
package grpcapi

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/grimm-is/gwcore/internal/config"
	gwerrors "github.com/grimm-is/gwcore/internal/errors"
	"github.com/grimm-is/gwcore/internal/prefix"
)

// Numeric enumeration values of the wire schema.
const (
	DriverKernel int64 = 0
	DriverDPDK   int64 = 1

	IfTypeEthernet int64 = 0
	IfTypeVlan     int64 = 1
	IfTypeLoopback int64 = 2

	RoleFabric   int64 = 0
	RoleExternal int64 = 1

	natModeNone      int64 = 0
	natModeStateless int64 = 1
	natModeStateful  int64 = 2
)

// DeviceConfig mirrors the schema's device block.
type DeviceConfig struct {
	Name   string
	Driver int64
}

// UnderlayInterface is one underlay port declaration.
type UnderlayInterface struct {
	Name   string
	Type   int64
	Role   int64
	VtepIP string
	MAC    string
}

// GatewayConfig is one configuration generation as received on the wire.
type GatewayConfig struct {
	Generation int64
	Device     DeviceConfig
	Underlay   []UnderlayInterface
	Overlay    *config.Overlay
}

func field(s *structpb.Struct, name string) *structpb.Value {
	if s == nil {
		return nil
	}
	return s.Fields[name]
}

func stringField(s *structpb.Struct, name string) string {
	if v := field(s, name); v != nil {
		return v.GetStringValue()
	}
	return ""
}

func numField(s *structpb.Struct, name string) int64 {
	if v := field(s, name); v != nil {
		return int64(v.GetNumberValue())
	}
	return 0
}

func listField(s *structpb.Struct, name string) []*structpb.Value {
	if v := field(s, name); v != nil {
		return v.GetListValue().GetValues()
	}
	return nil
}

func prefixList(s *structpb.Struct, name string) ([]prefix.Prefix, error) {
	var out []prefix.Prefix
	for _, v := range listField(s, name) {
		p, err := prefix.Parse(v.GetStringValue())
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func convertExpose(s *structpb.Struct) (config.VpcExpose, error) {
	var e config.VpcExpose
	var err error
	e.Name = stringField(s, "name")
	if e.Ips, err = prefixList(s, "ips"); err != nil {
		return e, err
	}
	if e.Nots, err = prefixList(s, "nots"); err != nil {
		return e, err
	}
	if e.AsRange, err = prefixList(s, "as_range"); err != nil {
		return e, err
	}
	if e.NotAs, err = prefixList(s, "not_as"); err != nil {
		return e, err
	}
	switch numField(s, "nat_mode") {
	case natModeNone:
		e.Mode = config.NatNone
	case natModeStateless:
		e.Mode = config.NatStateless
	case natModeStateful:
		e.Mode = config.NatStateful
		timeout := numField(s, "idle_timeout_seconds")
		if timeout <= 0 {
			e.Stateful.IdleTimeout = config.DefaultStatefulIdleTimeout
		} else {
			e.Stateful.IdleTimeout = time.Duration(timeout) * time.Second
		}
	default:
		return e, gwerrors.Errorf(gwerrors.KindValidation, "grpcapi: unknown nat mode %d", numField(s, "nat_mode"))
	}
	return e, nil
}

func convertManifest(s *structpb.Struct) (config.VpcManifest, error) {
	m := config.VpcManifest{Name: stringField(s, "name")}
	for _, v := range listField(s, "exposes") {
		e, err := convertExpose(v.GetStructValue())
		if err != nil {
			return m, err
		}
		m.Exposes = append(m.Exposes, e)
	}
	return m, nil
}

func convertOverlay(s *structpb.Struct) (*config.Overlay, error) {
	overlay := config.NewOverlay()
	for _, v := range listField(s, "vpcs") {
		vs := v.GetStructValue()
		vpc := &config.Vpc{
			Name: stringField(vs, "name"),
			Id:   stringField(vs, "id"),
			Vni:  uint32(numField(vs, "vni")),
		}
		if err := overlay.Vpcs.Add(vpc); err != nil {
			return nil, err
		}
	}
	for _, v := range listField(s, "peerings") {
		ps := v.GetStructValue()
		left, err := convertManifest(field(ps, "left").GetStructValue())
		if err != nil {
			return nil, err
		}
		right, err := convertManifest(field(ps, "right").GetStructValue())
		if err != nil {
			return nil, err
		}
		peering := &config.VpcPeering{Name: stringField(ps, "name"), Left: left, Right: right}
		if err := overlay.Peerings.Add(peering); err != nil {
			return nil, err
		}
	}
	return overlay, nil
}

// ConvertGatewayConfig decodes one wire document into a GatewayConfig.
func ConvertGatewayConfig(s *structpb.Struct) (*GatewayConfig, error) {
	if s == nil {
		return nil, gwerrors.New(gwerrors.KindValidation, "grpcapi: empty config document")
	}
	cfg := &GatewayConfig{Generation: numField(s, "generation")}

	dev := field(s, "device").GetStructValue()
	cfg.Device = DeviceConfig{Name: stringField(dev, "name"), Driver: numField(dev, "driver")}

	for _, v := range listField(field(s, "underlay").GetStructValue(), "interfaces") {
		is := v.GetStructValue()
		cfg.Underlay = append(cfg.Underlay, UnderlayInterface{
			Name:   stringField(is, "name"),
			Type:   numField(is, "type"),
			Role:   numField(is, "role"),
			VtepIP: stringField(is, "vtep_ip"),
			MAC:    stringField(is, "mac"),
		})
	}

	overlay, err := convertOverlay(field(s, "overlay").GetStructValue())
	if err != nil {
		return nil, err
	}
	cfg.Overlay = overlay
	return cfg, nil
}
