// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleOverlayHCL = `
vpc "vpc-a" {
  id  = "id-a"
  vni = 100
}

vpc "vpc-b" {
  id  = "id-b"
  vni = 200
}

peering "a-b" {
  left "vpc-a" {
    expose "public" {
      ips      = ["10.0.0.0/24"]
      as_range = ["100.64.1.0/24"]
      nat      = "stateless"
    }
  }

  right "vpc-b" {
    expose "public" {
      ips = ["10.0.1.0/24"]
    }
  }
}
`

func TestLoadOverlayHCL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sampleOverlayHCL), 0o644))

	overlay, err := LoadOverlayHCL(path)
	require.NoError(t, err)
	require.Len(t, overlay.Vpcs.All(), 2)
	require.Len(t, overlay.Peerings.All(), 1)

	p := overlay.Peerings.All()[0]
	require.Equal(t, "vpc-a", p.Left.Name)
	require.Equal(t, NatStateless, p.Left.Exposes[0].Mode)
	require.Equal(t, "100.64.1.0/24", p.Left.Exposes[0].AsRange[0].String())
}

func TestLoadOverlayHCLRejectsBadVni(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.hcl")
	bad := `
vpc "vpc-a" {
  id  = "id-a"
  vni = 99999999
}
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))
	_, err := LoadOverlayHCL(path)
	require.Error(t, err)
}
