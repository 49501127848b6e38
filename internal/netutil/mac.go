// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netutil

import (
	"fmt"
	"net"
)

func ParseMAC(macStr string) ([]byte, error) {
	hw, err := net.ParseMAC(macStr)
	if err != nil {
		return nil, err
	}
	return hw, nil
}

func FormatMAC(mac []byte) string {
	if len(mac) != 6 {
		return ""
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// GenerateVirtualMAC derives a deterministic locally-administered
// unicast MAC from name, used for VTEPs and bridges that have no
// hardware address of their own. Prefix 02:76:78 ("vx"), suffix an
// FNV-1a fold of the name.
func GenerateVirtualMAC(name string) []byte {
	hash := uint32(2166136261)
	for _, c := range name {
		hash ^= uint32(c)
		hash *= 16777619
	}
	return []byte{
		0x02, // locally administered, unicast
		0x76,
		0x78,
		byte(hash >> 16),
		byte(hash >> 8),
		byte(hash),
	}
}
