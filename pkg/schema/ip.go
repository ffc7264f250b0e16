package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// ipNet is an IPv4 network, stored as masked integers so membership is a
// single AND-and-compare.
type ipNet struct {
	ip   uint32
	mask uint32
}

func (n *ipNet) contains(addr uint32) bool {
	return addr&n.mask == n.ip&n.mask
}

// parseSubnet parses "A.B.C.D/N". A prefix length outside [0,32] or an
// unparsable address is an authoring error, so it surfaces as a Go error
// rather than a validation message.
func parseSubnet(s string) (*ipNet, error) {
	base, prefix, ok := strings.Cut(s, "/")
	if !ok {
		return nil, fmt.Errorf("missing prefix length")
	}
	ip, err := parseIPv4(base)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 0 || n > 32 {
		return nil, fmt.Errorf("prefix length %q out of range", prefix)
	}
	return &ipNet{ip: ip, mask: prefixMask(n)}, nil
}

func prefixMask(n int) uint32 {
	if n == 0 {
		return 0
	}
	return 0xFFFFFFFF << (32 - n)
}

// parseIPValue parses a user-supplied address, tolerating an optional CIDR
// suffix ("10.0.0.8/24" validates the host part).
func parseIPValue(s string) (uint32, error) {
	base, prefix, hasPrefix := strings.Cut(s, "/")
	if hasPrefix {
		n, err := strconv.Atoi(prefix)
		if err != nil || n < 0 || n > 32 {
			return 0, fmt.Errorf("prefix length %q out of range", prefix)
		}
	}
	return parseIPv4(base)
}

// parseIPv4 parses a strict dotted quad into its integer form.
func parseIPv4(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%q is not a dotted-quad address", s)
	}
	var addr uint32
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return 0, fmt.Errorf("%q is not a dotted-quad address", s)
		}
		octet, err := strconv.Atoi(p)
		if err != nil || octet < 0 || octet > 255 {
			return 0, fmt.Errorf("%q is not a dotted-quad address", s)
		}
		addr = addr<<8 | uint32(octet)
	}
	return addr, nil
}
