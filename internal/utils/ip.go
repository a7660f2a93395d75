package utils

import (
	"fmt"
	"net"
	"strings"
)

// ParseCIDRs parses a list of CIDR blocks, skipping blank entries.
func ParseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	var blocks []*net.IPNet
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// IsAllowedIP checks whether the IP address belongs to one of the blocks.
func IsAllowedIP(ip string, blocks []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, block := range blocks {
		if block.Contains(parsed) {
			return true
		}
	}
	return false
}
