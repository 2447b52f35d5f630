// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package routeengine

import (
	"net"
	"sort"
)

// CollapseNetworks merges and re-minimizes a set of IPv4 networks into the
// smallest equivalent set of non-overlapping CIDR blocks, mirroring
// ipaddress.collapse_addresses from the original prefix-source and
// extra_nets augmentation paths.
func CollapseNetworks(nets []*net.IPNet) []*net.IPNet {
	if len(nets) == 0 {
		return nil
	}

	type span struct{ lo, hi uint64 }
	spans := make([]span, 0, len(nets))
	for _, n := range nets {
		lo, hi := networkRange(n)
		spans = append(spans, span{uint64(lo), uint64(hi)})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.lo <= last.hi+1 {
			if s.hi > last.hi {
				last.hi = s.hi
			}
			continue
		}
		merged = append(merged, s)
	}

	var out []*net.IPNet
	for _, s := range merged {
		out = append(out, summarizeUint32Range(uint32(s.lo), uint32(s.hi))...)
	}
	return out
}

// summarizeUint32Range splits an inclusive range into the minimal set of
// CIDR blocks covering it exactly.
func summarizeUint32Range(lo, hi uint32) []*net.IPNet {
	var out []*net.IPNet
	for {
		prefix := 32
		for prefix > 0 {
			trial := prefix - 1
			blockSize := uint64(1) << (32 - trial)
			aligned := uint64(lo)%blockSize == 0
			fits := uint64(lo)+blockSize-1 <= uint64(hi)
			if !aligned || !fits {
				break
			}
			prefix = trial
		}
		out = append(out, &net.IPNet{IP: uint32ToIP(lo).To4(), Mask: net.CIDRMask(prefix, 32)})

		blockSize := uint64(1) << (32 - prefix)
		next := uint64(lo) + blockSize
		if next > uint64(hi) {
			break
		}
		lo = uint32(next)
	}
	return out
}
