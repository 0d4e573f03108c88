// Package netutil provides CIDR overlap checks and the reserved address pool
// used for automatic sandbox subnet allocation.
package netutil

import (
	"fmt"
	"math/rand"
	"net/netip"
)

// The automatic allocation pool is 192.168.N.0/24 for N in 2..253.
// 192.168.0.0/24 and 192.168.1.0/24 are skipped because home routers and the
// built-in template network commonly sit there; .254 and .255 stay free as
// headroom for manual use.
const (
	autoPoolFirst = 2
	autoPoolLast  = 253
)

// Overlaps reports whether the two prefixes share any address.
func Overlaps(a, b netip.Prefix) bool {
	return a.Overlaps(b)
}

// FindOverlap returns the first pair of overlapping prefixes between
// candidates and existing, or false when the sets are disjoint.
func FindOverlap(candidates, existing []netip.Prefix) (netip.Prefix, netip.Prefix, bool) {
	for _, c := range candidates {
		for _, e := range existing {
			if c.Overlaps(e) {
				return c, e, true
			}
		}
	}
	return netip.Prefix{}, netip.Prefix{}, false
}

// FindSelfOverlap returns the first pair of overlapping prefixes within ps,
// or false when all prefixes are mutually disjoint.
func FindSelfOverlap(ps []netip.Prefix) (netip.Prefix, netip.Prefix, bool) {
	for i := range ps {
		for j := i + 1; j < len(ps); j++ {
			if ps[i].Overlaps(ps[j]) {
				return ps[i], ps[j], true
			}
		}
	}
	return netip.Prefix{}, netip.Prefix{}, false
}

// AutoCandidates returns the /24 prefixes of the automatic allocation pool in
// shuffled order. Shuffling spreads concurrent allocators across the pool so
// two sessions racing for a subnet rarely pick the same candidate.
func AutoCandidates(rnd *rand.Rand) []netip.Prefix {
	out := make([]netip.Prefix, 0, autoPoolLast-autoPoolFirst+1)
	for n := autoPoolFirst; n <= autoPoolLast; n++ {
		out = append(out, netip.MustParsePrefix(fmt.Sprintf("192.168.%d.0/24", n)))
	}
	rnd.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// Gateway returns the first usable address of the prefix (network + 1).
func Gateway(p netip.Prefix) netip.Addr {
	return p.Masked().Addr().Next()
}

// DHCPRange returns the .50-.100 range of a /24 prefix, the slice handed to
// the platform's DHCP for automatically allocated subnets.
func DHCPRange(p netip.Prefix) (netip.Addr, netip.Addr) {
	base := p.Masked().Addr().As4()
	start := base
	start[3] = 50
	end := base
	end[3] = 100
	return netip.AddrFrom4(start), netip.AddrFrom4(end)
}
