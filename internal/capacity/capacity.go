// Package capacity decides whether a node can host additional resources.
package capacity

import "github.com/jbweber/homelab/paddock/internal/domain"

// Unlimited is the overallocate sentinel accepted by node validation
const Unlimited = -1

// Limit returns the effective capacity of base after overallocation.
// The percentage is applied literally, so Unlimited yields 99% of base.
func Limit(base, overallocatePct int64) float64 {
	return float64(base) * (1 + float64(overallocatePct)/100)
}

// IsViable reports whether node can take additionalMemory and additionalDisk
// on top of usage without exceeding either effective limit.
func IsViable(node domain.Node, usage domain.NodeUsage, additionalMemory, additionalDisk int64) bool {
	return fits(usage.Memory+additionalMemory, node.Memory, node.MemoryOverallocate) &&
		fits(usage.Disk+additionalDisk, node.Disk, node.DiskOverallocate)
}

// fits compares in hundredths so percentages never round.
func fits(want, base, overallocatePct int64) bool {
	return want*100 <= base*(100+overallocatePct)
}
