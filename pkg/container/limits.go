// Package container holds the configuration constants that size every
// fixed table in the core, collected into a single struct.
package container

// Limits carries the sizes of every statically-allocated table and the
// default cgroup accounting window. An embedded build would fix these at
// compile time; here they are ordinary constructor arguments so the demo
// CLI and tests can vary them.
type Limits struct {
	MaxCgroups         int
	MaxCgroupTaskSlots int
	CgroupWindowTicks  uint64

	MaxPidNamespaces   int
	MaxVirtualPIDPerNS uint32

	MaxIpcNamespaces   int
	MaxIpcObjectsPerNS int
}

// DefaultLimits returns a reasonable set of table sizes for a small,
// statically-bounded embedded deployment.
func DefaultLimits() Limits {
	return Limits{
		MaxCgroups:         8,
		MaxCgroupTaskSlots: 64,
		CgroupWindowTicks:  1000,

		MaxPidNamespaces:   8,
		MaxVirtualPIDPerNS: 256,

		MaxIpcNamespaces:   8,
		MaxIpcObjectsPerNS: 32,
	}
}
