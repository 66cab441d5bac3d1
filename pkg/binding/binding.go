// Package binding defines the narrow contract the container isolation core
// needs from its host scheduler: a comparable task identity plus the small
// set of per-task accessors the core reads and writes. Everything else about
// how tasks are scheduled, created, or torn down stays outside the core.
package binding

// TaskID identifies a schedulable unit of work. The core never interprets
// it beyond equality and use as a map/accessor key.
type TaskID uint64

// Invalid is the zero-value TaskID; no live task is ever assigned it.
const Invalid TaskID = 0

// Accessor is the host-provided view into per-task state that the core
// subsystems need to read or mutate. A real cooperative-kernel port
// implements this directly against its TCB; pkg/simhost implements it over
// an in-memory map for tests and the demo CLI.
type Accessor interface {
	// CgroupSlot returns the cgroup slot index currently bound to task, or
	// -1 if the task is not a cgroup member. This keeps the task->cgroup
	// lookup O(1) on the dispatch path.
	CgroupSlot(task TaskID) int
	// SetCgroupSlot records the cgroup slot index bound to task (-1 to
	// clear).
	SetCgroupSlot(task TaskID, slot int)

	// PidNsSlot / SetPidNsSlot mirror CgroupSlot for PID namespace
	// membership.
	PidNsSlot(task TaskID) int
	SetPidNsSlot(task TaskID, slot int)

	// VirtualPID returns the task's virtual PID within its PID namespace,
	// or 0 if the task has none. SetVirtualPID records it (0 to clear).
	// The value is only meaningful while PidNsSlot is >= 0.
	VirtualPID(task TaskID) uint32
	SetVirtualPID(task TaskID, vpid uint32)

	// IpcNsSlot / SetIpcNsSlot mirror CgroupSlot for IPC namespace
	// membership.
	IpcNsSlot(task TaskID) int
	SetIpcNsSlot(task TaskID, slot int)
}
