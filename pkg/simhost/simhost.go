// Package simhost is a reference host scheduler: an in-memory stand-in for
// the cooperative real-time kernel the container isolation core is built
// against. It exists for tests and for the demo CLI, in the same spirit as
// a hardware abstraction layer's "posix simulator" port — it implements
// exactly the accessor and scheduler surfaces pkg/binding and pkg/kernel
// require, nothing more.
package simhost

import (
	"sync"

	"github.com/was-saw/freertos-container/pkg/binding"
)

type taskState struct {
	cgroupSlot int
	pidNsSlot  int
	virtualPID uint32
	ipcNsSlot  int
}

// Host is a minimal in-memory scheduler: a monotonic tick counter, a
// "current task" pointer the caller drives explicitly, and the per-task
// binding fields the core reads and writes through binding.Accessor.
type Host struct {
	mu      sync.Mutex
	tick    uint64
	current binding.TaskID
	next    binding.TaskID
	tasks   map[binding.TaskID]*taskState
}

// NewHost creates an empty Host with no tasks and the tick counter at 0.
func NewHost() *Host {
	return &Host{
		next:  1,
		tasks: make(map[binding.TaskID]*taskState),
	}
}

// Spawn allocates a fresh TaskID and registers its binding state, defaulting
// every namespace/cgroup slot to "none" (-1).
func (h *Host) Spawn() binding.TaskID {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.tasks[id] = &taskState{cgroupSlot: -1, pidNsSlot: -1, ipcNsSlot: -1}
	return id
}

// Despawn forgets a task's binding state entirely, as if its TCB had been
// reclaimed.
func (h *Host) Despawn(task binding.TaskID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tasks, task)
}

// SetCurrent designates task as the currently running task, as the
// scheduler would after a dispatch decision.
func (h *Host) SetCurrent(task binding.TaskID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = task
}

// CurrentTask implements kernel.Scheduler.
func (h *Host) CurrentTask() (binding.TaskID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.current != binding.Invalid
}

// Advance moves the tick counter forward by one and returns the new value.
func (h *Host) Advance() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tick++
	return h.tick
}

// TickCount implements kernel.Scheduler.
func (h *Host) TickCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tick
}

func (h *Host) state(task binding.TaskID) *taskState {
	st, ok := h.tasks[task]
	if !ok {
		st = &taskState{cgroupSlot: -1, pidNsSlot: -1, ipcNsSlot: -1}
		h.tasks[task] = st
	}
	return st
}

// CgroupSlot implements binding.Accessor.
func (h *Host) CgroupSlot(task binding.TaskID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state(task).cgroupSlot
}

// SetCgroupSlot implements binding.Accessor.
func (h *Host) SetCgroupSlot(task binding.TaskID, slot int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state(task).cgroupSlot = slot
}

// PidNsSlot implements binding.Accessor.
func (h *Host) PidNsSlot(task binding.TaskID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state(task).pidNsSlot
}

// SetPidNsSlot implements binding.Accessor.
func (h *Host) SetPidNsSlot(task binding.TaskID, slot int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state(task).pidNsSlot = slot
}

// VirtualPID implements binding.Accessor.
func (h *Host) VirtualPID(task binding.TaskID) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state(task).virtualPID
}

// SetVirtualPID implements binding.Accessor.
func (h *Host) SetVirtualPID(task binding.TaskID, vpid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state(task).virtualPID = vpid
}

// IpcNsSlot implements binding.Accessor.
func (h *Host) IpcNsSlot(task binding.TaskID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state(task).ipcNsSlot
}

// SetIpcNsSlot implements binding.Accessor.
func (h *Host) SetIpcNsSlot(task binding.TaskID, slot int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state(task).ipcNsSlot = slot
}
