// Package kernel composes the cgroup, PID namespace, and IPC namespace
// subsystems into the single, narrow integration surface a host scheduler
// implements against: on_tick, can_dispatch, on_switch_out, on_task_delete.
package kernel

import (
	"github.com/hashicorp/go-hclog"

	"github.com/was-saw/freertos-container/pkg/binding"
	"github.com/was-saw/freertos-container/pkg/cgroup"
	"github.com/was-saw/freertos-container/pkg/ipcns"
	"github.com/was-saw/freertos-container/pkg/pidns"
)

// Scheduler is the slice of the host scheduler the hooks need: the
// currently running task and the tick counter. Everything else (dispatch,
// context switching, task storage) stays the scheduler's own concern.
type Scheduler interface {
	CurrentTask() (binding.TaskID, bool)
	TickCount() uint64
}

// Hooks is the container isolation core's kernel-integration surface. The
// host scheduler calls its four methods from the contexts described in the
// component design: on_tick from the tick ISR tail, CanDispatch from next-
// task selection, OnSwitchOut after an outgoing context save, and
// OnTaskDelete once per reclaimed TCB.
type Hooks[O comparable] struct {
	sched Scheduler
	cg    *cgroup.Engine
	pid   *pidns.Registry
	ipc   *ipcns.Registry[O]
	log   hclog.Logger
}

// New composes a Hooks value over the given scheduler and subsystems.
func New[O comparable](sched Scheduler, cg *cgroup.Engine, pid *pidns.Registry, ipc *ipcns.Registry[O], log hclog.Logger) *Hooks[O] {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Hooks[O]{sched: sched, cg: cg, pid: pid, ipc: ipc, log: log.Named("kernel")}
}

// OnTick must be called exactly once per scheduler tick, before any
// CanDispatch call that influences the next quantum's candidate.
func (h *Hooks[O]) OnTick() {
	now := h.sched.TickCount()
	current, ok := h.sched.CurrentTask()
	if !ok {
		current = binding.Invalid
	}
	h.cg.OnTick(now, current)
}

// CanDispatch answers "may this task run in the next quantum?". It must not
// suspend and is safe to call repeatedly within a tick.
func (h *Hooks[O]) CanDispatch(task binding.TaskID) bool {
	return h.cg.CanRun(task)
}

// OnSwitchOut is called once per outward context switch. It is a reserved
// hook point and must never advance any cgroup window.
func (h *Hooks[O]) OnSwitchOut(task binding.TaskID) {
	h.cg.OnSwitchOut(task)
}

// OnTaskDelete tears a task out of every subsystem it belongs to, in the
// required order: cgroup membership first, then PID namespace membership,
// then IPC namespace binding. Each step is best-effort and tolerates the
// task not being a member; the host scheduler is responsible for reclaiming
// the TCB itself after this call returns.
func (h *Hooks[O]) OnTaskDelete(task binding.TaskID) {
	if ch, ok := h.cg.CgroupOf(task); ok {
		_ = h.cg.RemoveTask(ch, task)
	}
	if ph, ok := h.pid.NamespaceOf(task); ok {
		_ = h.pid.RemoveTask(ph, task)
	}
	// IPC namespace membership itself is left for the scheduler to tear
	// down (per the ordering contract, it runs last and is the
	// scheduler's own concern); the core only resets the task's recorded
	// binding so a reused TaskID never inherits a stale namespace.
	h.ipc.SetTaskNS(task, h.ipc.Root())
}
