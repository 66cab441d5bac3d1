// Package cgroup implements the tick-driven CPU and memory accounting engine
// that decides, at every scheduling decision, whether a task may run. CPU
// usage is accumulated per cgroup over a sliding window of scheduler ticks
// and compared against a quota; overruns accrue a penalty that throttles the
// cgroup's tasks until it decays.
package cgroup

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/was-saw/freertos-container/pkg/binding"
	"github.com/was-saw/freertos-container/pkg/kerr"
	"github.com/was-saw/freertos-container/pkg/slotarena"
	"github.com/was-saw/freertos-container/pkg/types"
)

// Handle identifies a live cgroup slot. Handles are stable for the lifetime
// of the slot and go stale on Delete; every operation revalidates the handle
// against the slot table, so callers distinguish failure by the returned
// error, never by the Handle value itself.
type Handle int

// QuotaMax is the sentinel CPU quota that disables throttling entirely.
const QuotaMax uint64 = ^uint64(0)

// MaxNameLen bounds the stored cgroup name; longer names are truncated.
const MaxNameLen = 16

// penaltyCapFactor bounds accumulated penalty at penaltyCapFactor *
// windowDuration ticks, so a tiny quota with a large overrun cannot starve
// the cgroup for more than a handful of windows.
const penaltyCapFactor = 8

type cgroupSlot struct {
	name    string
	active  bool
	members int

	memLimit types.Bytes
	memUsed  types.Bytes
	memPeak  types.Bytes

	cpuQuota         uint64
	ticksUsed        uint64
	penaltyTicksLeft uint64
	windowStart      uint64
	windowDuration   uint64
}

// Stats is an instantaneous snapshot of a cgroup's accounting state.
type Stats struct {
	Name             string
	MemLimit         types.Bytes
	MemUsed          types.Bytes
	MemPeak          types.Bytes
	CPUQuota         uint64
	TicksUsed        uint64
	PenaltyTicksLeft uint64
	WindowStart      uint64
	WindowDuration   uint64
	Members          int
}

// Engine owns the fixed-size cgroup table and runs the sliding-window
// accounting algorithm on every tick.
type Engine struct {
	mu             sync.Mutex
	arena          *slotarena.Arena[cgroupSlot]
	bind           binding.Accessor
	windowDuration uint64
	taskSlots      int
	taskCount      int
	log            hclog.Logger
}

// New creates an Engine with room for capacity cgroups and taskSlots total
// task memberships across all of them, each cgroup using windowDuration
// ticks as its accounting window. A taskSlots of zero or less defaults to
// capacity * 8; a nil log defaults to a no-op logger.
func New(capacity, taskSlots int, windowDuration uint64, bind binding.Accessor, log hclog.Logger) *Engine {
	if taskSlots <= 0 {
		taskSlots = capacity * 8
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Engine{
		arena:          slotarena.New[cgroupSlot](capacity),
		bind:           bind,
		windowDuration: windowDuration,
		taskSlots:      taskSlots,
		log:            log.Named("cgroup"),
	}
}

// Create allocates a cgroup slot, starting its window at now.
func (e *Engine) Create(now uint64, name string, memLimit types.Bytes, cpuQuota uint64) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.arena.Alloc()
	if i < 0 {
		return 0, kerr.CapacityErr("cgroup.Create", "no free cgroup slot")
	}
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	slot, _ := e.arena.Get(i)
	slot.name = name
	slot.active = true
	slot.memLimit = memLimit
	slot.cpuQuota = cpuQuota
	slot.windowStart = now
	slot.windowDuration = e.windowDuration
	e.log.Debug("created", "name", name, "handle", i, "mem_limit", memLimit, "cpu_quota", cpuQuota)
	return Handle(i), nil
}

// Delete removes a cgroup. It refuses while any task remains a member.
func (e *Engine) Delete(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot, ok := e.arena.Get(int(h))
	if !ok {
		return kerr.InvalidArgumentErr("cgroup.Delete", "stale or unknown handle")
	}
	if slot.members != 0 {
		return kerr.NotPermittedErr("cgroup.Delete", "cgroup is not empty")
	}
	e.arena.Free(int(h))
	e.log.Debug("deleted", "handle", int(h))
	return nil
}

// AddTask binds task to the cgroup at h. A task already bound to a cgroup
// must be removed from it first; the total membership count across all
// cgroups is bounded by the engine's task-slot capacity.
func (e *Engine) AddTask(h Handle, task binding.TaskID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot, ok := e.arena.Get(int(h))
	if !ok {
		return kerr.InvalidArgumentErr("cgroup.AddTask", "stale or unknown handle")
	}
	if e.bind.CgroupSlot(task) >= 0 {
		return kerr.InvalidArgumentErr("cgroup.AddTask", "task already belongs to a cgroup")
	}
	if e.taskCount >= e.taskSlots {
		return kerr.CapacityErr("cgroup.AddTask", "no free task membership slot")
	}
	slot.members++
	e.taskCount++
	e.bind.SetCgroupSlot(task, int(h))
	return nil
}

// RemoveTask unbinds task from the cgroup at h.
func (e *Engine) RemoveTask(h Handle, task binding.TaskID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot, ok := e.arena.Get(int(h))
	if !ok {
		return kerr.InvalidArgumentErr("cgroup.RemoveTask", "stale or unknown handle")
	}
	if e.bind.CgroupSlot(task) != int(h) {
		return kerr.InvalidArgumentErr("cgroup.RemoveTask", "task is not a member of this cgroup")
	}
	slot.members--
	e.taskCount--
	e.bind.SetCgroupSlot(task, -1)
	return nil
}

// SetMemLimit updates the live memory limit. Existing usage is not
// retroactively penalised.
func (e *Engine) SetMemLimit(h Handle, limit types.Bytes) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, ok := e.arena.Get(int(h))
	if !ok {
		return kerr.InvalidArgumentErr("cgroup.SetMemLimit", "stale or unknown handle")
	}
	slot.memLimit = limit
	return nil
}

// SetCPUQuota updates the live CPU quota, in ticks per window.
func (e *Engine) SetCPUQuota(h Handle, quota uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot, ok := e.arena.Get(int(h))
	if !ok {
		return kerr.InvalidArgumentErr("cgroup.SetCPUQuota", "stale or unknown handle")
	}
	slot.cpuQuota = quota
	return nil
}

// CheckMem is a pure predicate: would usage + size stay within the task's
// cgroup's memory limit? A task with no cgroup always passes.
func (e *Engine) CheckMem(task binding.TaskID, size types.Bytes) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot := e.slotOf(task)
	if slot == nil {
		return true
	}
	if slot.memLimit.IsUnlimited() {
		return true
	}
	return slot.memUsed+size <= slot.memLimit
}

// UpdateMem applies a signed change to the task's cgroup's current memory
// usage. Underflow clamps to zero; peak usage is monotonically tracked. A
// task with no cgroup is a no-op.
func (e *Engine) UpdateMem(task binding.TaskID, delta int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot := e.slotOf(task)
	if slot == nil {
		return
	}
	if delta >= 0 {
		slot.memUsed += types.Bytes(delta)
	} else {
		d := types.Bytes(-delta)
		if d > slot.memUsed {
			slot.memUsed = 0
		} else {
			slot.memUsed -= d
		}
	}
	if slot.memUsed > slot.memPeak {
		slot.memPeak = slot.memUsed
	}
}

// Stats returns a snapshot of the cgroup's accounting state.
func (e *Engine) Stats(h Handle) (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot, ok := e.arena.Get(int(h))
	if !ok {
		return Stats{}, kerr.InvalidArgumentErr("cgroup.Stats", "stale or unknown handle")
	}
	return Stats{
		Name:             slot.name,
		MemLimit:         slot.memLimit,
		MemUsed:          slot.memUsed,
		MemPeak:          slot.memPeak,
		CPUQuota:         slot.cpuQuota,
		TicksUsed:        slot.ticksUsed,
		PenaltyTicksLeft: slot.penaltyTicksLeft,
		WindowStart:      slot.windowStart,
		WindowDuration:   slot.windowDuration,
		Members:          slot.members,
	}, nil
}

// CgroupOf returns the handle of the cgroup task currently belongs to, if
// any.
func (e *Engine) CgroupOf(task binding.TaskID) (Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.bind.CgroupSlot(task)
	if idx < 0 {
		return 0, false
	}
	return Handle(idx), true
}

// CanRun is the can_dispatch predicate: may this task run in the next
// quantum? It never advances a window, so repeated calls within one tick
// are idempotent.
func (e *Engine) CanRun(task binding.TaskID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot := e.slotOf(task)
	if slot == nil {
		return true
	}
	if slot.cpuQuota == QuotaMax {
		return true
	}
	return slot.penaltyTicksLeft == 0 && slot.ticksUsed < slot.cpuQuota
}

// OnTick runs the sliding-window algorithm for one scheduler tick: it
// credits the currently running task's cgroup with one tick, rolls over the
// window of every active cgroup whose window has elapsed (accruing penalty
// proportional to the overrun), and decays every active cgroup's penalty by
// one tick. The decay applies to all cgroups, not just the running one —
// a throttled cgroup is never current, yet its penalty must still drain.
func (e *Engine) OnTick(now uint64, current binding.TaskID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	currentSlot := e.slotOf(current)
	if currentSlot != nil {
		currentSlot.ticksUsed++
	}

	e.arena.Each(func(_ int, slot *cgroupSlot) bool {
		if now-slot.windowStart >= slot.windowDuration {
			e.rollWindow(slot, now)
		}
		if slot.penaltyTicksLeft > 0 {
			slot.penaltyTicksLeft--
		}
		return true
	})
}

func (e *Engine) rollWindow(slot *cgroupSlot, now uint64) {
	if slot.cpuQuota != QuotaMax && slot.cpuQuota > 0 {
		var excess uint64
		if slot.ticksUsed > slot.cpuQuota {
			excess = slot.ticksUsed - slot.cpuQuota
		}
		slot.penaltyTicksLeft += excess * slot.windowDuration / slot.cpuQuota

		if limit := penaltyCapFactor * slot.windowDuration; slot.penaltyTicksLeft > limit {
			e.log.Debug("penalty clamped", "cgroup", slot.name, "penalty", slot.penaltyTicksLeft, "cap", limit)
			slot.penaltyTicksLeft = limit
		}
	}

	slot.windowStart = now
	slot.ticksUsed = 0

	if slot.penaltyTicksLeft > 0 {
		slot.penaltyTicksLeft--
	}
}

// OnSwitchOut is the reserved hook called once per outward context switch.
// It is currently a documented no-op: it must never advance a window.
func (e *Engine) OnSwitchOut(task binding.TaskID) {
	e.log.Trace("switch out (reserved, no-op)", "task", task)
}

// slotOf returns the cgroup slot bound to task, or nil if the task has no
// cgroup. Callers must already hold e.mu.
func (e *Engine) slotOf(task binding.TaskID) *cgroupSlot {
	idx := e.bind.CgroupSlot(task)
	if idx < 0 {
		return nil
	}
	slot, ok := e.arena.Get(idx)
	if !ok {
		return nil
	}
	return slot
}
