// Package pidns implements the PID namespace registry: a dense, monotonic,
// never-reused virtual PID space per namespace, so a task sees itself as
// "1, 2, 3, ..." irrespective of the host scheduler's own task identifiers.
package pidns

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/was-saw/freertos-container/pkg/binding"
	"github.com/was-saw/freertos-container/pkg/kerr"
	"github.com/was-saw/freertos-container/pkg/slotarena"
)

// Handle identifies a live PID namespace slot.
type Handle int

// MaxNameLen bounds the stored namespace name; longer names are truncated.
const MaxNameLen = 16

type nsSlot struct {
	name       string
	active     bool
	isRoot     bool
	nextPID    uint32
	maxPID     uint32
	members    int
	tasksByPID map[uint32]binding.TaskID
}

// Registry owns the fixed-size PID namespace table.
type Registry struct {
	mu            sync.Mutex
	arena         *slotarena.Arena[nsSlot]
	bind          binding.Accessor
	maxVirtualPID uint32
	root          Handle
	log           hclog.Logger
}

// New creates a Registry with room for capacity namespaces (each bounded at
// maxVirtualPID lifetime-assigned PIDs) and immediately creates the
// privileged root namespace.
func New(capacity int, maxVirtualPID uint32, bind binding.Accessor, log hclog.Logger) *Registry {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	r := &Registry{
		arena:         slotarena.New[nsSlot](capacity),
		bind:          bind,
		maxVirtualPID: maxVirtualPID,
		log:           log.Named("pidns"),
	}
	i := r.arena.Alloc()
	slot, _ := r.arena.Get(i)
	slot.name = "root"
	slot.active = true
	slot.isRoot = true
	slot.nextPID = 1
	slot.maxPID = maxVirtualPID
	slot.tasksByPID = make(map[uint32]binding.TaskID)
	r.root = Handle(i)
	return r
}

// Root returns the handle of the privileged, non-deletable root namespace.
func (r *Registry) Root() Handle { return r.root }

// Create allocates a new, non-root PID namespace.
func (r *Registry) Create(name string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.arena.Alloc()
	if i < 0 {
		return 0, kerr.CapacityErr("pidns.Create", "no free PID namespace slot")
	}
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	slot, _ := r.arena.Get(i)
	slot.name = name
	slot.active = true
	slot.nextPID = 1
	slot.maxPID = r.maxVirtualPID
	slot.tasksByPID = make(map[uint32]binding.TaskID)
	return Handle(i), nil
}

// Delete removes a non-root, empty namespace.
func (r *Registry) Delete(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.arena.Get(int(h))
	if !ok {
		return kerr.InvalidArgumentErr("pidns.Delete", "stale or unknown handle")
	}
	if slot.isRoot {
		return kerr.NotPermittedErr("pidns.Delete", "root namespace cannot be deleted")
	}
	if slot.members != 0 {
		return kerr.NotPermittedErr("pidns.Delete", "namespace is not empty")
	}
	r.arena.Free(int(h))
	return nil
}

// AddTask allocates the next virtual PID in namespace h for task, records
// the membership, and writes the (namespace, virtual PID) pair back into the
// task's binding via the host accessor.
func (r *Registry) AddTask(h Handle, task binding.TaskID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.arena.Get(int(h))
	if !ok {
		return kerr.InvalidArgumentErr("pidns.AddTask", "stale or unknown handle")
	}
	if r.bind.PidNsSlot(task) >= 0 {
		return kerr.InvalidArgumentErr("pidns.AddTask", "task already belongs to a PID namespace")
	}
	if slot.nextPID > slot.maxPID {
		return kerr.CapacityErr("pidns.AddTask", "virtual PID space exhausted")
	}

	vpid := slot.nextPID
	slot.nextPID++
	slot.tasksByPID[vpid] = task
	slot.members++
	r.bind.SetPidNsSlot(task, int(h))
	r.bind.SetVirtualPID(task, vpid)
	return nil
}

// RemoveTask clears task's membership. The virtual PID it held is never
// reassigned.
func (r *Registry) RemoveTask(h Handle, task binding.TaskID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.arena.Get(int(h))
	if !ok {
		return kerr.InvalidArgumentErr("pidns.RemoveTask", "stale or unknown handle")
	}
	if r.bind.PidNsSlot(task) != int(h) {
		return kerr.InvalidArgumentErr("pidns.RemoveTask", "task is not a member of this namespace")
	}
	vpid := r.bind.VirtualPID(task)
	delete(slot.tasksByPID, vpid)
	slot.members--
	r.bind.SetPidNsSlot(task, -1)
	r.bind.SetVirtualPID(task, 0)
	return nil
}

// NamespaceOf returns the handle of the PID namespace task currently
// belongs to, if any.
func (r *Registry) NamespaceOf(task binding.TaskID) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.bind.PidNsSlot(task)
	if idx < 0 {
		return 0, false
	}
	return Handle(idx), true
}

// VirtualPID returns task's virtual PID, or 0 if it has none.
func (r *Registry) VirtualPID(task binding.TaskID) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bind.PidNsSlot(task) < 0 {
		return 0
	}
	return r.bind.VirtualPID(task)
}

// RealID returns the underlying host scheduler identifier for task — in
// this port, task itself, since binding.TaskID already is that identifier.
func (r *Registry) RealID(task binding.TaskID) binding.TaskID { return task }

// Find returns the task holding virtual PID vpid within namespace h. Two
// namespaces holding the same vpid resolve to unrelated tasks.
func (r *Registry) Find(h Handle, vpid uint32) (binding.TaskID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.arena.Get(int(h))
	if !ok || !slot.active || vpid == 0 || vpid > slot.maxPID {
		return binding.Invalid, false
	}
	task, ok := slot.tasksByPID[vpid]
	return task, ok
}

// CreateInNamespace invokes spawn to create a new task via the host
// scheduler's own primitive, then adds it to namespace h. If AddTask fails
// after a successful spawn, the freshly spawned task is still returned
// alongside the error: the registry never deletes a task it did not create,
// so the caller owns the rollback decision.
func (r *Registry) CreateInNamespace(h Handle, spawn func() (binding.TaskID, error)) (binding.TaskID, error) {
	task, err := spawn()
	if err != nil {
		return binding.Invalid, err
	}
	if err := r.AddTask(h, task); err != nil {
		return task, err
	}
	return task, nil
}
