// Package ipcns implements the IPC namespace registry: it partitions the
// set of IPC objects (queues, semaphores, mutexes, event groups) into
// namespaces and gates every access against the caller's namespace
// membership via the five-step check_access rule.
//
// IPC objects are opaque handles owned by the host scheduler, so they are
// represented here as a generic, comparable type parameter O rather than a
// concrete pointer type the core cannot itself extend.
package ipcns

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/was-saw/freertos-container/pkg/binding"
	"github.com/was-saw/freertos-container/pkg/kerr"
	"github.com/was-saw/freertos-container/pkg/slotarena"
)

// Kind tags the native IPC primitive an entry represents.
type Kind int

const (
	Queue Kind = iota
	Semaphore
	Mutex
	EventGroup
)

// Handle identifies a live IPC namespace slot.
type Handle int

// MaxNameLen bounds stored namespace and object names; longer names are
// truncated.
const MaxNameLen = 16

type nsSlot struct {
	name    string
	active  bool
	isRoot  bool
	nextID  uint64
	members int
}

type objectEntry[O comparable] struct {
	inUse   bool
	obj     O
	kind    Kind
	ns      Handle
	nsObjID uint64
	name    string
}

// Registry owns the fixed-size IPC namespace table plus the shared,
// namespace-agnostic object-entry pool.
type Registry[O comparable] struct {
	mu       sync.Mutex
	nsArena  *slotarena.Arena[nsSlot]
	objects  *slotarena.Arena[objectEntry[O]]
	byObject map[O]int // object -> objects[] index, for O(1) check_access
	bind     binding.Accessor
	root     Handle
	log      hclog.Logger
}

// New creates a Registry with room for maxNamespaces namespaces and
// maxNamespaces*maxObjectsPerNS total registered objects, and immediately
// creates the privileged root namespace.
func New[O comparable](maxNamespaces, maxObjectsPerNS int, bind binding.Accessor, log hclog.Logger) *Registry[O] {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	r := &Registry[O]{
		nsArena:  slotarena.New[nsSlot](maxNamespaces),
		objects:  slotarena.New[objectEntry[O]](maxNamespaces * maxObjectsPerNS),
		byObject: make(map[O]int),
		bind:     bind,
		log:      log.Named("ipcns"),
	}
	i := r.nsArena.Alloc()
	slot, _ := r.nsArena.Get(i)
	slot.name = "root"
	slot.active = true
	slot.isRoot = true
	slot.nextID = 1
	r.root = Handle(i)
	return r
}

// Root returns the handle of the privileged, non-deletable root namespace,
// which is granted unconditional access to every registered object.
func (r *Registry[O]) Root() Handle { return r.root }

// Create allocates a new, non-root IPC namespace.
func (r *Registry[O]) Create(name string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.nsArena.Alloc()
	if i < 0 {
		return 0, kerr.CapacityErr("ipcns.Create", "no free IPC namespace slot")
	}
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	slot, _ := r.nsArena.Get(i)
	slot.name = name
	slot.active = true
	slot.nextID = 1
	return Handle(i), nil
}

// Delete removes a non-root namespace with zero registered objects.
func (r *Registry[O]) Delete(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.nsArena.Get(int(h))
	if !ok {
		return kerr.InvalidArgumentErr("ipcns.Delete", "stale or unknown handle")
	}
	if slot.isRoot {
		return kerr.NotPermittedErr("ipcns.Delete", "root namespace cannot be deleted")
	}
	if slot.members != 0 {
		return kerr.NotPermittedErr("ipcns.Delete", "namespace still has registered objects")
	}
	r.nsArena.Free(int(h))
	return nil
}

// Register reserves an entry for obj, owned by namespace h, in the shared
// object pool. It returns the
// namespace-local object id (non-zero) on success, or 0 on capacity
// exhaustion or if obj is already registered anywhere.
func (r *Registry[O]) Register(h Handle, obj O, kind Kind, name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.nsArena.Get(int(h))
	if !ok || !slot.active {
		return 0
	}
	if _, dup := r.byObject[obj]; dup {
		return 0
	}

	i := r.objects.Alloc()
	if i < 0 {
		return 0
	}
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	nsObjID := slot.nextID
	slot.nextID++
	entry, _ := r.objects.Get(i)
	entry.inUse = true
	entry.obj = obj
	entry.kind = kind
	entry.ns = h
	entry.nsObjID = nsObjID
	entry.name = name

	r.byObject[obj] = i
	slot.members++
	return nsObjID
}

// Unregister removes obj's entry from namespace h. It fails if obj is not
// registered, or is registered in a namespace other than h.
func (r *Registry[O]) Unregister(h Handle, obj O) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byObject[obj]
	if !ok {
		return kerr.InvalidArgumentErr("ipcns.Unregister", "object is not registered")
	}
	entry, _ := r.objects.Get(idx)
	if entry.ns != h {
		return kerr.InvalidArgumentErr("ipcns.Unregister", "object is not registered in this namespace")
	}
	if slot, ok := r.nsArena.Get(int(h)); ok {
		slot.members--
	}
	delete(r.byObject, obj)
	r.objects.Free(idx)
	return nil
}

// Find returns the object registered in namespace h under objectID.
func (r *Registry[O]) Find(h Handle, objectID uint64) (O, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero O
	found := zero
	ok := false
	r.objects.Each(func(_ int, e *objectEntry[O]) bool {
		if e.ns == h && e.nsObjID == objectID {
			found = e.obj
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// CheckAccess is the central authorisation predicate: a zero-valued object
// is denied outright; otherwise find the unique entry for obj; if none
// exists, allow (unregistered objects are public); if the task's namespace
// matches the entry's namespace, allow; if the task's namespace is root,
// allow; otherwise deny.
func (r *Registry[O]) CheckAccess(task binding.TaskID, obj O) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero O
	if obj == zero {
		return false
	}

	idx, registered := r.byObject[obj]
	if !registered {
		return true
	}
	entry, _ := r.objects.Get(idx)

	taskNS := Handle(r.bind.IpcNsSlot(task))
	if taskNS < 0 {
		taskNS = r.root
	}
	if taskNS == entry.ns {
		return true
	}
	if taskNS == r.root {
		return true
	}
	return false
}

// SetTaskNS binds task to IPC namespace h.
func (r *Registry[O]) SetTaskNS(task binding.TaskID, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bind.SetIpcNsSlot(task, int(h))
}

// GetTaskNS returns the IPC namespace task currently belongs to, defaulting
// to root if none was ever set.
func (r *Registry[O]) GetTaskNS(task binding.TaskID) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.bind.IpcNsSlot(task)
	if slot < 0 {
		return r.root
	}
	return Handle(slot)
}

// createIsolated is the shared body of the per-kind isolated constructors:
// create the native object via the host scheduler's primitive, then
// register it in h (or root, if h is the zero Handle and the caller passed
// none explicitly — callers are expected to pass GetTaskNS's result).
// Registration failure rolls back the creation.
func (r *Registry[O]) createIsolated(h Handle, name string, kind Kind, create func() (O, error), destroy func(O) error) (O, error) {
	var zero O
	obj, err := create()
	if err != nil {
		return zero, err
	}
	if id := r.Register(h, obj, kind, name); id == 0 {
		if destroy != nil {
			_ = destroy(obj)
		}
		return zero, kerr.CapacityErr("ipcns.createIsolated", "could not register new object")
	}
	return obj, nil
}

// CreateQueue creates a queue via create and registers it in namespace h.
func (r *Registry[O]) CreateQueue(h Handle, name string, create func() (O, error), destroy func(O) error) (O, error) {
	return r.createIsolated(h, name, Queue, create, destroy)
}

// CreateSemaphore creates a semaphore via create and registers it in
// namespace h.
func (r *Registry[O]) CreateSemaphore(h Handle, name string, create func() (O, error), destroy func(O) error) (O, error) {
	return r.createIsolated(h, name, Semaphore, create, destroy)
}

// CreateMutex creates a mutex via create and registers it in namespace h.
func (r *Registry[O]) CreateMutex(h Handle, name string, create func() (O, error), destroy func(O) error) (O, error) {
	return r.createIsolated(h, name, Mutex, create, destroy)
}
