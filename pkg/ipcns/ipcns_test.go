package ipcns

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/was-saw/freertos-container/pkg/simhost"
)

// nativeQueue stands in for an opaque host-scheduler IPC handle.
type nativeQueue struct{ id int }

func TestIpcns_UnregisteredObjectsArePubliclyAccessible(t *testing.T) {
	host := simhost.NewHost()
	r := New[*nativeQueue](4, 8, host, nil)

	task := host.Spawn()
	q := &nativeQueue{id: 1}
	assert.True(t, r.CheckAccess(task, q))
}

func TestIpcns_ZeroObjectIsDenied(t *testing.T) {
	host := simhost.NewHost()
	r := New[*nativeQueue](4, 8, host, nil)

	task := host.Spawn()
	assert.False(t, r.CheckAccess(task, nil))
}

func TestIpcns_CrossNamespaceAccessDenied(t *testing.T) {
	// queue Q registered in namespace A; a task bound to namespace B must
	// be refused.
	host := simhost.NewHost()
	r := New[*nativeQueue](4, 8, host, nil)

	a, err := r.Create("A")
	require.NoError(t, err)
	b, err := r.Create("B")
	require.NoError(t, err)

	q := &nativeQueue{id: 1}
	id := r.Register(a, q, Queue, "Q")
	require.NotZero(t, id)

	task := host.Spawn()
	r.SetTaskNS(task, b)

	assert.False(t, r.CheckAccess(task, q))
}

func TestIpcns_SameNamespaceAccessAllowed(t *testing.T) {
	host := simhost.NewHost()
	r := New[*nativeQueue](4, 8, host, nil)

	a, _ := r.Create("A")
	q := &nativeQueue{id: 1}
	require.NotZero(t, r.Register(a, q, Queue, "Q"))

	task := host.Spawn()
	r.SetTaskNS(task, a)
	assert.True(t, r.CheckAccess(task, q))
}

func TestIpcns_RootAlwaysAllowed(t *testing.T) {
	host := simhost.NewHost()
	r := New[*nativeQueue](4, 8, host, nil)

	a, _ := r.Create("A")
	q := &nativeQueue{id: 1}
	require.NotZero(t, r.Register(a, q, Queue, "Q"))

	task := host.Spawn()
	r.SetTaskNS(task, r.Root())
	assert.True(t, r.CheckAccess(task, q))
}

func TestIpcns_RegisterBeyondCapacityReturnsZero(t *testing.T) {
	// registering beyond pool capacity returns the 0 sentinel.
	host := simhost.NewHost()
	r := New[*nativeQueue](1, 2, host, nil)
	a, _ := r.Create("A")

	require.NotZero(t, r.Register(a, &nativeQueue{id: 1}, Queue, "q1"))
	require.NotZero(t, r.Register(a, &nativeQueue{id: 2}, Queue, "q2"))
	assert.Zero(t, r.Register(a, &nativeQueue{id: 3}, Queue, "q3"))
}

func TestIpcns_FindRoundTrips(t *testing.T) {
	host := simhost.NewHost()
	r := New[*nativeQueue](4, 8, host, nil)
	a, _ := r.Create("A")
	q := &nativeQueue{id: 7}
	id := r.Register(a, q, Queue, "Q")

	got, ok := r.Find(a, id)
	require.True(t, ok)
	assert.Equal(t, q, got)

	require.NoError(t, r.Unregister(a, q))
	_, ok = r.Find(a, id)
	assert.False(t, ok)
}

func TestIpcns_RootCannotBeDeleted(t *testing.T) {
	host := simhost.NewHost()
	r := New[*nativeQueue](4, 8, host, nil)
	require.Error(t, r.Delete(r.Root()))
}

func TestIpcns_DeleteRequiresEmptyNamespace(t *testing.T) {
	host := simhost.NewHost()
	r := New[*nativeQueue](4, 8, host, nil)
	a, _ := r.Create("A")
	q := &nativeQueue{id: 1}
	r.Register(a, q, Queue, "Q")

	require.Error(t, r.Delete(a))
	require.NoError(t, r.Unregister(a, q))
	require.NoError(t, r.Delete(a))
}

func TestIpcns_IsolatedConstructorRollsBackOnRegistrationFailure(t *testing.T) {
	host := simhost.NewHost()
	// capacity of exactly 1 object total across the whole registry.
	r := New[*nativeQueue](1, 1, host, nil)
	a, _ := r.Create("A")

	created := 0
	destroyed := 0
	create := func() (*nativeQueue, error) {
		created++
		return &nativeQueue{id: created}, nil
	}
	destroy := func(q *nativeQueue) error {
		destroyed++
		return nil
	}

	_, err := r.CreateQueue(a, "q1", create, destroy)
	require.NoError(t, err)

	_, err = r.CreateQueue(a, "q2", create, destroy)
	require.Error(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, destroyed, "failed registration must destroy the freshly created object")
}

func TestIpcns_IsolatedConstructorPropagatesCreateError(t *testing.T) {
	host := simhost.NewHost()
	r := New[*nativeQueue](4, 8, host, nil)
	a, _ := r.Create("A")

	wantErr := errors.New("native creation failed")
	_, err := r.CreateMutex(a, "m1", func() (*nativeQueue, error) {
		return nil, wantErr
	}, nil)
	assert.ErrorIs(t, err, wantErr)
}
