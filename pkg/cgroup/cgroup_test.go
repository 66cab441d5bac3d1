package cgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/was-saw/freertos-container/pkg/binding"
	"github.com/was-saw/freertos-container/pkg/kerr"
	"github.com/was-saw/freertos-container/pkg/simhost"
	"github.com/was-saw/freertos-container/pkg/types"
)

func TestCgroup_CreateDeleteCapacityAndMembership(t *testing.T) {
	host := simhost.NewHost()
	e := New(1, 0, 1000, host, nil)

	h, err := e.Create(0, "only", types.Unlimited, QuotaMax)
	require.NoError(t, err)

	_, err = e.Create(0, "overflow", types.Unlimited, QuotaMax)
	require.Error(t, err)
	assert.True(t, kerr.Is(err, kerr.Capacity))

	task := host.Spawn()
	require.NoError(t, e.AddTask(h, task))

	err = e.Delete(h)
	require.Error(t, err, "delete must refuse while a member remains")

	require.NoError(t, e.RemoveTask(h, task))
	assert.Equal(t, -1, host.CgroupSlot(task), "removal must restore the binding")
	require.NoError(t, e.Delete(h))
}

func TestCgroup_MemoryCheckAndPeakTracking(t *testing.T) {
	host := simhost.NewHost()
	e := New(4, 0, 1000, host, nil)
	h, err := e.Create(0, "G", types.Bytes(8192), QuotaMax)
	require.NoError(t, err)

	task := host.Spawn()
	require.NoError(t, e.AddTask(h, task))

	assert.True(t, e.CheckMem(task, 4096))
	e.UpdateMem(task, 4096)
	assert.True(t, e.CheckMem(task, 4096))
	e.UpdateMem(task, 4096)
	assert.False(t, e.CheckMem(task, 1))

	st, err := e.Stats(h)
	require.NoError(t, err)
	assert.EqualValues(t, 8192, st.MemUsed)
	assert.EqualValues(t, 8192, st.MemPeak)

	// round-trip: +k then -k restores memUsed, peak does not decrease
	e.UpdateMem(task, -8192)
	st, _ = e.Stats(h)
	assert.EqualValues(t, 0, st.MemUsed)
	assert.EqualValues(t, 8192, st.MemPeak)

	// underflow clamps to zero rather than going negative
	e.UpdateMem(task, -100)
	st, _ = e.Stats(h)
	assert.EqualValues(t, 0, st.MemUsed)
}

func TestCgroup_QuotaRatioOverOneWindow(t *testing.T) {
	// cgroup H(quota=300) and cgroup L(quota=20), one CPU-bound task each,
	// run for one 1000-tick window: dispatch counts should match the quotas.
	host := simhost.NewHost()
	e := New(2, 0, 1000, host, nil)

	hH, err := e.Create(0, "H", types.Unlimited, 300)
	require.NoError(t, err)
	hL, err := e.Create(0, "L", types.Unlimited, 20)
	require.NoError(t, err)

	th := host.Spawn()
	tl := host.Spawn()
	require.NoError(t, e.AddTask(hH, th))
	require.NoError(t, e.AddTask(hL, tl))

	dispatchedH, dispatchedL := 0, 0
	for i := 0; i < 1000; i++ {
		now := host.Advance()
		var ran binding.TaskID
		switch {
		case e.CanRun(th):
			ran = th
			dispatchedH++
		case e.CanRun(tl):
			ran = tl
			dispatchedL++
		default:
			ran = 0
		}
		if ran != 0 {
			e.OnTick(now, ran)
		} else {
			e.OnTick(now, 0)
		}
	}

	assert.InDelta(t, 300, dispatchedH, 2)
	assert.InDelta(t, 20, dispatchedL, 2)
}

func TestCgroup_PenaltyAccrualAfterOverrun(t *testing.T) {
	// cgroup G(quota=100, window=1000); the task exceeds its quota by 50 in
	// the first window. After the window boundary the penalty should be
	// 50*1000/100 = 500 ticks and the task stays throttled until it decays.
	host := simhost.NewHost()
	e := New(1, 0, 1000, host, nil)
	h, err := e.Create(0, "G", types.Unlimited, 100)
	require.NoError(t, err)

	task := host.Spawn()
	require.NoError(t, e.AddTask(h, task))

	// Drive 150 ticks onto this task, ignoring the throttle predicate (to
	// simulate an unthrottled overrun of 50 ticks over the quota of 100),
	// then idle ticks for the remainder of the 1000-tick window so the
	// window boundary is actually crossed.
	for i := 0; i < 150; i++ {
		now := host.Advance()
		e.OnTick(now, task)
	}
	for i := 150; i < 1000; i++ {
		now := host.Advance()
		e.OnTick(now, 0)
	}

	st, err := e.Stats(h)
	require.NoError(t, err)
	// 500 accrued, minus one decay at roll-over and one on the boundary tick
	assert.GreaterOrEqual(t, st.PenaltyTicksLeft, uint64(500-2))
	assert.LessOrEqual(t, st.PenaltyTicksLeft, uint64(500))
	assert.False(t, e.CanRun(task))
}

func TestCgroup_PenaltyDecaysWhileThrottled(t *testing.T) {
	// A throttled cgroup is never the running one, so its penalty must
	// drain on idle ticks too: one unit per tick, not one per window.
	host := simhost.NewHost()
	e := New(1, 0, 1000, host, nil)
	h, err := e.Create(0, "G", types.Unlimited, 100)
	require.NoError(t, err)

	task := host.Spawn()
	require.NoError(t, e.AddTask(h, task))

	for i := 0; i < 150; i++ {
		e.OnTick(host.Advance(), task)
	}
	for i := 150; i < 1000; i++ {
		e.OnTick(host.Advance(), 0)
	}
	require.False(t, e.CanRun(task))

	// the ~498-tick penalty must be gone well within the next window
	recovered := -1
	for i := 0; i < 600; i++ {
		e.OnTick(host.Advance(), 0)
		if e.CanRun(task) {
			recovered = i + 1
			break
		}
	}
	require.NotEqual(t, -1, recovered, "task must become dispatchable again")
	assert.InDelta(t, 498, recovered, 5)

	st, err := e.Stats(h)
	require.NoError(t, err)
	assert.Zero(t, st.PenaltyTicksLeft)
}

func TestCgroup_AddTaskBeyondTaskSlotsReturnsCapacity(t *testing.T) {
	host := simhost.NewHost()
	e := New(2, 1, 1000, host, nil)
	h, err := e.Create(0, "G", types.Unlimited, QuotaMax)
	require.NoError(t, err)

	t1, t2 := host.Spawn(), host.Spawn()
	require.NoError(t, e.AddTask(h, t1))

	err = e.AddTask(h, t2)
	require.Error(t, err)
	assert.True(t, kerr.Is(err, kerr.Capacity))

	// freeing a membership slot makes it available again
	require.NoError(t, e.RemoveTask(h, t1))
	require.NoError(t, e.AddTask(h, t2))
}

func TestCgroup_UnlimitedQuotaNeverThrottles(t *testing.T) {
	host := simhost.NewHost()
	e := New(1, 0, 10, host, nil)
	h, err := e.Create(0, "G", types.Unlimited, QuotaMax)
	require.NoError(t, err)

	task := host.Spawn()
	require.NoError(t, e.AddTask(h, task))
	host.SetCurrent(task)

	for i := 0; i < 1000; i++ {
		now := host.Advance()
		require.True(t, e.CanRun(task))
		e.OnTick(now, task)
	}
}

func TestCgroup_CanRunIdempotentWithoutTick(t *testing.T) {
	host := simhost.NewHost()
	e := New(1, 0, 1000, host, nil)
	h, err := e.Create(0, "G", types.Unlimited, 5)
	require.NoError(t, err)
	task := host.Spawn()
	require.NoError(t, e.AddTask(h, task))

	a := e.CanRun(task)
	b := e.CanRun(task)
	assert.Equal(t, a, b)
}

func TestCgroup_NoCgroupAlwaysRunnable(t *testing.T) {
	host := simhost.NewHost()
	e := New(1, 0, 1000, host, nil)
	task := host.Spawn()
	assert.True(t, e.CanRun(task))
	assert.True(t, e.CheckMem(task, 1<<30))
}

