package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()
	c := NewFake(epoch)
	var got []string
	c.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	c.AfterFunc(1*time.Second, func() { got = append(got, "a") })
	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, c.Pending())

	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, epoch.Add(3*time.Second), c.Now())
}

func TestFakeChainedTimersInsideWindow(t *testing.T) {
	t.Parallel()
	c := NewFake(epoch)
	fired := 0
	c.AfterFunc(time.Second, func() {
		fired++
		c.AfterFunc(time.Second, func() { fired++ })
	})
	c.Advance(5 * time.Second)
	assert.Equal(t, 2, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeStop(t *testing.T) {
	t.Parallel()
	c := NewFake(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	require.True(t, tm.Stop())
	require.False(t, tm.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestTasksCancel(t *testing.T) {
	t.Parallel()
	c := NewFake(epoch)
	ts := NewTasks(c)

	fired := 0
	task := ts.Schedule(time.Second, func() { fired++ })
	ts.Schedule(2*time.Second, func() { fired++ })
	require.Equal(t, 2, ts.Pending())

	require.True(t, task.Cancel())
	require.False(t, task.Cancel())
	c.Advance(3 * time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, ts.Pending())
}

func TestTasksCancelAllKeepsSetUsable(t *testing.T) {
	t.Parallel()
	c := NewFake(epoch)
	ts := NewTasks(c)

	fired := 0
	ts.Schedule(time.Second, func() { fired++ })
	ts.Schedule(time.Second, func() { fired++ })
	ts.CancelAll()
	c.Advance(time.Minute)
	assert.Equal(t, 0, fired)

	ts.Schedule(time.Second, func() { fired++ })
	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
}

func TestTasksCloseRefusesSchedule(t *testing.T) {
	t.Parallel()
	c := NewFake(epoch)
	ts := NewTasks(c)
	ts.Close()

	task := ts.Schedule(time.Second, func() { t.Fatal("must not fire") })
	assert.False(t, task.Cancel())
	assert.Equal(t, 0, c.Pending())
	c.Advance(time.Minute)
}

func TestTasksRealClock(t *testing.T) {
	t.Parallel()
	ts := NewTasks(Real())
	done := make(chan struct{})
	ts.Schedule(5*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not fire")
	}
	ts.Close()
}
