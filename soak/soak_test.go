package soak

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/webriots/rtkern"
)

// Polls must be spaced far enough apart for every task to complete at
// least one cycle; these windows are generous multiples of the
// slowest subsystem's cycle time.
const pollWindow rtkern.Ticks = 3_000

// poll runs the kernel for a window of virtual time and then asks the
// subsystem for its health.
func poll(t *testing.T, k *rtkern.Kernel, healthy func() bool) {
	t.Helper()
	r := require.New(t)
	r.Equal(pollWindow, k.RunFor(pollWindow))
	r.True(healthy())
}

func TestInterruptSemaphoreSoak(t *testing.T) {
	k := rtkern.New(context.Background(), 8)
	s := StartInterruptSemaphore(k)

	for i := 0; i < 3; i++ {
		poll(t, k, s.Healthy)
	}
}

func TestCountingSemaphoreSoak(t *testing.T) {
	r := require.New(t)

	k := rtkern.New(context.Background(), 8)
	c := StartCountingSemaphore(k)

	// The tasks only ever block on delays; a hook keeps RunFor
	// entitled to advance time the same way the full suite's does.
	k.SetTickHook(func(*rtkern.ISR) {})

	for i := 0; i < 3; i++ {
		poll(t, k, c.Healthy)
	}

	// Both tasks made progress, not just one.
	r.NotEqual(uint32(0), c.loops[0])
	r.NotEqual(uint32(0), c.loops[1])
}

func TestDynamicPrioritySoak(t *testing.T) {
	r := require.New(t)

	k := rtkern.New(context.Background(), 8)
	d := StartDynamicPriority(k)
	k.SetTickHook(func(*rtkern.ISR) {})

	for i := 0; i < 3; i++ {
		poll(t, k, d.Healthy)
	}

	// The limited counter is parked between bursts.
	r.Equal(rtkern.StateSuspended, d.lim.State())
}

func TestMathSoak(t *testing.T) {
	k := rtkern.New(context.Background(), 8)
	f := StartMathTasks(k)
	k.SetTickHook(func(*rtkern.ISR) {})

	for i := 0; i < 3; i++ {
		poll(t, k, f.Healthy)
	}
}

// All subsystems coexist on one kernel, the deployment the check loop
// actually runs.
func TestSuiteSoak(t *testing.T) {
	r := require.New(t)

	k := rtkern.New(context.Background(), 8)
	suite := StartAll(k)

	for i := 0; i < 3; i++ {
		r.Equal(pollWindow, k.RunFor(pollWindow))
		r.True(suite.Healthy())
	}
	r.Empty(suite.Failed())
}

// A subsystem that reports unhealthy once stays failed even when
// later polls recover.
func TestSuiteFailureLatches(t *testing.T) {
	r := require.New(t)

	healthy := false
	var suite Suite
	suite.Register("flaky", func() bool { return healthy })
	suite.Register("solid", func() bool { return true })

	r.False(suite.Healthy())
	healthy = true
	r.False(suite.Healthy())
	r.Equal([]string{"flaky"}, suite.Failed())
}

// A stalled task reads as a failure on the next poll even though no
// explicit check tripped.
func TestStallDetection(t *testing.T) {
	r := require.New(t)

	k := rtkern.New(context.Background(), 8)
	c := StartCountingSemaphore(k)
	k.SetTickHook(func(*rtkern.ISR) {})

	poll(t, k, c.Healthy)

	// Freeze the demo tasks and poll again without running: the loop
	// counters have not moved, so the subsystem is unhealthy.
	r.False(c.Healthy())
}
