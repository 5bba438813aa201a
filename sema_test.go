package rtkern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// A semaphore created at its maximum count hands out exactly that
// many immediate takes.
func TestSemaphoreDrain(t *testing.T) {
	r := require.New(t)

	k := New(context.Background(), 4)
	s := k.NewCounting(3, 3)

	k.Create(TaskParams{
		Entry: func(_ context.Context, task *Task) {
			r.True(s.TryTake(task))
			r.True(s.TryTake(task))
			r.True(s.TryTake(task))
			r.False(s.TryTake(task))
			r.Equal(0, s.Count())
		},
		Name:     "drain",
		Priority: 1,
	})
	k.Run()
}

// The count never exceeds the maximum: a give at the rail fails and
// leaves the count unchanged.
func TestSemaphoreGiveAtMax(t *testing.T) {
	r := require.New(t)

	k := New(context.Background(), 4)
	s := k.NewCounting(2, 1)

	r.True(s.Give())
	r.Equal(2, s.Count())
	r.False(s.Give())
	r.Equal(2, s.Count())
}

func TestSemaphoreBlockingTake(t *testing.T) {
	r := require.New(t)

	k := New(context.Background(), 4)
	s := k.NewBinary()

	var order []string
	k.Create(TaskParams{
		Entry: func(_ context.Context, task *Task) {
			r.True(s.Take(task))
			order = append(order, "taker")
		},
		Name:     "taker",
		Priority: 2,
	})
	k.Create(TaskParams{
		Entry: func(_ context.Context, task *Task) {
			task.Delay(5)
			order = append(order, "giver")
			r.True(s.Give())
			// The woken taker outranks this task, so it has already
			// run by the time Give returns.
			order = append(order, "giver-after")
		},
		Name:     "giver",
		Priority: 1,
	})
	k.Run()

	r.Equal([]string{"giver", "taker", "giver-after"}, order)
	r.Equal(0, s.Count()) // direct handoff, no count blip
}

// Waiters are granted in priority order, not take order.
func TestSemaphorePriorityOrderedWake(t *testing.T) {
	r := require.New(t)

	k := New(context.Background(), 8)
	s := k.NewCounting(3, 0)

	var order []string
	taker := func(name string) func(context.Context, *Task) {
		return func(_ context.Context, task *Task) {
			r.True(s.Take(task))
			order = append(order, name)
		}
	}
	k.Create(TaskParams{Entry: taker("low"), Name: "low", Priority: 1})
	k.Create(TaskParams{Entry: taker("mid"), Name: "mid", Priority: 2})
	k.Create(TaskParams{Entry: taker("high"), Name: "high", Priority: 3})
	k.Create(TaskParams{
		Entry: func(_ context.Context, task *Task) {
			task.Delay(1)
			r.Equal(3, s.WaitCount())
			r.True(s.Give())
			r.True(s.Give())
			r.True(s.Give())
		},
		Name:     "giver",
		Priority: 4,
	})
	k.Run()

	r.Equal([]string{"high", "mid", "low"}, order)
}

func TestSemaphoreTakeTimeout(t *testing.T) {
	r := require.New(t)

	k := New(context.Background(), 4)
	s := k.NewBinary()

	k.Create(TaskParams{
		Entry: func(_ context.Context, task *Task) {
			start := k.Tick()
			r.False(s.TakeTimeout(task, 25))
			r.Equal(start+25, k.Tick())
			r.Equal(0, s.WaitCount())
		},
		Name:     "timed",
		Priority: 1,
	})
	k.Run()
}

// A task that once won a contended take must not carry that success
// into a later wait: suspended away from a second semaphore and
// resumed, its take reports failure and the count is untouched.
func TestSemaphoreResumedWaiterReportsFailure(t *testing.T) {
	r := require.New(t)

	k := New(context.Background(), 8)
	s1 := k.NewBinary()
	s2 := k.NewBinary()

	var w *Task
	w = k.Create(TaskParams{
		Entry: func(_ context.Context, task *Task) {
			// A contended take that succeeds.
			r.True(s1.Take(task))

			// The wait this task is ripped out of.
			r.False(s2.Take(task))
			r.Equal(0, s2.Count())
		},
		Name:     "w",
		Priority: 2,
	})
	k.Create(TaskParams{
		Entry: func(_ context.Context, task *Task) {
			task.Delay(2)
			r.True(s1.Give())
		},
		Name:     "giver",
		Priority: 1,
	})
	k.Create(TaskParams{
		Entry: func(_ context.Context, task *Task) {
			task.Delay(5)
			r.Equal(StateBlocked, w.State())
			r.Equal(1, s2.WaitCount())

			r.True(w.Suspend())
			r.Equal(0, s2.WaitCount())
			r.True(w.Resume())
		},
		Name:       "ctrl",
		Priority:   3,
		Privileged: true,
	})
	k.Run()

	r.Equal(0, s2.Count())
	r.Equal(StateDone, w.State())
}

// Two back-to-back interrupt gives when the semaphore is already
// full: the count is unchanged and the second reports failure.
func TestSemaphoreGiveFromISRAtMax(t *testing.T) {
	r := require.New(t)

	k := New(context.Background(), 4)
	s := k.NewCounting(2, 1)

	done := false
	k.SetTickHook(func(isr *ISR) {
		if done {
			return
		}
		done = true
		r.True(s.GiveFromISR(isr))
		r.False(s.GiveFromISR(isr))
		r.False(isr.HigherPriorityWoken())
		r.Equal(2, s.Count())
	})

	k.RunFor(1)
	r.True(done)
}

// An interrupt give wakes exactly one waiter, the highest-priority
// one, and defers the switch to it until the interrupt returns.
func TestSemaphoreGiveFromISRWake(t *testing.T) {
	r := require.New(t)

	k := New(context.Background(), 8)
	s := k.NewBinary()

	var order []string
	taker := func(name string) func(context.Context, *Task) {
		return func(_ context.Context, task *Task) {
			if s.TakeTimeout(task, 20) {
				order = append(order, name)
			}
		}
	}
	k.Create(TaskParams{Entry: taker("low"), Name: "low", Priority: 1})
	k.Create(TaskParams{Entry: taker("high"), Name: "high", Priority: 2})

	k.SetTickHook(func(isr *ISR) {
		if isr.Tick() == 5 {
			r.True(s.GiveFromISR(isr))
			r.True(isr.HigherPriorityWoken())
		}
	})

	k.RunFor(30)

	// Only the high-priority taker was woken; the other timed out.
	r.Equal([]string{"high"}, order)
	r.Equal(0, s.Count())
}
