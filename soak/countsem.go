package soak

import (
	"context"

	"github.com/webriots/rtkern"
)

const (
	// Maximum count value of the demo semaphores.
	countMaxCount = 200

	// Rest between cycles so the tasks don't monopolize their
	// priority level.
	countRestTicks rtkern.Ticks = 10

	countSharedBytes = 32
)

// CountSem counts a semaphore up to its maximum value and back down
// again, inspecting the result of every give and take. Two tasks
// run: one over a semaphore created at its maximum count, one over a
// semaphore created empty, so both starting conditions are covered.
type CountSem struct {
	errorDetected bool
	loops         [2]uint32
	lastLoops     [2]uint32
}

// StartCountingSemaphore creates the counting semaphore demo tasks.
func StartCountingSemaphore(k *rtkern.Kernel) *CountSem {
	c := new(CountSem)

	region := rtkern.MemRegion{
		Name:   "countsem.state",
		Size:   countSharedBytes,
		Access: rtkern.RegionReadWrite,
	}

	atMax := k.NewCounting(countMaxCount, countMaxCount)
	atZero := k.NewCounting(countMaxCount, 0)

	k.Create(rtkern.TaskParams{
		Entry: func(_ context.Context, t *rtkern.Task) {
			c.run(t, atMax, true, 0)
		},
		Name:       "CNT1",
		StackDepth: 128,
		Priority:   0,
		Regions:    []rtkern.MemRegion{region},
	})
	k.Create(rtkern.TaskParams{
		Entry: func(_ context.Context, t *rtkern.Task) {
			c.run(t, atZero, false, 1)
		},
		Name:       "CNT2",
		StackDepth: 128,
		Priority:   0,
		Regions:    []rtkern.MemRegion{region},
	})

	return c
}

func (c *CountSem) fail() {
	c.errorDetected = true
}

func (c *CountSem) run(t *rtkern.Task, sem *rtkern.Semaphore, startAtMax bool, idx int) {
	if startAtMax {
		if sem.Count() != countMaxCount {
			c.fail()
		}
		c.decrement(t, sem)
	} else if sem.Count() != 0 {
		c.fail()
	}

	for {
		// The count is back at zero at the top of every cycle, so an
		// immediate take must fail.
		if sem.TryTake(t) {
			c.fail()
		}

		c.increment(t, sem)
		c.decrement(t, sem)

		c.loops[idx]++
		t.Delay(countRestTicks)
	}
}

// increment counts the semaphore up from zero to its maximum,
// checking the count at each step, then checks that one more give is
// rejected with the count unchanged.
func (c *CountSem) increment(t *rtkern.Task, sem *rtkern.Semaphore) {
	for i := 0; i < countMaxCount; i++ {
		if sem.Count() != i {
			c.fail()
		}
		if !sem.Give() {
			c.fail()
		}
	}

	if sem.Give() {
		c.fail()
	}
	if sem.Count() != countMaxCount {
		c.fail()
	}
}

// decrement counts the semaphore down from its maximum to zero,
// checking the count at each step, then checks that one more take is
// rejected.
func (c *CountSem) decrement(t *rtkern.Task, sem *rtkern.Semaphore) {
	for i := countMaxCount; i > 0; i-- {
		if sem.Count() != i {
			c.fail()
		}
		if !sem.TryTake(t) {
			c.fail()
		}
	}

	if sem.TryTake(t) {
		c.fail()
	}
	if sem.Count() != 0 {
		c.fail()
	}
}

// Healthy reports whether both demo tasks are still cycling and have
// not detected an error.
func (c *CountSem) Healthy() bool {
	for i := range c.loops {
		if c.loops[i] == c.lastLoops[i] {
			c.fail()
		}
		c.lastLoops[i] = c.loops[i]
	}
	return !c.errorDetected
}
