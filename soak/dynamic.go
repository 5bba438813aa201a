package soak

import (
	"context"

	"github.com/webriots/rtkern"
)

const (
	// The controller and continuous-count tasks share a priority;
	// the limited-count task runs one level above the controller.
	dynBasePriority rtkern.Priority = 0

	// Value the limited-count task counts up to before suspending
	// itself.
	dynLimit = 0xff

	// How long the controller sleeps while the continuous counter
	// runs, and how many such observations it makes per cycle.
	dynControllerDelay  rtkern.Ticks = 50
	dynControllerCycles              = 3

	dynSharedBytes = 32
)

// Dynamic exercises dynamic priority changes, suspending and
// resuming other tasks, and scheduler suspension, all around a
// shared counter.
//
// The continuous-count task increments the counter forever, raising
// its own priority above the controller around each increment for
// exclusive access and sleeping one tick between increments. The
// limited-count task counts up to a limit at a priority above the
// controller and then suspends itself. The controller alternates
// between watching the continuous counter make progress and driving
// the limited counter through one burst.
type Dynamic struct {
	k       *rtkern.Kernel
	counter uint32

	cont *rtkern.Task
	lim  *rtkern.Task

	errorDetected bool
	loops         uint32
	lastLoops     uint32
}

// StartDynamicPriority creates the dynamic priority demo tasks.
func StartDynamicPriority(k *rtkern.Kernel) *Dynamic {
	d := &Dynamic{k: k}

	region := rtkern.MemRegion{
		Name:   "dynamic.counter",
		Size:   dynSharedBytes,
		Access: rtkern.RegionReadWrite,
	}

	d.cont = k.Create(rtkern.TaskParams{
		Entry:      d.continuousTask,
		Name:       "CNT_INC",
		StackDepth: 128,
		Priority:   dynBasePriority,
		// Needs to be privileged because it changes its own priority.
		Privileged: true,
		Regions:    []rtkern.MemRegion{region},
	})
	d.lim = k.Create(rtkern.TaskParams{
		Entry:          d.limitedTask,
		Name:           "LIM_INC",
		StackDepth:     128,
		Priority:       dynBasePriority + 1,
		StartSuspended: true,
		Regions:        []rtkern.MemRegion{region},
	})
	k.Create(rtkern.TaskParams{
		Entry:      d.controllerTask,
		Name:       "C_CTRL",
		StackDepth: 128,
		Priority:   dynBasePriority,
		// Needs to be privileged because it suspends and resumes the
		// counter tasks.
		Privileged: true,
		Regions:    []rtkern.MemRegion{region},
	})

	return d
}

func (d *Dynamic) fail() {
	d.errorDetected = true
}

// continuousTask increments the shared counter forever. Exclusive
// access to the counter is ensured by raising this task's priority
// above the controller around the increment.
func (d *Dynamic) continuousTask(_ context.Context, t *rtkern.Task) {
	base := t.BasePriority()
	for {
		t.SetPriority(base + 1)
		d.counter++
		t.SetPriority(base)
		t.Delay(1)
	}
}

// limitedTask counts the shared counter up to dynLimit and suspends
// itself, waiting for the controller to resume it for another burst.
// It outranks the controller, so once resumed it runs to completion
// before the controller continues.
func (d *Dynamic) limitedTask(_ context.Context, t *rtkern.Task) {
	for {
		t.Suspend()
		for d.counter < dynLimit {
			d.counter++
		}
	}
}

func (d *Dynamic) controllerTask(_ context.Context, t *rtkern.Task) {
	k := d.k
	for {
		// First section: watch the continuous counter make
		// progress. The snapshot is taken with the counter task
		// suspended, the comparison with the scheduler suspended, so
		// both exclusion techniques get coverage.
		for i := 0; i < dynControllerCycles; i++ {
			d.cont.Suspend()
			snapshot := d.counter
			d.cont.Resume()

			t.Delay(dynControllerDelay)

			k.SuspendScheduler()
			if d.counter == snapshot {
				d.fail()
			}
			k.ResumeScheduler()
		}

		// Second section: drive the limited counter through one
		// burst. It runs above this task's priority, so by the time
		// Resume returns it has hit the limit and suspended itself.
		d.cont.Suspend()
		d.counter = 0

		d.lim.Resume()
		if d.counter != dynLimit {
			d.fail()
		}
		if d.lim.State() != rtkern.StateSuspended {
			d.fail()
		}

		d.loops++
		d.cont.Resume()
		t.Delay(dynControllerDelay)
	}
}

// Healthy reports whether the controller is still cycling and no
// error has been detected.
func (d *Dynamic) Healthy() bool {
	if d.loops == d.lastLoops {
		d.fail()
	}
	d.lastLoops = d.loops
	return !d.errorDetected
}
