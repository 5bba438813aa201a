package soak

import (
	"context"

	"github.com/webriots/rtkern"
)

const (
	// Priorities of the master and slave tasks. The slave must
	// outrank the master so that blocking on the shared mutex forces
	// inheritance.
	intsemMasterPriority rtkern.Priority = 0
	intsemSlavePriority  rtkern.Priority = 1

	// The period, in ticks, at which the tick hook gives the
	// interrupt mutex and counting semaphore.
	intsemGivePeriod rtkern.Ticks = 100

	// Maximum count of the semaphore given from the interrupt.
	intsemMaxCount = 3

	intsemSharedBytes = 32
)

// IntSem exercises mutexes and a counting semaphore given from an
// interrupt.
//
// The master task shares a mutex with a higher-priority slave task
// to force priority inheritance, while also receiving a second mutex
// from the tick hook. It takes both mutexes and gives them back in
// the same order, then in the opposite order, checking its own
// effective priority and the slave's state at every step. Although
// mutexes should generally not be given from interrupts (and never
// taken in one), some designs want exactly that, so the path is
// validated here.
//
// A separate task interacts with the interrupt through a counting
// semaphore, waiting for the hook to fill it, draining it, and then
// taking it blocking at maximum priority so it wakes on the tick
// that gives.
//
// The permission flags that gate the interrupt gives are written by
// the tasks and read by the hook without synchronization. Each flag
// has a single writer and the tolerance for the race is deliberate
// test wiring, not a pattern for production code.
type IntSem struct {
	k *rtkern.Kernel

	isrMutex *rtkern.Mutex     // given from the tick hook
	isrSem   *rtkern.Semaphore // given from the tick hook
	shared   *rtkern.Mutex     // shared between master and slave

	master *rtkern.Task
	slave  *rtkern.Task

	okGiveMutex bool
	okGiveSem   bool
	lastGive    rtkern.Ticks

	errorDetected bool

	masterLoops uint32
	semLoops    uint32

	lastMasterLoops uint32
	lastSemLoops    uint32
}

// StartInterruptSemaphore creates the interrupt-semaphore tasks and
// installs the tick hook that feeds them.
func StartInterruptSemaphore(k *rtkern.Kernel) *IntSem {
	s := &IntSem{k: k}
	s.isrMutex = k.NewMutex()
	s.isrSem = k.NewCounting(intsemMaxCount, 0)
	s.shared = k.NewMutex()

	stateRegion := rtkern.MemRegion{
		Name:   "intsem.state",
		Size:   intsemSharedBytes,
		Access: rtkern.RegionReadWrite,
	}
	mutexRegion := rtkern.MemRegion{
		Name:   "intsem.mutexes",
		Size:   intsemSharedBytes,
		Access: rtkern.RegionReadWrite,
	}

	s.slave = k.Create(rtkern.TaskParams{
		Entry:          s.slaveTask,
		Name:           "IntMuS",
		StackDepth:     128,
		Priority:       intsemSlavePriority,
		StartSuspended: true,
		Regions:        []rtkern.MemRegion{mutexRegion, stateRegion},
	})
	s.master = k.Create(rtkern.TaskParams{
		Entry:      s.masterTask,
		Name:       "IntMuM",
		StackDepth: 128,
		Priority:   intsemMasterPriority,
		// Needs to be privileged because it resumes the slave.
		Privileged: true,
		Regions:    []rtkern.MemRegion{mutexRegion, stateRegion},
	})
	k.Create(rtkern.TaskParams{
		Entry:      s.countingTask,
		Name:       "IntCnt",
		StackDepth: 128,
		Priority:   intsemMasterPriority,
		// Needs to be privileged because it changes its own priority.
		Privileged: true,
		Regions:    []rtkern.MemRegion{mutexRegion, stateRegion},
	})

	k.SetTickHook(s.tickHook)
	return s
}

func (s *IntSem) fail() {
	s.errorDetected = true
}

func (s *IntSem) masterTask(_ context.Context, t *rtkern.Task) {
	for {
		s.takeAndGiveInTheSameOrder(t)

		// Ensure not to starve out other tasks.
		s.masterLoops++
		t.Delay(intsemGivePeriod)

		s.takeAndGiveInTheOppositeOrder(t)

		s.masterLoops++
		t.Delay(intsemGivePeriod)
	}
}

// takeAndGiveInTheSameOrder takes the shared and interrupt mutexes
// in that order, then gives them back in the same order, checking
// the priority inheritance at each step.
func (s *IntSem) takeAndGiveInTheSameOrder(t *rtkern.Task) {
	// The slave is suspended and this task runs at its base
	// priority as the start conditions.
	if s.slave.State() != rtkern.StateSuspended {
		s.fail()
	}
	if t.Priority() != intsemMasterPriority {
		s.fail()
	}

	// Take the mutex that is shared with the slave.
	if !s.shared.TryLock(t) {
		s.fail()
	}

	// This task now has the mutex. Unsuspend the slave so it too
	// attempts to take the mutex.
	s.slave.Resume()

	// The slave has the higher priority so has already executed and
	// blocked on the mutex, lending this task its priority.
	if s.slave.State() != rtkern.StateBlocked {
		s.fail()
	}
	if t.Priority() != intsemSlavePriority {
		s.fail()
	}

	// Wait a little longer than the time between interrupt gives to
	// also obtain the interrupt mutex.
	s.okGiveMutex = true
	if !s.isrMutex.LockTimeout(t, 2*intsemGivePeriod) {
		s.fail()
	}
	s.okGiveMutex = false

	// Taking again immediately fails as the mutex is already held.
	if s.isrMutex.TryLock(t) {
		s.fail()
	}

	// Still at the priority of the slave task.
	if t.Priority() != intsemSlavePriority {
		s.fail()
	}

	// Give back the interrupt mutex. The priority is not
	// disinherited: the shared mutex, which the higher-priority
	// slave is waiting on, is still held.
	if !s.isrMutex.Unlock(t) {
		s.fail()
	}
	if t.Priority() != intsemSlavePriority {
		s.fail()
	}

	// Finally give back the shared mutex. The slave runs before
	// this task continues, so by the time Unlock returns the
	// priority has been disinherited and the slave is suspended
	// again.
	if !s.shared.Unlock(t) {
		s.fail()
	}
	if t.Priority() != intsemMasterPriority {
		s.fail()
	}
	if s.slave.State() != rtkern.StateSuspended {
		s.fail()
	}

	// Drain the mutex ready for the next interrupt give.
	s.isrMutex.Reset()
}

// takeAndGiveInTheOppositeOrder takes the shared and interrupt
// mutexes in that order, then gives them back in the opposite order,
// checking the priority inheritance at each step.
func (s *IntSem) takeAndGiveInTheOppositeOrder(t *rtkern.Task) {
	if s.slave.State() != rtkern.StateSuspended {
		s.fail()
	}
	if t.Priority() != intsemMasterPriority {
		s.fail()
	}

	if !s.shared.TryLock(t) {
		s.fail()
	}

	s.slave.Resume()

	if s.slave.State() != rtkern.StateBlocked {
		s.fail()
	}
	if t.Priority() != intsemSlavePriority {
		s.fail()
	}

	s.okGiveMutex = true
	if !s.isrMutex.LockTimeout(t, 2*intsemGivePeriod) {
		s.fail()
	}
	s.okGiveMutex = false

	if s.isrMutex.TryLock(t) {
		s.fail()
	}
	if t.Priority() != intsemSlavePriority {
		s.fail()
	}

	// Give back the shared mutex first this time. The slave is
	// granted the mutex and runs, and the priority is disinherited
	// right here: the interrupt mutex is still held, but nothing is
	// waiting on it, so it no longer pins the elevation.
	if !s.shared.Unlock(t) {
		s.fail()
	}
	if t.Priority() != intsemMasterPriority {
		s.fail()
	}
	if s.slave.State() != rtkern.StateSuspended {
		s.fail()
	}

	// Give back the interrupt mutex; the priority is unchanged.
	if !s.isrMutex.Unlock(t) {
		s.fail()
	}
	if t.Priority() != intsemMasterPriority {
		s.fail()
	}

	s.isrMutex.Reset()
}

func (s *IntSem) slaveTask(_ context.Context, t *rtkern.Task) {
	for {
		// Start by suspending so the master controls when this task
		// executes.
		t.Suspend()

		// The master already holds the mutex, so taking it blocks
		// this task and raises the master's priority.
		if !s.shared.Lock(t) {
			s.fail()
		}
		if !s.shared.Unlock(t) {
			s.fail()
		}
	}
}

func (s *IntSem) countingTask(_ context.Context, t *rtkern.Task) {
	fillTime := intsemGivePeriod * (intsemMaxCount + 1)

	for {
		// Expect to start with the counting semaphore empty.
		if s.isrSem.Count() != 0 {
			s.fail()
		}

		// Wait until the interrupt has had time to fill the
		// semaphore; further gives while it is full must have been
		// rejected without disturbing the count.
		s.okGiveSem = true
		t.Delay(fillTime)
		s.okGiveSem = false

		if s.isrSem.Count() != intsemMaxCount {
			s.fail()
		}
		if s.isrSem.Max()-s.isrSem.Count() != 0 {
			s.fail()
		}

		s.semLoops++

		// Expect to drain the semaphore in exactly max takes.
		taken := 0
		for s.isrSem.TryTake(t) {
			taken++
		}
		if taken != intsemMaxCount {
			s.fail()
		}

		// Raise this task's priority so it runs immediately when
		// the semaphore is given from the interrupt.
		t.SetPriority(s.k.MaxPriority())

		s.okGiveSem = true
		if !s.isrSem.Take(t) {
			s.fail()
		}
		if !s.isrSem.Take(t) {
			s.fail()
		}
		s.okGiveSem = false

		// Reset the priority so as not to disturb other tasks.
		t.SetPriority(intsemMasterPriority)

		s.semLoops++
	}
}

// tickHook runs in interrupt context once per tick. Every
// intsemGivePeriod ticks it gives the interrupt mutex and/or the
// counting semaphore, gated by the permission flags the tasks set
// immediately before they are expected to wait.
func (s *IntSem) tickHook(isr *rtkern.ISR) {
	now := isr.Tick()
	if now-s.lastGive < intsemGivePeriod {
		return
	}

	if s.okGiveMutex {
		s.isrMutex.GiveFromISR(isr)

		// A second give in the same interrupt must always fail: the
		// token is spoken for, whether a waiter was woken or the
		// mutex was already available.
		if s.isrMutex.GiveFromISR(isr) {
			s.fail()
		}
	}

	if s.okGiveSem {
		s.isrSem.GiveFromISR(isr)
	}

	s.lastGive = now
}

// Healthy reports whether the interrupt-semaphore tasks are still
// running and have not detected an error. Progress is judged by the
// loop counters having moved since the previous poll.
func (s *IntSem) Healthy() bool {
	if s.masterLoops == s.lastMasterLoops {
		s.fail()
	}
	s.lastMasterLoops = s.masterLoops

	if s.semLoops == s.lastSemLoops {
		s.fail()
	}
	s.lastSemLoops = s.semLoops

	return !s.errorDetected
}
