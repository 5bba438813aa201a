package rtkern

import (
	"context"
	"math"
	"runtime/trace"

	"github.com/gammazero/deque"
)

const kernelTraceCategory = "rtkern"

// Priority is a task scheduling priority. Higher values run first.
type Priority uint8

// Ticks is a duration or instant on the kernel's virtual clock.
type Ticks int64

const (
	// NoWait makes a blocking operation fail immediately when the
	// resource is unavailable.
	NoWait Ticks = 0

	// Forever makes a blocking operation wait indefinitely.
	Forever Ticks = math.MaxInt64
)

// TaskState is the execution state of a task.
type TaskState uint8

const (
	// StateReady means the task is runnable and queued.
	StateReady TaskState = iota
	// StateRunning means the task is the one currently executing.
	StateRunning
	// StateBlocked means the task is waiting on a primitive or delay.
	StateBlocked
	// StateSuspended means the task was suspended and will not run
	// until explicitly resumed.
	StateSuspended
	// StateDone means the task's entry function returned.
	StateDone
)

// String returns a short name for the state.
func (s TaskState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateSuspended:
		return "suspended"
	case StateDone:
		return "done"
	}
	return "invalid"
}

// readyEntry is a queued reference to a ready task. The sequence
// number invalidates the entry when the task has since changed state
// or moved to a different priority level.
type readyEntry struct {
	task *Task
	seq  uint64
}

// timerEntry is a pending wake-up on the virtual clock.
type timerEntry struct {
	deadline Ticks
	task     *Task
	seq      uint64
}

// Kernel simulates a single-core priority-preemptive scheduler. One
// task executes at a time; every kernel call the running task makes
// is a preemption point, so a higher-priority task that becomes
// ready runs before the call returns to the lower-priority caller.
//
// A Kernel is not safe for concurrent use from multiple goroutines:
// the whole simulation, including the tick hook, runs on the
// goroutine that called Run or RunFor.
type Kernel struct {
	ctx     context.Context
	ready   []deque.Deque[readyEntry] // one queue per priority level
	timers  deque.Deque[timerEntry]   // ordered by deadline
	tasks   []*Task
	current *Task
	hook    func(*ISR)
	tick    Ticks
	nosched int  // scheduler suspension nesting depth
	yieldw  bool // preemption became due while suspended
}

// New creates a kernel with the given number of priority levels.
// Valid priorities are 0 through levels-1. The context is propagated
// to every task created on the kernel.
func New(ctx context.Context, levels int) *Kernel {
	if levels < 1 || levels > 256 {
		panic("rtkern: priority levels out of range")
	}
	return &Kernel{
		ctx:   ctx,
		ready: make([]deque.Deque[readyEntry], levels),
	}
}

// Levels returns the number of priority levels.
func (k *Kernel) Levels() int { return len(k.ready) }

// MaxPriority returns the highest usable priority.
func (k *Kernel) MaxPriority() Priority { return Priority(len(k.ready) - 1) }

// Tick returns the current virtual time.
func (k *Kernel) Tick() Ticks { return k.tick }

// Current returns the running task, or nil when called from outside
// the simulation (init code, the tick hook, or after Run returned).
func (k *Kernel) Current() *Task { return k.current }

// SetTickHook registers fn to be invoked once per virtual tick in
// interrupt context, after due timers have fired. The hook must not
// block; it interacts with the kernel only through the ISR handle.
func (k *Kernel) SetTickHook(fn func(*ISR)) { k.hook = fn }

// SuspendScheduler disables preemption at kernel calls until a
// matching ResumeScheduler. Calls nest. Blocking while the scheduler
// is suspended is a misuse and panics.
func (k *Kernel) SuspendScheduler() { k.nosched++ }

// ResumeScheduler re-enables preemption. If a higher-priority task
// became ready while the scheduler was suspended, the caller is
// preempted here.
func (k *Kernel) ResumeScheduler() {
	if k.nosched == 0 {
		panic("rtkern: ResumeScheduler without SuspendScheduler")
	}
	k.nosched--
	if k.nosched == 0 && k.yieldw {
		k.yieldw = false
		k.reschedule()
	}
}

// Run executes the simulation until it is quiescent: no task is
// ready and no timer is pending. Suspended tasks and tasks blocked
// forever do not keep the kernel alive, so a deadlock also ends the
// run and can be inspected through task states afterwards.
func (k *Kernel) Run() {
	for {
		if k.runReady() {
			continue
		}
		if k.timers.Len() == 0 {
			return
		}
		k.advanceTick()
	}
}

// RunFor executes the simulation until n ticks of virtual time have
// elapsed, or until it is quiescent with no tick hook to keep time
// moving. It returns the number of ticks that elapsed. RunFor is the
// entry point for soak workloads whose tasks loop forever.
func (k *Kernel) RunFor(n Ticks) Ticks {
	var ran Ticks
	for {
		if k.runReady() {
			continue
		}
		if ran >= n {
			return ran
		}
		if k.timers.Len() == 0 && k.hook == nil {
			return ran
		}
		k.advanceTick()
		ran++
	}
}

// runReady dispatches the highest-priority valid ready task. Stale
// entries are discarded as they surface.
func (k *Kernel) runReady() bool {
	for p := len(k.ready) - 1; p >= 0; p-- {
		q := &k.ready[p]
		for q.Len() > 0 {
			e := q.PopFront()
			t := e.task
			if t.state != StateReady || t.seq != e.seq || int(t.eff) != p {
				continue
			}
			k.dispatch(t)
			return true
		}
	}
	return false
}

// dispatch resumes a task until it suspends or finishes.
func (k *Kernel) dispatch(t *Task) {
	t.state = StateRunning
	k.current = t
	alive := t.resumez()
	k.current = nil
	if !alive {
		t.state = StateDone
		t.seq++
		t.cancel()
	}
}

// advanceTick moves virtual time forward one tick, fires due timers,
// then fires the tick hook in interrupt context.
func (k *Kernel) advanceTick() {
	k.tick++
	for k.timers.Len() > 0 && k.timers.Front().deadline <= k.tick {
		e := k.timers.PopFront()
		k.expire(e)
	}
	if k.hook != nil {
		isr := ISR{k: k}
		k.hook(&isr)
	}
}

// expire wakes a timed-out task. A waiter is unlinked from its wait
// set, and if it was blocked on a mutex the owner's inherited
// priority is shrunk as if the waiter had never joined.
func (k *Kernel) expire(e timerEntry) {
	t := e.task
	if t.state != StateBlocked || t.seq != e.seq {
		return // stale: the task was granted or moved before expiry
	}
	if t.waitq != nil {
		t.waitq.remove(t)
		if m := t.waitm; m != nil && m.owner != nil {
			k.recomputeInherited(m.owner)
		}
		t.waitq = nil
		t.waitm = nil
	}
	t.wakeOK = false
	k.makeReady(t)
}

// addTimer inserts a wake-up, keeping the queue deadline-ordered and
// FIFO among equal deadlines.
func (k *Kernel) addTimer(deadline Ticks, t *Task, seq uint64) {
	i := k.timers.Len()
	for i > 0 && k.timers.At(i-1).deadline > deadline {
		i--
	}
	k.timers.Insert(i, timerEntry{deadline: deadline, task: t, seq: seq})
}

// makeReady queues a task at its effective priority and preempts the
// running task if the newcomer outranks it. From interrupt context
// there is no running task and the switch is deferred to the loop.
func (k *Kernel) makeReady(t *Task) {
	t.seq++
	t.state = StateReady
	k.ready[t.eff].PushBack(readyEntry{task: t, seq: t.seq})
	k.reschedule()
}

// reschedule preempts the running task if a strictly higher-priority
// task is ready. Equal priorities never preempt.
func (k *Kernel) reschedule() {
	cur := k.current
	if cur == nil {
		return
	}
	if k.nosched > 0 {
		k.yieldw = true
		return
	}
	if p, ok := k.topReady(); ok && p > cur.eff {
		cur.Log("PREEMPT")
		cur.seq++
		cur.state = StateReady
		k.ready[cur.eff].PushFront(readyEntry{task: cur, seq: cur.seq})
		cur.suspendz()
	}
}

// topReady reports the priority of the highest valid ready entry,
// pruning stale entries from queue fronts along the way.
func (k *Kernel) topReady() (Priority, bool) {
	for p := len(k.ready) - 1; p >= 0; p-- {
		q := &k.ready[p]
		for q.Len() > 0 {
			e := q.Front()
			t := e.task
			if t.state == StateReady && t.seq == e.seq && int(t.eff) == p {
				return Priority(p), true
			}
			q.PopFront()
		}
	}
	return 0, false
}

// block suspends the running task until it is woken by a grant, a
// resume, or the timeout. The caller is responsible for having
// linked the task into a wait set first. The wake result starts out
// as failure; only a waker handing over the resource reports success,
// so a timeout or a bare resume never does.
func (k *Kernel) block(t *Task, timeout Ticks) {
	if t != k.current {
		panic("rtkern: block called for a task that is not running")
	}
	if k.nosched > 0 {
		panic("rtkern: blocking call while scheduler suspended")
	}
	t.seq++
	t.state = StateBlocked
	t.wakeOK = false
	if timeout != Forever {
		k.addTimer(k.tick+timeout, t, t.seq)
	}
	t.suspendz()
}

// running returns the calling task for a blocking operation,
// panicking when invoked from outside any task.
func (k *Kernel) running(t *Task) *Task {
	if t == nil || t != k.current {
		panic("rtkern: blocking operation outside the running task")
	}
	return t
}

// privileged reports whether the calling context may use restricted
// operations. Code running outside any task (init, tests, the check
// loop) counts as privileged.
func (k *Kernel) privileged() bool {
	return k.current == nil || k.current.privileged
}

func (k *Kernel) logf(format string, args ...any) {
	if trace.IsEnabled() {
		trace.Logf(k.ctx, kernelTraceCategory, format, args...)
	}
}
