package rtkern

import (
	"context"
	"fmt"
	"runtime/trace"
	"slices"

	"github.com/webriots/coro"
)

// RegionAccess is the access granted to a declared memory region.
type RegionAccess uint8

const (
	// RegionReadOnly grants read access.
	RegionReadOnly RegionAccess = iota
	// RegionReadWrite grants read and write access.
	RegionReadWrite
)

// MemRegion declares a named, sized region of shared state a task
// needs access to. Regions are recorded for inspection; enforcement
// belongs to the memory-protection collaborator, not the kernel.
// Shared primitives and counters must appear in the region list of
// every task that touches them.
type MemRegion struct {
	Name   string
	Size   int
	Access RegionAccess
}

// TaskParams describes a task to create.
type TaskParams struct {
	// Entry is the task body. Tasks typically loop forever;
	// returning puts the task in StateDone.
	Entry func(context.Context, *Task)

	// Name identifies the task in logs and traces.
	Name string

	// StackDepth is the task's stack budget in words. It is
	// recorded, not enforced, on a hosted target.
	StackDepth int

	// Priority is the task's base priority.
	Priority Priority

	// Privileged allows the task to use restricted operations:
	// changing priorities and suspending or resuming other tasks.
	Privileged bool

	// StartSuspended creates the task in StateSuspended so another
	// task controls when it first runs.
	StartSuspended bool

	// Regions lists the shared memory regions granted to the task.
	Regions []MemRegion
}

// Task is an independently schedulable unit of execution backed by a
// coroutine. Exactly one task runs at a time; the rest are ready,
// blocked, or suspended.
type Task struct {
	k          *Kernel
	ctx        context.Context
	name       string
	base       Priority
	eff        Priority
	state      TaskState
	privileged bool
	stackDepth int
	regions    []MemRegion

	holds  []*Mutex    // mutexes currently owned, acquisition order
	waitq  *waitQueue  // wait set this task is blocked in, if any
	waitm  *Mutex      // mutex behind waitq when mutex-blocked
	wakeOK bool        // result delivered by the waker
	seq    uint64      // invalidates stale ready/timer entries

	yield   func(struct{}) struct{}
	suspend func() struct{}
	resume  func(struct{}) (struct{}, bool)
	cancel  func()
}

// Create adds a task to the kernel. The entry function receives a
// context carrying the task (see TaskFromContext) and the task
// itself. Unless StartSuspended is set the task becomes ready
// immediately and may preempt the caller.
func (k *Kernel) Create(p TaskParams) *Task {
	if p.Entry == nil {
		panic("rtkern: Create with nil entry")
	}
	if int(p.Priority) >= len(k.ready) {
		panic("rtkern: Create priority out of range")
	}
	for _, r := range p.Regions {
		if r.Name == "" || r.Size <= 0 {
			panic("rtkern: Create with unnamed or zero-sized region")
		}
	}

	t := &Task{
		k:          k,
		name:       p.Name,
		base:       p.Priority,
		eff:        p.Priority,
		privileged: p.Privileged,
		stackDepth: p.StackDepth,
		regions:    slices.Clone(p.Regions),
	}
	t.ctx = withTaskContext(k.ctx, t)

	resume, cancel := coro.New(
		func(yield func(struct{}) struct{}, suspend func() struct{}) (z struct{}) {
			t.yield = yield
			t.suspend = suspend
			p.Entry(t.ctx, t)
			return
		},
	)
	t.resume = resume
	t.cancel = cancel

	k.tasks = append(k.tasks, t)
	k.logf("CREATE %s prio %d", t.name, t.base)

	if p.StartSuspended {
		t.state = StateSuspended
	} else {
		k.makeReady(t)
	}
	return t
}

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// Kernel returns the kernel the task belongs to.
func (t *Task) Kernel() *Kernel { return t.k }

// State returns the task's execution state.
func (t *Task) State() TaskState { return t.state }

// Priority returns the task's effective priority, which is its base
// priority unless raised by inheritance.
func (t *Task) Priority() Priority { return t.eff }

// BasePriority returns the priority the task was created with, or
// last set through SetPriority.
func (t *Task) BasePriority() Priority { return t.base }

// Privileged reports whether the task may use restricted operations.
func (t *Task) Privileged() bool { return t.privileged }

// StackDepth returns the task's declared stack budget in words.
func (t *Task) StackDepth() int { return t.stackDepth }

// Regions returns a copy of the task's declared memory regions.
func (t *Task) Regions() []MemRegion { return slices.Clone(t.regions) }

// SetPriority changes the task's base priority. The effective
// priority follows unless inheritance keeps it higher. Requires a
// privileged caller; returns false when refused. Lowering the
// running task below a ready task, or raising another task above the
// running one, switches immediately.
func (t *Task) SetPriority(p Priority) bool {
	k := t.k
	if !k.privileged() {
		return false
	}
	if int(p) >= len(k.ready) || t.state == StateDone {
		return false
	}
	t.Logf("SET PRIO %d", p)
	t.base = p
	k.recomputeInherited(t)
	k.reschedule()
	return true
}

// Delay blocks the calling task for d ticks of virtual time. A
// non-positive delay yields instead.
func (t *Task) Delay(d Ticks) {
	k := t.k
	k.running(t)
	if d <= 0 {
		t.Yield()
		return
	}
	t.Log("DELAY")
	k.block(t, d)
}

// Yield moves the calling task to the back of its priority level and
// lets equal-priority ready tasks run.
func (t *Task) Yield() {
	k := t.k
	k.running(t)
	t.seq++
	t.state = StateReady
	k.ready[t.eff].PushBack(readyEntry{task: t, seq: t.seq})
	t.suspendz()
}

// Suspend removes the task from scheduling until Resume. A task may
// always suspend itself; suspending another task requires a
// privileged caller. A blocked task is unlinked from whatever it was
// waiting on, shrinking any priority it had lent to a mutex owner.
// Returns false when refused.
func (t *Task) Suspend() bool {
	k := t.k
	if t == k.current {
		t.Log("SUSPEND")
		t.seq++
		t.state = StateSuspended
		t.suspendz()
		return true
	}
	if !k.privileged() || t.state == StateDone {
		return false
	}
	if t.state == StateBlocked && t.waitq != nil {
		t.waitq.remove(t)
		if m := t.waitm; m != nil && m.owner != nil {
			k.recomputeInherited(m.owner)
		}
		t.waitq = nil
		t.waitm = nil
	}
	t.Log("SUSPEND")
	t.seq++
	t.state = StateSuspended
	return true
}

// Resume makes a suspended task ready again, preempting the caller
// if the resumed task outranks it. Requires a privileged caller;
// returns false when refused or when the task is not suspended.
func (t *Task) Resume() bool {
	k := t.k
	if !k.privileged() {
		return false
	}
	if t.state != StateSuspended {
		return false
	}
	t.Log("RESUME")
	k.makeReady(t)
	return true
}

// context returns the task's context.
func (t *Task) context() context.Context { return t.ctx }

// resumez resumes the coroutine, reporting whether it is still alive.
func (t *Task) resumez() bool {
	var z struct{}
	_, ok := t.resume(z)
	return ok
}

// suspendz suspends the coroutine until the kernel resumes it.
func (t *Task) suspendz() {
	t.suspend()
}

// Log writes msg to the execution trace when tracing is enabled.
func (t *Task) Log(msg string) {
	if trace.IsEnabled() {
		trace.Log(t.ctx, kernelTraceCategory, t.name+" "+msg)
	}
}

// Logf formats a message to the execution trace when tracing is
// enabled.
func (t *Task) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		trace.Log(t.ctx, kernelTraceCategory, t.name+" "+fmt.Sprintf(format, args...))
	}
}
