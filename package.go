// Package rtkern is a deterministic, single-core simulation of a
// priority-preemptive real-time kernel. It provides the scheduling
// and synchronization primitives needed to reproduce and validate
// RTOS-style interaction patterns on a hosted target: tasks are
// coroutines resumed one at a time by the kernel, time is a virtual
// tick counter, and interrupts are modeled as a hook that runs
// between ticks in a context that must never block.
//
// Key components:
//
//   - Kernel: Owns the ready queues, the virtual clock, the timer
//     queue, and the run loop. A higher-priority task that becomes
//     ready preempts the running task at its next kernel call.
//
//   - Task: A coroutine-backed unit of execution with a base
//     priority, an effective priority, and an execution state. Tasks
//     may be privileged, which gates operations such as changing
//     priorities or suspending other tasks.
//
//   - Mutex: A non-recursive ownership token with priority
//     inheritance. A contended owner inherits the priority of its
//     highest-priority waiter and is disinherited once it no longer
//     holds any contested mutex.
//
//   - Semaphore: A bounded counting semaphore that is safe to give
//     from interrupt context. Giving at the maximum count fails
//     without blocking or wrapping.
//
//   - ISR: The handle passed to the periodic tick hook. FromISR
//     operations never block; wake-ups they cause are deferred to
//     the kernel loop.
//
//   - WaitGroup: Joins a collection of tasks, waking all waiters
//     through the ready queue.
package rtkern
