package rtkern

// Mutex provides mutual exclusion between tasks with priority
// inheritance. Ownership is non-recursive: a second acquire by the
// owner fails rather than nesting. While a higher-priority task
// waits, the owner runs at the waiter's priority; the elevation is
// kept until the owner no longer holds any contested mutex.
//
// The token can additionally be given from interrupt context, which
// is how the original demo drives a task from a timer interrupt. An
// interrupt give is only valid on a drained mutex (see Reset).
type Mutex struct {
	noCopy  noCopy
	k       *Kernel
	avail   bool  // token present, no owner
	owner   *Task // task holding the token, if any
	waiters waitQueue
}

// NewMutex creates an available mutex.
func (k *Kernel) NewMutex() *Mutex {
	return &Mutex{k: k, avail: true}
}

// TryLock acquires the mutex without waiting, returning false when
// it is unavailable. Acquiring a mutex the caller already owns fails.
func (m *Mutex) TryLock(t *Task) bool {
	return m.lock(t, NoWait)
}

// Lock acquires the mutex, waiting indefinitely. While the caller
// waits the owner inherits the caller's priority if it is higher.
func (m *Mutex) Lock(t *Task) bool {
	return m.lock(t, Forever)
}

// LockTimeout acquires the mutex, waiting at most timeout ticks. On
// expiry the caller is removed from the wait set, the owner's
// inherited priority is recomputed as if the caller had never
// waited, and false is returned.
func (m *Mutex) LockTimeout(t *Task, timeout Ticks) bool {
	return m.lock(t, timeout)
}

func (m *Mutex) lock(t *Task, timeout Ticks) bool {
	k := m.k
	k.running(t)

	if m.avail {
		m.avail = false
		m.owner = t
		t.holds = append(t.holds, m)
		t.Log("LOCK")
		return true
	}
	if m.owner == t || timeout == NoWait {
		return false
	}

	t.Log("LOCK WAIT")
	if m.owner != nil {
		k.inheritTo(m.owner, t.eff)
	}
	m.waiters.insert(t)
	t.waitq = &m.waiters
	t.waitm = m
	k.block(t, timeout)
	return t.wakeOK
}

// Unlock releases the mutex. It fails, leaving the mutex untouched,
// when the caller is not the owner. Ownership transfers to the
// highest-priority waiter if there is one, and the caller's
// effective priority drops back to base unless another mutex it
// still holds is contested.
func (m *Mutex) Unlock(t *Task) bool {
	k := m.k
	k.running(t)
	if m.owner != t {
		return false
	}
	t.Log("UNLOCK")
	t.removeHold(m)
	m.grant()
	k.recomputeInherited(t)
	return true
}

// GiveFromISR returns the token from interrupt context. It is valid
// only on a drained mutex (token absent with no owner): giving an
// available or owned mutex fails without side effects. At most one
// waiter is woken; the switch to it happens when the interrupt
// returns to the kernel loop.
func (m *Mutex) GiveFromISR(isr *ISR) bool {
	if isr == nil || isr.k != m.k {
		panic("rtkern: Mutex.GiveFromISR outside interrupt context")
	}
	if m.avail || m.owner != nil {
		return false
	}
	if w := m.grant(); w != nil {
		isr.woken = true
	}
	return true
}

// Reset drains the token: any owner is stripped and disinherited and
// the mutex becomes unavailable with no owner. This is the state an
// interrupt give hands the token out of. Waiters stay blocked.
func (m *Mutex) Reset() {
	if m.owner != nil {
		m.owner.removeHold(m)
		m.k.recomputeInherited(m.owner)
	}
	m.owner = nil
	m.avail = false
}

// grant hands the token to the highest-priority waiter, or marks the
// mutex available when the wait set is empty.
func (m *Mutex) grant() *Task {
	w := m.waiters.pop()
	if w == nil {
		m.owner = nil
		m.avail = true
		return nil
	}
	m.owner = w
	w.holds = append(w.holds, m)
	w.waitq = nil
	w.waitm = nil
	w.wakeOK = true
	m.k.makeReady(w)
	return w
}

// Owner returns the task holding the mutex, or nil.
func (m *Mutex) Owner() *Task { return m.owner }

// WaitCount returns the number of tasks waiting to acquire the
// mutex.
func (m *Mutex) WaitCount() int { return m.waiters.len() }
