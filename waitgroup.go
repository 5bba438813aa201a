package rtkern

// WaitGroup is used to wait for a collection of tasks to finish.
// Tasks call Add(1) when they start and Done() when they finish.
// Other tasks can call Wait() to block until all tasks have finished.
type WaitGroup struct {
	noCopy  noCopy
	v       int32 // Counter for the number of tasks
	waiters waitQueue
}

// Add adds delta to the WaitGroup counter. If the counter becomes
// zero every waiting task is woken, highest priority first. If the
// counter goes negative, Add panics.
func (wg *WaitGroup) Add(delta int) {
	wg.v += int32(delta)

	if wg.v < 0 {
		panic("rtkern: negative WaitGroup counter")
	}
	if wg.v > 0 {
		return
	}

	for {
		w := wg.waiters.pop()
		if w == nil {
			return
		}
		w.waitq = nil
		w.wakeOK = true
		w.k.makeReady(w)
	}
}

// Done decrements the WaitGroup counter by one. It's a convenience
// method equivalent to Add(-1).
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Wait blocks the calling task until the WaitGroup counter is zero.
// If the counter is already zero, it returns immediately.
func (wg *WaitGroup) Wait(t *Task) {
	if wg.v == 0 {
		return
	}

	k := t.k
	k.running(t)
	t.Log("WG WAIT")
	wg.waiters.insert(t)
	t.waitq = &wg.waiters
	k.block(t, Forever)
}
