package rtkern

// Semaphore is a bounded counting semaphore. The count never goes
// below zero or above the configured maximum: a give at the maximum
// fails without blocking, wrapping, or queuing. Waiters are woken in
// priority order with a direct handoff, so the count stays zero
// while tasks are waiting.
//
// Give operations are safe from interrupt context through
// GiveFromISR, which never blocks and defers any wake-up to the
// kernel loop.
type Semaphore struct {
	noCopy  noCopy
	k       *Kernel
	count   int
	max     int
	waiters waitQueue
}

// NewCounting creates a counting semaphore with the given maximum
// and initial count.
func (k *Kernel) NewCounting(max, initial int) *Semaphore {
	if max < 1 || initial < 0 || initial > max {
		panic("rtkern: NewCounting count out of range")
	}
	return &Semaphore{k: k, count: initial, max: max}
}

// NewBinary creates an empty binary semaphore.
func (k *Kernel) NewBinary() *Semaphore {
	return k.NewCounting(1, 0)
}

// TryTake decrements the count without waiting, returning false when
// it is zero.
func (s *Semaphore) TryTake(t *Task) bool {
	return s.take(t, NoWait)
}

// Take decrements the count, waiting indefinitely for a give when it
// is zero.
func (s *Semaphore) Take(t *Task) bool {
	return s.take(t, Forever)
}

// TakeTimeout decrements the count, waiting at most timeout ticks.
func (s *Semaphore) TakeTimeout(t *Task, timeout Ticks) bool {
	return s.take(t, timeout)
}

func (s *Semaphore) take(t *Task, timeout Ticks) bool {
	k := s.k
	k.running(t)

	if s.count > 0 {
		s.count--
		t.Log("TAKE")
		return true
	}
	if timeout == NoWait {
		return false
	}

	t.Log("TAKE WAIT")
	s.waiters.insert(t)
	t.waitq = &s.waiters
	k.block(t, timeout)
	return t.wakeOK
}

// Give increments the count, handing off directly to the
// highest-priority waiter if there is one. It fails, leaving the
// count unchanged, when the count is already at the maximum.
func (s *Semaphore) Give() bool {
	if s.count == s.max {
		return false
	}
	if w := s.waiters.pop(); w != nil {
		s.wake(w)
		return true
	}
	s.count++
	return true
}

// GiveFromISR is Give for interrupt context. It never blocks; a
// woken task is only marked ready, with the switch to it deferred
// until the interrupt returns, and the ISR's higher-priority-woken
// flag is set. Two back-to-back gives at the maximum leave the count
// unchanged and fail on the second call.
func (s *Semaphore) GiveFromISR(isr *ISR) bool {
	if isr == nil || isr.k != s.k {
		panic("rtkern: Semaphore.GiveFromISR outside interrupt context")
	}
	if s.count == s.max {
		return false
	}
	if w := s.waiters.pop(); w != nil {
		s.wake(w)
		isr.woken = true
		return true
	}
	s.count++
	return true
}

func (s *Semaphore) wake(w *Task) {
	w.waitq = nil
	w.wakeOK = true
	s.k.makeReady(w)
}

// Count returns the current count.
func (s *Semaphore) Count() int { return s.count }

// Max returns the configured maximum count.
func (s *Semaphore) Max() int { return s.max }

// WaitCount returns the number of tasks blocked on the semaphore.
func (s *Semaphore) WaitCount() int { return s.waiters.len() }
