package rtkern

import "slices"

// Priority inheritance. A mutex owner is raised to the priority of
// its highest-priority waiter when contention appears, and dropped
// back only once no mutex it still holds has a waiter above its base
// priority. The rule is deliberately simplified: instead of tracking
// per-mutex inherited sources, the owner's effective priority is
// recomputed from the wait sets of everything it currently holds.
// Inheritance is not propagated transitively through chains of
// blocked owners.

// inheritTo raises owner's effective priority to at least p.
func (k *Kernel) inheritTo(owner *Task, p Priority) {
	if p > owner.eff {
		owner.Logf("INHERIT %d", p)
		k.setEffective(owner, p)
	}
}

// recomputeInherited restores t's effective priority to the maximum
// of its base priority and the top waiter of every mutex it still
// holds. Called after releasing a mutex, after a waiter times out or
// is suspended away, and after a base priority change.
func (k *Kernel) recomputeInherited(t *Task) {
	ceiling := t.base
	for _, m := range t.holds {
		if w := m.waiters.top(); w != nil && w.eff > ceiling {
			ceiling = w.eff
		}
	}
	k.setEffective(t, ceiling)
}

// setEffective applies a new effective priority, moving the task to
// the matching ready queue or repositioning it within its wait set,
// and preempts the running task if the change makes that necessary.
func (k *Kernel) setEffective(t *Task, p Priority) {
	if p == t.eff {
		return
	}
	t.Logf("EFF PRIO %d", p)
	t.eff = p
	switch t.state {
	case StateReady:
		t.seq++
		k.ready[t.eff].PushBack(readyEntry{task: t, seq: t.seq})
	case StateBlocked:
		if t.waitq != nil {
			t.waitq.remove(t)
			t.waitq.insert(t)
		}
	}
	k.reschedule()
}

// removeHold unlinks m from t's held-mutex list.
func (t *Task) removeHold(m *Mutex) {
	for i, h := range t.holds {
		if h == m {
			t.holds = slices.Delete(t.holds, i, i+1)
			return
		}
	}
}
