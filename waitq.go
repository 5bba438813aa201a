package rtkern

import "github.com/gammazero/deque"

// waitQueue is a wait set ordered by effective priority, highest
// first, with insertion order breaking ties. Grants therefore go to
// the highest-priority waiter, not the earliest-queued one.
type waitQueue struct {
	d deque.Deque[*Task]
}

// insert places t behind every waiter whose effective priority is at
// least t's.
func (q *waitQueue) insert(t *Task) {
	i := 0
	for i < q.d.Len() && q.d.At(i).eff >= t.eff {
		i++
	}
	q.d.Insert(i, t)
}

// remove unlinks t, reporting whether it was present.
func (q *waitQueue) remove(t *Task) bool {
	if i := q.d.Index(func(x *Task) bool { return x == t }); i >= 0 {
		q.d.Remove(i)
		return true
	}
	return false
}

// top returns the highest-priority waiter without removing it, or
// nil when the set is empty.
func (q *waitQueue) top() *Task {
	if q.d.Len() == 0 {
		return nil
	}
	return q.d.Front()
}

// pop removes and returns the highest-priority waiter, or nil when
// the set is empty.
func (q *waitQueue) pop() *Task {
	if q.d.Len() == 0 {
		return nil
	}
	return q.d.PopFront()
}

func (q *waitQueue) len() int { return q.d.Len() }
