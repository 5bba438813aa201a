// Package soak contains long-running demonstration and validation
// subsystems for the rtkern primitives: an interrupt-semaphore test
// that drives priority inheritance through a master/slave task pair,
// a counting-semaphore demo, a dynamic-priority demo, and a
// floating-point soak.
//
// Each subsystem creates its tasks on a shared kernel and latches
// any unexpected behavior into a sticky per-subsystem error flag.
// Health is observed solely through polling: a Healthy poll also
// compares each subsystem's loop counters against their values at
// the previous poll, so a stalled task reads as a failure even when
// it never tripped an explicit check. Polls must therefore be spaced
// far enough apart in virtual time for every task to complete at
// least one cycle.
package soak

import "github.com/webriots/rtkern"

// Suite aggregates the health of registered subsystems. A subsystem
// that reports unhealthy once stays failed for the life of the
// suite.
type Suite struct {
	subs []*subsystem
}

type subsystem struct {
	name    string
	healthy func() bool
	failed  bool
}

// Register adds a subsystem health poll under the given name.
func (s *Suite) Register(name string, healthy func() bool) {
	s.subs = append(s.subs, &subsystem{name: name, healthy: healthy})
}

// Healthy polls every registered subsystem and reports whether all
// of them are healthy. Failures latch.
func (s *Suite) Healthy() bool {
	ok := true
	for _, sub := range s.subs {
		if !sub.healthy() {
			sub.failed = true
		}
		if sub.failed {
			ok = false
		}
	}
	return ok
}

// Failed returns the names of subsystems that have ever reported
// unhealthy.
func (s *Suite) Failed() []string {
	var names []string
	for _, sub := range s.subs {
		if sub.failed {
			names = append(names, sub.name)
		}
	}
	return names
}

// StartAll starts every soak subsystem on the kernel and returns a
// suite polling all of them.
func StartAll(k *rtkern.Kernel) *Suite {
	s := new(Suite)
	s.Register("intsem", StartInterruptSemaphore(k).Healthy)
	s.Register("countsem", StartCountingSemaphore(k).Healthy)
	s.Register("dynamic", StartDynamicPriority(k).Healthy)
	s.Register("flop", StartMathTasks(k).Healthy)
	return s
}
