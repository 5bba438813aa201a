package rtkern

// ISR is the handle passed to the tick hook. It marks interrupt
// context: operations reached through it never block and complete in
// bounded time. Wake-ups caused in interrupt context are limited to
// marking a task ready; the context switch happens when the
// interrupt returns to the kernel loop.
type ISR struct {
	k     *Kernel
	woken bool
}

// Tick returns the current virtual time.
func (i *ISR) Tick() Ticks { return i.k.tick }

// HigherPriorityWoken reports whether a FromISR operation woke a
// task during this interrupt, meaning a context switch is due when
// the interrupt returns.
func (i *ISR) HigherPriorityWoken() bool { return i.woken }
