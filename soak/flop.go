package soak

import (
	"context"
	"math"

	"github.com/webriots/rtkern"
)

const (
	// Iterations per verification cycle and the rest between cycles.
	flopIterations              = 100
	flopRestTicks  rtkern.Ticks = 25

	// Relative tolerance for the accumulated floating-point results.
	flopEpsilon = 1e-12

	flopSharedBytes = 32
)

// Flop runs pairs of low-priority tasks performing compounding
// floating-point calculations, each verifying its accumulated value
// every cycle. The tasks yield between steps so their computations
// interleave, demonstrating that switching tasks preserves each
// one's in-progress floating-point state.
type Flop struct {
	errorDetected bool
	loops         [4]uint32
	lastLoops     [4]uint32
}

// StartMathTasks creates the floating-point soak tasks.
func StartMathTasks(k *rtkern.Kernel) *Flop {
	f := new(Flop)

	region := rtkern.MemRegion{
		Name:   "flop.state",
		Size:   flopSharedBytes,
		Access: rtkern.RegionReadWrite,
	}

	names := [4]string{"Math1", "Math2", "Math3", "Math4"}
	for i := range names {
		idx := i
		entry := f.additionTask
		if idx >= 2 {
			entry = f.multiplicationTask
		}
		k.Create(rtkern.TaskParams{
			Entry: func(_ context.Context, t *rtkern.Task) {
				entry(t, idx)
			},
			Name:       names[i],
			StackDepth: 128,
			Priority:   0,
			Regions:    []rtkern.MemRegion{region},
		})
	}

	return f
}

func (f *Flop) fail() {
	f.errorDetected = true
}

func (f *Flop) additionTask(t *rtkern.Task, idx int) {
	const d1, d2 = 123.4567, 234.56789
	expected := float64(flopIterations) * (d1 + d2)

	for {
		total := 0.0
		for i := 0; i < flopIterations; i++ {
			total += d1 + d2
			t.Yield()
		}
		if math.Abs(total-expected) > flopEpsilon*math.Abs(expected) {
			f.fail()
		}
		f.loops[idx]++
		t.Delay(flopRestTicks)
	}
}

func (f *Flop) multiplicationTask(t *rtkern.Task, idx int) {
	const d1, d2 = -389.38, 32498.2
	expected := float64(flopIterations) * (d1 * d2)

	for {
		total := 0.0
		for i := 0; i < flopIterations; i++ {
			total += d1 * d2
			t.Yield()
		}
		if math.Abs(total-expected) > flopEpsilon*math.Abs(expected) {
			f.fail()
		}
		f.loops[idx]++
		t.Delay(flopRestTicks)
	}
}

// Healthy reports whether every math task is still cycling and all
// accumulated results have checked out.
func (f *Flop) Healthy() bool {
	for i := range f.loops {
		if f.loops[i] == f.lastLoops[i] {
			f.fail()
		}
		f.lastLoops[i] = f.loops[i]
	}
	return !f.errorDetected
}
