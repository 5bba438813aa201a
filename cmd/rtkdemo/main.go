// Command rtkdemo runs the soak subsystems on a simulated kernel and
// reports their health, the hosted equivalent of the demo's check
// task: it periodically polls every subsystem and fails the run if
// any of them stops cycling or detects an error.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/webriots/rtkern"
	"github.com/webriots/rtkern/soak"
)

var (
	runTicks   int64
	checkEvery int64
	levels     int
)

var rootCmd = &cobra.Command{
	Use:   "rtkdemo",
	Short: "Run the rtkern soak subsystems and report their health",
	Long: `rtkdemo creates a simulated priority-preemptive kernel, starts the
interrupt-semaphore, counting-semaphore, dynamic-priority and
floating-point soak subsystems on it, and runs them for a fixed
amount of virtual time, polling every subsystem's health between
slices. Any subsystem that stalls or detects unexpected behavior
fails the run.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().Int64Var(&runTicks, "ticks", 200_000, "virtual ticks to run for")
	rootCmd.Flags().Int64Var(&checkEvery, "check-every", 5_000, "ticks between health polls")
	rootCmd.Flags().IntVar(&levels, "levels", 8, "number of priority levels")
}

func run(cmd *cobra.Command, args []string) error {
	if checkEvery <= 0 || runTicks <= 0 {
		return fmt.Errorf("ticks and check-every must be positive")
	}

	k := rtkern.New(cmd.Context(), levels)
	suite := soak.StartAll(k)

	for elapsed := int64(0); elapsed < runTicks; {
		slice := min(checkEvery, runTicks-elapsed)
		ran := int64(k.RunFor(rtkern.Ticks(slice)))
		if ran == 0 {
			return fmt.Errorf("kernel quiescent at tick %d", k.Tick())
		}
		elapsed += ran

		if suite.Healthy() {
			fmt.Printf("tick %8d: OK\n", k.Tick())
		} else {
			fmt.Printf("tick %8d: FAIL %v\n", k.Tick(), suite.Failed())
		}
	}

	if failed := suite.Failed(); len(failed) > 0 {
		return fmt.Errorf("unhealthy subsystems: %v", failed)
	}
	fmt.Println("all subsystems healthy")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
