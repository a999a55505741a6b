package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "servermon",
		Short: "Server telemetry collection and threshold alerting",
		Long: `servermon samples CPU, memory, disk, network and response time from a fleet
of targets on a schedule, stores every sample and raises threshold alerts.

Collection is wrapped in retries, timeouts, circuit breakers and a bulkhead
so one slow or failing target never stalls the fleet.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newCollectCommand(),
		newEvaluateCommand(),
		newMigrateCommand(),
		newTargetsCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
