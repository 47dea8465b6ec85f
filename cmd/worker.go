package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the retry worker pool",
	Long:  `Run the delayed retry queue drain, the stale-failure sweep and exhaustion cleanup as a standalone process`,
	Run: func(cmd *cobra.Command, args []string) {
		startRetryWorker()
	},
}

func startRetryWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	deps.Pool.Start()
	deps.Logger.Info("retry worker running",
		"workers", deps.Config.Retry.WorkerCount,
		"sweep_interval", deps.Config.Retry.SweepInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	deps.Logger.Info("received signal, shutting down worker", "signal", sig)
	deps.Pool.Shutdown()
	closeDependencies(deps)
	deps.Logger.Info("worker stopped")
}
