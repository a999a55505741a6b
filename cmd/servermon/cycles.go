package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newCollectCommand() *cobra.Command {
	var targetID int64

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, a *app) (interface{}, error) {
				if targetID > 0 {
					target, err := a.targets.Get(ctx, targetID)
					if err != nil {
						return nil, err
					}
					return a.collection.CollectNow(ctx, *target)
				}
				return a.collection.RunCollectionCycle(ctx)
			})
		},
	}
	cmd.Flags().Int64Var(&targetID, "target", 0, "Collect only this target id")
	return cmd
}

func newEvaluateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run one alert evaluation cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, a *app) (interface{}, error) {
				return a.evaluator.RunAlertEvaluationCycle(ctx)
			})
		},
	}
}

// runOnce wires the pipeline, runs fn, flushes notifications and prints the
// result as JSON.
func runOnce(fn func(ctx context.Context, a *app) (interface{}, error)) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go a.dispatcher.Run(context.Background())
	result, runErr := fn(ctx, a)
	a.dispatcher.Stop()

	if result != nil {
		out := json.NewEncoder(os.Stdout)
		out.SetIndent("", "  ")
		if err := out.Encode(result); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	}
	return runErr
}
