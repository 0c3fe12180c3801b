package main

import (
	"context"
	"fmt"

	"github.com/afformationceo-debug/csflow-sub002/internal/app"
	"github.com/afformationceo-debug/csflow-sub002/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var sweepThreshold int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Escalate conversations with no agent reply past the threshold",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().IntVar(&sweepThreshold, "threshold", 0, "no-reply threshold in minutes (default from config)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer application.Close(ctx)

	threshold := sweepThreshold
	if threshold <= 0 {
		threshold = cfg.Scheduler.SweepThresholdMins
	}

	result, err := application.Sweeper.Sweep(ctx, threshold)
	if err != nil {
		return err
	}

	fmt.Printf("Processed: %d\nEscalated: %d\nSkipped: %d\nErrors: %d\n",
		result.Processed, result.Escalated, result.Skipped, result.Errors)
	for _, item := range result.Items {
		fmt.Printf("  %s %s: %s\n", item.Action, item.ConversationID, item.Reason)
	}
	return nil
}
