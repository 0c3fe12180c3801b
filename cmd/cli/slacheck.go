package main

import (
	"context"
	"fmt"

	"github.com/afformationceo-debug/csflow-sub002/internal/app"
	"github.com/afformationceo-debug/csflow-sub002/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var slaCheckCmd = &cobra.Command{
	Use:   "sla-check",
	Short: "Run a single SLA check over all open conversations",
	RunE:  runSLACheck,
}

func init() {
	rootCmd.AddCommand(slaCheckCmd)
}

func runSLACheck(cmd *cobra.Command, args []string) error {
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

	result, err := application.SLA.RunSLACheck(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Checked: %d\nNew breaches: %d\nErrors: %d\n",
		result.Checked, result.NewBreaches, result.Errors)
	return nil
}
