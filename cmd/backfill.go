package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadmayfield/seismicd/internal/config"
)

var bfHours int

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical chunk windows from the upstream source",
	RunE:  runBackfill,
}

func init() {
	backfillCmd.Flags().IntVar(&bfHours, "hours", 24, "how many hours of history to backfill")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if bfHours <= 0 {
		return fmt.Errorf("--hours must be positive")
	}

	coll, _, err := buildCollector(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("backfilling",
		"hours", bfHours,
		"stations", len(cfg.ActiveStations()),
	)

	entry, err := coll.Backfill(ctx, time.Duration(bfHours)*time.Hour)
	if err != nil {
		return err
	}

	fmt.Printf("Backfill complete: %d tasks, %d created, %d skipped, %d failed\n",
		entry.TotalTasks, entry.Successful, entry.Skipped, entry.Failed)
	return nil
}
