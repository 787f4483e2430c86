package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadmayfield/seismicd/internal/audit"
	"github.com/chadmayfield/seismicd/internal/chunk"
	"github.com/chadmayfield/seismicd/internal/config"
	"github.com/chadmayfield/seismicd/internal/metadata"
)

var (
	auditStation string
	auditFrom    string
	auditTo      string
	auditRepair  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Compare the chunk index against stored objects and optionally repair drift",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditStation, "station", "", "station code (NET.STA.LOC.CHA), default all")
	auditCmd.Flags().StringVar(&auditFrom, "from", "", "start date (YYYY-MM-DD)")
	auditCmd.Flags().StringVar(&auditTo, "to", "", "end date (YYYY-MM-DD, default: from)")
	auditCmd.Flags().BoolVar(&auditRepair, "repair", false, "repair the drift found")
	_ = auditCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	from, err := time.Parse(time.DateOnly, auditFrom)
	if err != nil {
		return fmt.Errorf("invalid --from date: %w", err)
	}
	to := from
	if auditTo != "" {
		to, err = time.Parse(time.DateOnly, auditTo)
		if err != nil {
			return fmt.Errorf("invalid --to date: %w", err)
		}
	}
	if to.Before(from) {
		return fmt.Errorf("--to date must not be before --from")
	}

	stations := cfg.ActiveStations()
	if auditStation != "" {
		var match *chunk.Station
		for i := range stations {
			if stations[i].Code() == auditStation {
				match = &stations[i]
				break
			}
		}
		if match == nil {
			return fmt.Errorf("station %q not found in config", auditStation)
		}
		stations = []chunk.Station{*match}
	}

	objects, err := openStorage(cfg)
	if err != nil {
		return err
	}
	logger := slog.Default()
	auditor := audit.New(objects, metadata.NewStore(objects, logger), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, st := range stations {
		report, err := auditor.Audit(ctx, st, from, to)
		if err != nil {
			return fmt.Errorf("auditing %s: %w", st.Code(), err)
		}

		fmt.Printf("%s: %d missing, %d orphaned, %d duplicate starts\n",
			st.Code(), len(report.Missing), len(report.Orphaned), len(report.Duplicates))
		for _, key := range report.Missing {
			fmt.Printf("  missing:  %s\n", key)
		}
		for _, key := range report.Orphaned {
			fmt.Printf("  orphaned: %s\n", key)
		}
		for _, d := range report.Duplicates {
			fmt.Printf("  duplicate: %s %s start=%s count=%d\n", d.Date, d.Type, d.Start, d.Count)
		}

		if auditRepair {
			result, err := auditor.Repair(ctx, st, from, to)
			if err != nil {
				return fmt.Errorf("repairing %s: %w", st.Code(), err)
			}
			fmt.Printf("  repaired: %d adopted, %d rejected, %d pruned, %d deduplicated\n",
				result.Adopted, result.RejectedOrphan, result.PrunedMissing, result.Deduplicated)
		}
	}
	return nil
}
