package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chadmayfield/seismicd/internal/api"
	"github.com/chadmayfield/seismicd/internal/collector"
	"github.com/chadmayfield/seismicd/internal/config"
	"github.com/chadmayfield/seismicd/internal/fetch"
	"github.com/chadmayfield/seismicd/internal/metadata"
	"github.com/chadmayfield/seismicd/internal/persist"
	"github.com/chadmayfield/seismicd/internal/runlog"
	"github.com/chadmayfield/seismicd/internal/storage"
)

var (
	listenAddr    string
	storageDriver string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Start the seismicd collection daemon (default command)",
	RunE:  runCollect,
}

func init() {
	collectCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	collectCmd.Flags().StringVar(&storageDriver, "storage-driver", "", "storage driver (overrides config)")
	rootCmd.AddCommand(collectCmd)

	// Make collect the default command.
	rootCmd.RunE = runCollect
}

func runCollect(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Apply flag overrides.
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}

	slog.Info("starting seismicd",
		"listen_addr", cfg.ListenAddr,
		"storage_driver", cfg.Storage.Driver,
		"stations", len(cfg.Stations),
	)

	coll, rl, err := buildCollector(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stations := cfg.ActiveStations()
	srv := api.NewServer(coll, rl, stations, slog.Default())
	srv.SetVersion(Version)
	srv.SetStorageDriver(cfg.Storage.Driver)

	// Backfill gaps on startup.
	if cfg.Collection.BackfillOnStartup {
		depth := time.Duration(cfg.Collection.BackfillDepthHours) * time.Hour
		if _, err := coll.Backfill(ctx, depth); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("startup backfill failed", "error", err)
		}
	}

	slog.Info("seismicd ready", "addr", cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coll.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.ListenAddr) })

	waitErr := g.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		slog.Error("seismicd exited with error", "error", waitErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	slog.Info("seismicd shutdown complete")
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return nil
}

// buildCollector wires the storage backend, metadata store, persister,
// upstream source, and run log into a Collector.
func buildCollector(cfg *config.Config) (*collector.Collector, *runlog.Store, error) {
	objects, err := openStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.Default()
	meta := metadata.NewStore(objects, logger)
	persister := persist.New(objects, meta, logger)
	retention := time.Duration(cfg.Collection.RunlogRetentionDays) * 24 * time.Hour
	rl := runlog.NewStore(objects, retention, logger)

	var sourceOpts []fetch.IRISOption
	if cfg.Source.BaseURL != "" {
		sourceOpts = append(sourceOpts, fetch.WithBaseURL(cfg.Source.BaseURL))
	}
	source := fetch.NewIRISClient(sourceOpts...)

	coll := collector.New(source, persister, meta, rl,
		cfg.ActiveStations(), cfg.Collection.LatencyDelay, logger)
	return coll, rl, nil
}

func openStorage(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "fs":
		return storage.NewFSStore(cfg.Storage.FS.Path)
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.Storage.S3.Endpoint,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
			Bucket:    cfg.Storage.S3.Bucket,
			UseSSL:    cfg.Storage.S3.UseSSL,
		})
	}
	return nil, errors.New("unknown storage driver")
}

func setupLogging() {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if logFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
