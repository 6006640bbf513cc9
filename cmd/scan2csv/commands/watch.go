package commands

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/scan2csv/internal/ingest"
)

var (
	watchFlags    pipelineFlags
	watchDebounce time.Duration
	watchInitial  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch DIR...",
	Short: "Process documents as they appear under one or more directories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func init() {
	watchFlags.register(watchCmd)
	f := watchCmd.Flags()
	f.DurationVar(&watchDebounce, "debounce", 2*time.Second, "quiet period before a new file is processed")
	f.BoolVar(&watchInitial, "initial-scan", false, "also process the documents already present")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(watchFlags.overrides(cmd), false)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	files, errs, err := ingest.Watch(ctx, ingest.WatchConfig{
		Roots:       args,
		SkipHidden:  true,
		InitialScan: watchInitial,
		Debounce:    watchDebounce,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	logger.Info("watch.started", "roots", args, "workers", cfg.Workers)

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for files != nil || errs != nil {
		select {
		case path, ok := <-files:
			if !ok {
				files = nil
				continue
			}
			if len(outsideRoot([]string{path}, cfg.OutRoot)) == 0 {
				continue
			}
			g.Go(func() error {
				report, err := a.processor.ProcessFile(ctx, path)
				if err != nil {
					logger.Warn("watch.document.failed", "path", path, "error", err)
					return nil
				}
				logger.Info("watch.document.done", "path", path, "state", report.State, "final_csv", report.FinalCSV)
				return nil
			})
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watch.error", "error", err)
		}
	}
	_ = g.Wait()
	logger.Info("watch.stopped")
	return nil
}
