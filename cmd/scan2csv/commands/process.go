package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/scan2csv/internal/async"
	"github.com/joseph-ayodele/scan2csv/internal/export"
	"github.com/joseph-ayodele/scan2csv/internal/ingest"
)

var (
	processFlags pipelineFlags
	inputDir     string
	noProgress   bool
	withSummary  bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process every document under a directory",
	Long: `Process discovers PDF and image documents under --input, runs each one
through the pipeline with a bounded number of workers and exits 0 when every
document completed, 2 when some failed and 1 when none completed.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	processFlags.register(processCmd)
	f := processCmd.Flags()
	f.StringVarP(&inputDir, "input", "i", "", "directory (or single file) to process (required)")
	f.BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	f.BoolVar(&withSummary, "summary", false, "write "+export.SummaryName+" under the output root")
	_ = processCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(processFlags.overrides(cmd), false)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, stats, err := ingest.Discover(inputDir, nil, true)
	if err != nil {
		return err
	}
	paths = outsideRoot(paths, cfg.OutRoot)
	logger.Info("ingest.discovered",
		"input", inputDir,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"duplicates", stats.Duplicates,
		"documents", len(paths))
	if len(paths) == 0 {
		logger.Warn("ingest.empty", "input", inputDir)
		return nil
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []async.Option{async.WithWorkers(cfg.Workers)}
	var bar *progress
	if !noProgress {
		bar = newProgress(len(paths))
		opts = append(opts, async.WithProgress(bar.Done))
	}
	res := async.NewRunner(a.processor, logger, opts...).Run(ctx, cfg.OutRoot, paths)
	bar.Finish()

	if withSummary {
		out := filepath.Join(cfg.OutRoot, export.SummaryName)
		if err := export.NewService(logger).WriteBatchSummary(context.WithoutCancel(ctx), out, res.Documents); err != nil {
			logger.Error("export.summary.failed", "path", out, "error", err)
		} else {
			logger.Info("export.summary.written", "path", out)
		}
	}

	printResult(res)
	exitCode = res.ExitCode()
	if res.Fatal != nil {
		return res.Fatal
	}
	return nil
}

// printResult writes one line per document and a total to stdout.
func printResult(res async.BatchResult) {
	for _, d := range res.Documents {
		line := fmt.Sprintf("%-10s %s", d.State(), d.Path)
		if d.Report != nil && d.Report.FinalCSV != "" {
			line += " -> " + d.Report.FinalCSV
		}
		if d.Err != nil {
			line += " (" + d.Err.Error() + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("%d completed, %d failed in %s\n", res.Completed, res.Failed, res.Elapsed.Round(time.Millisecond))
}
