package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/scan2csv/internal/async"
	"github.com/joseph-ayodele/scan2csv/internal/common"
)

var (
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string

	// exitCode is set by commands that report more than success or failure.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "scan2csv",
	Short: "Turn scanned PDF and image documents into normalized CSV tables",
	Long: `scan2csv runs each document through OCR, per-page structuring, CSV
extraction, normalization and column mapping. Every intermediate artifact is
written under the output root so a rerun with --skip-existing resumes where
the previous one stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "TOML config file (default "+common.DefaultConfigFile+" if present)")
	pf.StringVar(&envFile, "env-file", "", "dotenv file (default .env if present)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "json", "log format: json or text")
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		printError("Error: %v\n", err)
		if exitCode == 0 {
			return async.ExitFailed
		}
	}
	return exitCode
}

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

// newLogger builds the process logger on stderr, leaving stdout to command
// output.
func newLogger(level, format string) *slog.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
