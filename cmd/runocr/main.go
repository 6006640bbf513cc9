package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/llm/provider"
	"github.com/joseph-ayodele/scan2csv/internal/ocr"
)

// runocr runs only the OCR stage on one document and prints each page as a
// JSON line. Nothing is written to disk.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		backend = flag.String("backend", "", "OCR backend (default from config)")
		dpi     = flag.Int("dpi", 0, "rasterization DPI")
		timeout = flag.Duration("timeout", 10*time.Minute, "overall timeout")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [-backend B] [-dpi N] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	// Only the OCR backend needs credentials here.
	local := common.BackendLocal
	o := common.Overrides{MappingBackend: &local}
	if *backend != "" {
		o.OCRBackend = backend
		if *backend != common.BackendTesseract {
			o.StructBackend = backend
		}
	}
	if *dpi > 0 {
		o.DPI = dpi
	}
	cfg, err := common.LoadConfig(common.LoadOptions{Overrides: o, SkipMkdir: true})
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	models := provider.NewRegistry(cfg, logger)
	defer func() {
		if cerr := models.Close(); cerr != nil {
			logger.Error("close models", "error", cerr)
		}
	}()

	runner := ocr.NewExecRunner(logger)
	adapter, err := newAdapter(ctx, cfg, models, runner, logger)
	if err != nil {
		logger.Error("build ocr", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	pages, err := adapter.ExtractPages(ctx, path, ocr.NoCache{})
	dur := time.Since(start)

	enc := json.NewEncoder(os.Stdout)
	for _, p := range pages {
		if eerr := enc.Encode(p); eerr != nil {
			logger.Error("write page", "page", p.Page, "error", eerr)
			os.Exit(1)
		}
	}
	if err != nil {
		logger.Error("ocr failed", "path", path, "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}
	logger.Info("ocr OK", "path", path, "backend", cfg.OCRBackend, "pages", len(pages), "duration_ms", dur.Milliseconds())
}

func newAdapter(ctx context.Context, cfg *common.Config, models *provider.Registry, runner ocr.Runner, logger *slog.Logger) (*ocr.Adapter, error) {
	raster := ocr.NewPoppler(cfg.Tools.Pdftoppm, runner)
	if cfg.OCRBackend == common.BackendTesseract {
		model := ocr.NewTesseract(cfg.Tools.Tesseract, cfg.Tools.TesseractLang, cfg.DPI, runner)
		return ocr.NewAdapter(ocr.Config{DPI: cfg.DPI}, model, raster, logger), nil
	}
	model, err := models.Get(ctx, cfg.OCRBackend)
	if err != nil {
		return nil, err
	}
	return ocr.NewAdapter(ocr.Config{DPI: cfg.DPI}, model, raster, logger), nil
}
