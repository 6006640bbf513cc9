package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/ledger"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
	"github.com/joseph-ayodele/scan2csv/internal/llm/provider"
	"github.com/joseph-ayodele/scan2csv/internal/mapping"
	"github.com/joseph-ayodele/scan2csv/internal/normalize"
	"github.com/joseph-ayodele/scan2csv/internal/ocr"
	"github.com/joseph-ayodele/scan2csv/internal/pipeline"
	"github.com/joseph-ayodele/scan2csv/internal/publish"
	"github.com/joseph-ayodele/scan2csv/internal/structuring"
)

// pipelineFlags are shared by the commands that process documents.
type pipelineFlags struct {
	outRoot        string
	dpi            int
	ocrBackend     string
	structBackend  string
	mappingBackend string
	skipExisting   bool
	workers        int
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.outRoot, "out-root", "", "output root for per-document directories (default uploads)")
	fs.IntVar(&f.dpi, "dpi", 0, "rasterization DPI (default 200)")
	fs.StringVar(&f.ocrBackend, "ocr-backend", "", "OCR backend: azure, openai, hyperbolic, vertex or tesseract")
	fs.StringVar(&f.structBackend, "struct-backend", "", "structuring backend (defaults to the OCR backend)")
	fs.StringVar(&f.mappingBackend, "mapping-backend", "", "mapping backend: local or a remote backend")
	fs.BoolVar(&f.skipExisting, "skip-existing", false, "reuse artifacts from a previous run")
	fs.IntVar(&f.workers, "workers", 0, "documents processed in parallel (default 2)")
}

// overrides turns the flags the user actually set into config overrides.
func (f *pipelineFlags) overrides(cmd *cobra.Command) common.Overrides {
	var o common.Overrides
	fs := cmd.Flags()
	if fs.Changed("out-root") {
		o.OutRoot = &f.outRoot
	}
	if fs.Changed("dpi") {
		o.DPI = &f.dpi
	}
	if fs.Changed("ocr-backend") {
		o.OCRBackend = &f.ocrBackend
	}
	if fs.Changed("struct-backend") {
		o.StructBackend = &f.structBackend
	}
	if fs.Changed("mapping-backend") {
		o.MappingBackend = &f.mappingBackend
	}
	if fs.Changed("skip-existing") {
		o.SkipExisting = &f.skipExisting
	}
	if fs.Changed("workers") {
		o.Workers = &f.workers
	}
	if fs.Changed("log-level") {
		o.LogLevel = &logLevel
	}
	return o
}

func loadConfig(o common.Overrides, skipMkdir bool) (*common.Config, *slog.Logger, error) {
	cfg, err := common.LoadConfig(common.LoadOptions{
		ConfigFile: cfgFile,
		EnvFile:    envFile,
		Overrides:  o,
		SkipMkdir:  skipMkdir,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(cfg.LogLevel, logFormat), nil
}

// app holds everything a processing command wires from the config.
type app struct {
	cfg       *common.Config
	logger    *slog.Logger
	models    *provider.Registry
	ledger    *ledger.Ledger
	ocr       *ocr.Adapter
	processor *pipeline.Processor
}

// ocrModel returns the completer behind the OCR stage. Tesseract runs
// locally and never goes through the registry.
func ocrModel(ctx context.Context, cfg *common.Config, models *provider.Registry, runner ocr.Runner) (llm.Completer, error) {
	if cfg.OCRBackend == common.BackendTesseract {
		return ocr.NewTesseract(cfg.Tools.Tesseract, cfg.Tools.TesseractLang, cfg.DPI, runner), nil
	}
	return models.Get(ctx, cfg.OCRBackend)
}

func newOCR(ctx context.Context, cfg *common.Config, models *provider.Registry, logger *slog.Logger) (*ocr.Adapter, error) {
	runner := ocr.NewExecRunner(logger)
	model, err := ocrModel(ctx, cfg, models, runner)
	if err != nil {
		return nil, fmt.Errorf("ocr backend %s: %w", cfg.OCRBackend, err)
	}
	return ocr.NewAdapter(ocr.Config{DPI: cfg.DPI}, model, ocr.NewPoppler(cfg.Tools.Pdftoppm, runner), logger), nil
}

func buildApp(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, models: provider.NewRegistry(cfg, logger)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	ocrAdapter, err := newOCR(ctx, cfg, a.models, logger)
	if err != nil {
		return nil, err
	}
	a.ocr = ocrAdapter

	structModel, err := a.models.Get(ctx, cfg.StructBackend)
	if err != nil {
		return nil, fmt.Errorf("struct backend %s: %w", cfg.StructBackend, err)
	}
	structurer, err := structuring.NewAdapter(structModel, logger)
	if err != nil {
		return nil, err
	}

	target := cfg.Mapping.TargetColumns
	if len(target) == 0 {
		target = constants.CanonicalNames()
	}
	backend, err := mapping.NewBackend(ctx, cfg.MappingBackend, a.models, target, cfg.Mapping.ChunkSize, logger)
	if err != nil {
		return nil, fmt.Errorf("mapping backend %s: %w", cfg.MappingBackend, err)
	}
	mapper, err := mapping.NewMapper(cfg.MappingBackend, backend, target, logger)
	if err != nil {
		return nil, err
	}

	var opts []pipeline.Option
	lg, err := ledger.Open(ctx, cfg.Ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if lg != nil {
		a.ledger = lg
		opts = append(opts, pipeline.WithLedger(lg))
	}
	if cfg.Publish.Enabled() {
		pub, err := publish.New(cfg.Publish, logger)
		if err != nil {
			return nil, fmt.Errorf("publisher: %w", err)
		}
		opts = append(opts, pipeline.WithPublisher(pub))
	}

	a.processor = pipeline.NewProcessor(pipeline.Stages{
		OCR:       ocrAdapter,
		Structure: structurer,
		Normalize: normalize.NewService(normalize.Options{Unknown: cfg.Normalize.Unknown}, logger),
		Map:       mapper,
	}, pipeline.Options{
		OutRoot:      cfg.OutRoot,
		SkipExisting: cfg.SkipExisting,
	}, logger, opts...)

	logger.Info("scan2csv.configured", "config", cfg.String(), "run_id", a.processor.RunID())
	ok = true
	return a, nil
}

func (a *app) Close() {
	if a.ledger != nil {
		a.ledger.Close()
	}
	if err := a.models.Close(); err != nil {
		a.logger.Warn("scan2csv.close", "error", err)
	}
}

// outsideRoot drops paths that live under the output root, so a root nested
// in the input never feeds its own artifacts back in.
func outsideRoot(paths []string, outRoot string) []string {
	out := paths[:0]
	prefix := filepath.Clean(outRoot) + string(filepath.Separator)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err == nil && strings.HasPrefix(abs, prefix) {
			continue
		}
		out = append(out, p)
	}
	return out
}
