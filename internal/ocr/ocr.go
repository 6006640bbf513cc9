package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
)

// PageCache returns previously persisted page text. The adapter never calls
// the model for a page the cache already holds.
type PageCache interface {
	LoadText(page int) (string, bool)
}

// NoCache disables skip-existing.
type NoCache struct{}

func (NoCache) LoadText(int) (string, bool) { return "", false }

type Config struct {
	DPI int // rasterization DPI, default 200
}

// Adapter turns a document into per-page text through a vision model.
type Adapter struct {
	cfg    Config
	model  llm.Completer
	raster Rasterizer
	logger *slog.Logger
}

func NewAdapter(cfg Config, model llm.Completer, raster Rasterizer, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	return &Adapter{cfg: cfg, model: model, raster: raster, logger: logger}
}

// document is a source opened for page-wise rendering.
type document struct {
	pages  int
	render func(ctx context.Context, page int) (llm.Image, error)
}

func (a *Adapter) open(ctx context.Context, path string) (document, error) {
	ext := filepath.Ext(path)
	format, ok := constants.FormatForExt(ext)
	if !ok {
		return document{}, fmt.Errorf("unsupported extension %q: %w", ext, common.ErrInvalidInput)
	}

	if format == constants.FormatImage {
		// an image is a one-page document sent as-is
		return document{
			pages: 1,
			render: func(context.Context, int) (llm.Image, error) {
				img, err := llm.ReadImage(path)
				if err != nil {
					return llm.Image{}, common.LocalIO("read image", err)
				}
				return img, nil
			},
		}, nil
	}

	n, err := a.raster.PageCount(ctx, path)
	if err != nil {
		return document{}, err
	}
	if n <= 0 {
		return document{}, fmt.Errorf("%s has no pages: %w", filepath.Base(path), common.ErrInvalidInput)
	}
	return document{
		pages: n,
		render: func(ctx context.Context, page int) (llm.Image, error) {
			png, err := a.raster.Render(ctx, path, page, a.cfg.DPI)
			if err != nil {
				return llm.Image{}, err
			}
			return llm.Image{MIME: "image/png", Data: png}, nil
		},
	}, nil
}

// ExtractPages returns one entry per page, 1-indexed and in document order.
// A page that fails carries its error and empty text; the others go on. When
// every page fails the pages are returned with an ErrAllPagesFailed error.
func (a *Adapter) ExtractPages(ctx context.Context, path string, cache PageCache) ([]entity.PageText, error) {
	if cache == nil {
		cache = NoCache{}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, common.LocalIO("stat source", err)
	}
	doc, err := a.open(ctx, path)
	if err != nil {
		return nil, err
	}

	logger := common.LoggerFromContext(ctx, a.logger)
	start := time.Now()
	pages := make([]entity.PageText, 0, doc.pages)
	failed := 0
	var lastErr error

	for n := 1; n <= doc.pages; n++ {
		if txt, ok := cache.LoadText(n); ok {
			logger.Debug("ocr.page.cached", "page", n)
			pages = append(pages, entity.PageText{Page: n, Text: txt, Cached: true})
			continue
		}
		if err := ctx.Err(); err != nil {
			return pages, fmt.Errorf("ocr stopped at page %d: %w: %w", n, common.ErrCanceled, err)
		}

		txt, err := a.page(ctx, doc, n)
		if err != nil {
			failed++
			lastErr = err
			logger.Warn("ocr.page.failed", "page", n, "error", err, "kind", common.Classify(err))
			pages = append(pages, entity.PageText{Page: n, Err: err.Error(), ErrKind: string(common.Classify(err))})
			continue
		}
		pages = append(pages, entity.PageText{Page: n, Text: txt})
	}

	logger.Info("ocr.extract.done",
		"pages", doc.pages,
		"failed", failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if failed == doc.pages {
		return pages, fmt.Errorf("%w (%d pages): %w", common.ErrAllPagesFailed, doc.pages, lastErr)
	}
	return pages, nil
}

func (a *Adapter) page(ctx context.Context, doc document, n int) (string, error) {
	img, err := doc.render(ctx, n)
	if err != nil {
		return "", fmt.Errorf("render page %d: %w", n, err)
	}
	resp, err := a.model.Complete(ctx, llm.Request{
		Instructions: llm.OCRInstructions(),
		Text:         "Process this page according to the instructions.",
		Images:       []llm.Image{img},
	})
	if err != nil {
		return "", fmt.Errorf("ocr page %d: %w", n, err)
	}
	return resp.Text, nil
}

// ExtractNameColumns sends pages in order with the name-columns instruction
// and returns the first JSON list of strings a page yields, or nil.
func (a *Adapter) ExtractNameColumns(ctx context.Context, path string) ([]string, error) {
	doc, err := a.open(ctx, path)
	if err != nil {
		return nil, err
	}
	logger := common.LoggerFromContext(ctx, a.logger)

	for n := 1; n <= doc.pages; n++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrCanceled, err)
		}
		img, err := doc.render(ctx, n)
		if err != nil {
			logger.Warn("ocr.columns.render_failed", "page", n, "error", err)
			continue
		}
		resp, err := a.model.Complete(ctx, llm.Request{
			Instructions: llm.NameColumnsInstructions(),
			Images:       []llm.Image{img},
			JSON:         true,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			logger.Warn("ocr.columns.page_failed", "page", n, "error", err)
			continue
		}
		cols, err := llm.Parse[[]string](resp.Text)
		if err != nil {
			logger.Debug("ocr.columns.unparsed", "page", n, "error", err)
			continue
		}
		if cols == nil {
			cols = []string{}
		}
		logger.Info("ocr.columns.found", "page", n, "columns", len(cols))
		return cols, nil
	}
	return nil, nil
}
