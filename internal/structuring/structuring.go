package structuring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
)

// RecordCache returns previously persisted page records.
type RecordCache interface {
	LoadRecord(page int) (entity.PageRecord, bool)
}

type noCache struct{}

func (noCache) LoadRecord(int) (entity.PageRecord, bool) { return entity.PageRecord{}, false }

// Result holds one record per input page plus the per-page errors.
type Result struct {
	Records []entity.PageRecord
	Errors  []entity.ErrorEntry
	// Requested counts pages sent to the model.
	Requested int
}

// Adapter turns page text into validated JSON rows.
type Adapter struct {
	model  llm.Completer
	schema *jsonschema.Schema
	logger *slog.Logger
}

func NewAdapter(model llm.Completer, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := llm.RecordSchema()
	if err != nil {
		return nil, err
	}
	return &Adapter{model: model, schema: schema, logger: logger}, nil
}

// Structure returns exactly one record per page, in page order. Pages whose
// OCR failed, remote failures and unusable model output become error
// placeholders. The error is non-nil only when ctx is canceled; remaining
// pages are then filled with placeholders.
func (a *Adapter) Structure(ctx context.Context, pages []entity.PageText, cache RecordCache) (Result, error) {
	if cache == nil {
		cache = noCache{}
	}
	logger := common.LoggerFromContext(ctx, a.logger)
	start := time.Now()
	res := Result{Records: make([]entity.PageRecord, 0, len(pages))}
	var cancelErr error

	for _, p := range pages {
		if rec, ok := cache.LoadRecord(p.Page); ok {
			logger.Debug("structure.page.cached", "page", p.Page)
			res.Records = append(res.Records, rec)
			continue
		}
		if p.Failed() {
			res.Records = append(res.Records, entity.ErrorPlaceholder(p.Page, "ocr failed: "+p.Err))
			continue
		}
		if cancelErr == nil {
			if err := ctx.Err(); err != nil {
				cancelErr = fmt.Errorf("structuring stopped at page %d: %w: %w", p.Page, common.ErrCanceled, err)
			}
		}
		if cancelErr != nil {
			res.Records = append(res.Records, entity.ErrorPlaceholder(p.Page, "canceled"))
			continue
		}
		if strings.TrimSpace(p.Text) == "" {
			res.Records = append(res.Records, entity.ValidRecord(p.Page, nil))
			continue
		}

		res.Requested++
		rows, err := a.page(ctx, p)
		if err != nil {
			logger.Warn("structure.page.failed", "page", p.Page, "error", err, "kind", common.Classify(err))
			res.Records = append(res.Records, entity.ErrorPlaceholder(p.Page, err.Error()))
			res.Errors = append(res.Errors, entity.ErrorEntry{
				Stage:   constants.StageStructure,
				Page:    p.Page,
				Kind:    string(common.Classify(err)),
				Message: err.Error(),
				At:      time.Now().UTC(),
			})
			continue
		}
		res.Records = append(res.Records, entity.ValidRecord(p.Page, rows))
	}

	logger.Info("structure.done",
		"pages", len(pages),
		"requested", res.Requested,
		"errors", len(res.Errors),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, cancelErr
}

func (a *Adapter) page(ctx context.Context, p entity.PageText) ([]entity.Row, error) {
	resp, err := a.model.Complete(ctx, llm.Request{
		Instructions: llm.StructuringInstructions(),
		Text:         p.Text,
		JSON:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("structure page %d: %w", p.Page, err)
	}
	return a.parse(resp.Text)
}

// parse validates model output and decodes it into deduplicated rows.
func (a *Adapter) parse(raw string) ([]entity.Row, error) {
	cleaned := []byte(llm.CleanJSON(raw))
	if !json.Valid(cleaned) {
		return nil, common.Permanent(fmt.Errorf("%w: not valid json", llm.ErrParseFailed))
	}
	if err := llm.ValidateJSON(a.schema, cleaned); err != nil {
		return nil, common.Permanent(err)
	}
	var rows []entity.Row
	if err := json.Unmarshal(cleaned, &rows); err != nil {
		return nil, common.Permanent(fmt.Errorf("decode rows: %w", err))
	}
	return dedupe(rows), nil
}

// dedupe drops blank rows and exact repeats, keeping first occurrences.
func dedupe(rows []entity.Row) []entity.Row {
	seen := make(map[string]struct{}, len(rows))
	out := make([]entity.Row, 0, len(rows))
	for _, r := range rows {
		if r.Empty() {
			continue
		}
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
