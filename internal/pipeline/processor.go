package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/artifact"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
	"github.com/joseph-ayodele/scan2csv/internal/mapping"
	"github.com/joseph-ayodele/scan2csv/internal/normalize"
	"github.com/joseph-ayodele/scan2csv/internal/ocr"
	"github.com/joseph-ayodele/scan2csv/internal/storage"
	"github.com/joseph-ayodele/scan2csv/internal/structuring"
)

type PageExtractor interface {
	ExtractPages(ctx context.Context, path string, cache ocr.PageCache) ([]entity.PageText, error)
}

type Structurer interface {
	Structure(ctx context.Context, pages []entity.PageText, cache structuring.RecordCache) (structuring.Result, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, in, intermediateOut, normalizedOut string) (normalize.Result, error)
}

type Mapper interface {
	Run(ctx context.Context, normalizedCSV, finalCSV string) (mapping.Result, error)
}

// Ledger records document runs and their transitions.
type Ledger interface {
	StartRun(ctx context.Context, r *entity.ProcessReport) (int64, error)
	RecordTransition(ctx context.Context, docRunID int64, from constants.State, step entity.StepResult) error
	FinishRun(ctx context.Context, docRunID int64, r *entity.ProcessReport) error
}

// Publisher ships a completed document's artifacts somewhere else.
type Publisher interface {
	Publish(ctx context.Context, docBase string, files []string) error
}

// Stages are the per-document steps, injected so the machine can run on
// fakes.
type Stages struct {
	OCR       PageExtractor
	Structure Structurer
	Normalize Normalizer
	Map       Mapper
}

type Options struct {
	OutRoot      string
	SkipExisting bool
	RunID        string
}

type Option func(*Processor)

func WithLedger(l Ledger) Option {
	return func(p *Processor) { p.ledger = l }
}

func WithPublisher(pub Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// Processor drives one document through OCR, structuring, extraction,
// normalization and mapping.
type Processor struct {
	stages    Stages
	opts      Options
	ledger    Ledger
	publisher Publisher
	logger    *slog.Logger
}

func NewProcessor(stages Stages, opts Options, logger *slog.Logger, options ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	p := &Processor{stages: stages, opts: opts, logger: logger}
	for _, o := range options {
		o(p)
	}
	return p
}

// RunID identifies the batch this processor belongs to.
func (p *Processor) RunID() string { return p.opts.RunID }

// work carries stage outputs forward within one document.
type work struct {
	paths   storage.ProcessPaths
	store   *artifact.Store
	report  *entity.ProcessReport
	pages   []entity.PageText
	records []entity.PageRecord
}

// ProcessFile runs the chain for one document. The report is returned even
// on failure; the error is the one that moved the document to failed.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*entity.ProcessReport, error) {
	base := storage.BaseName(path)
	log := p.logger.With("run_id", p.opts.RunID, "document", base)

	paths, err := storage.Prepare(p.opts.OutRoot, path, p.opts.SkipExisting)
	if err != nil {
		log.Error("pipeline.prepare.failed", "error", err)
		report := entity.NewProcessReport(p.opts.RunID, base, path, "")
		report.State = constants.StateFailed
		report.AddErrors(entity.ErrorEntry{
			Stage:   "prepare",
			Kind:    string(common.Classify(err)),
			Message: err.Error(),
			At:      time.Now().UTC(),
		})
		report.Finish()
		return report, err
	}

	ctx = common.WithDocument(ctx, base)
	ctx = common.WithLogger(ctx, log)
	w := &work{
		paths:  paths,
		store:  artifact.NewStore(paths, p.opts.SkipExisting, log),
		report: entity.NewProcessReport(p.opts.RunID, base, path, paths.ProcessDir),
	}

	var docRunID int64
	ledger := p.ledger
	if ledger != nil {
		// the ledger must outlive cancellation so the failed state is recorded
		id, err := ledger.StartRun(context.WithoutCancel(ctx), w.report)
		if err != nil {
			log.Warn("pipeline.ledger.unavailable", "error", err)
			w.report.Warn("ledger: " + err.Error())
			ledger = nil
		}
		docRunID = id
	}
	p.persist(log, w)

	var failure error
	for !w.report.State.IsTerminal() {
		stage, _ := w.report.State.Stage()
		o := p.runStage(ctx, stage, w)
		if o.Err != nil && failure == nil {
			failure = o.Err
		}

		from := w.report.State
		_, delta := Transition(from, o)
		delta.Apply(w.report)
		if delta.To.IsTerminal() {
			w.report.Finish()
		}
		if delta.Step != nil {
			if o.Err != nil {
				log.Error("pipeline.stage.failed", "stage", stage, "kind", common.Classify(o.Err), "error", o.Err)
			} else {
				log.Info("pipeline.stage.ok", "stage", stage, "state", delta.To, "elapsed_ms", o.Duration.Milliseconds())
			}
			if ledger != nil {
				if err := ledger.RecordTransition(context.WithoutCancel(ctx), docRunID, from, *delta.Step); err != nil {
					log.Warn("pipeline.ledger.transition_failed", "error", err)
				}
			}
		}
		p.persist(log, w)
	}

	if ledger != nil {
		if err := ledger.FinishRun(context.WithoutCancel(ctx), docRunID, w.report); err != nil {
			log.Warn("pipeline.ledger.finish_failed", "error", err)
		}
	}
	log.Info("pipeline.done",
		"state", w.report.State,
		"pages", w.report.Pages,
		"rows", w.report.Rows,
		"errors", len(w.report.Errors),
		"elapsed_ms", w.report.Duration().Milliseconds(),
	)
	if w.report.State == constants.StateFailed {
		if failure == nil {
			failure = errors.New(w.report.LastError())
		}
		return w.report, failure
	}
	return w.report, nil
}

// persist writes status.json, and errors.json when there is anything to
// report. A clean report removes the errors.json of an earlier run.
func (p *Processor) persist(log *slog.Logger, w *work) {
	if err := w.paths.WriteStatus(w.report); err != nil {
		log.Error("pipeline.status.write_failed", "error", err)
	}
	if len(w.report.Errors) > 0 || w.report.State == constants.StateFailed {
		if err := w.paths.WriteErrors(w.report); err != nil {
			log.Error("pipeline.errors.write_failed", "error", err)
		}
		return
	}
	if err := w.paths.RemoveErrors(); err != nil {
		log.Error("pipeline.errors.remove_failed", "error", err)
	}
}

func (p *Processor) runStage(ctx context.Context, stage string, w *work) StageOutcome {
	start := time.Now()
	var o StageOutcome
	if err := ctx.Err(); err != nil {
		o.Err = fmt.Errorf("%w before %s: %w", common.ErrCanceled, stage, err)
	} else {
		switch stage {
		case constants.StageOCR:
			o = p.ocr(ctx, w)
		case constants.StageStructure:
			o = p.structure(ctx, w)
		case constants.StageExtract:
			o = p.extract(w)
		case constants.StageNormalize:
			o = p.normalize(ctx, w)
		case constants.StageMap:
			o = p.mapRows(ctx, w)
		case constants.StageFinalize:
			o = p.finalize(ctx, w)
		default:
			o.Err = fmt.Errorf("unknown stage %q: %w", stage, common.ErrInvalidInput)
		}
	}
	o.Stage = stage
	o.Duration = time.Since(start)
	o.At = time.Now().UTC()
	return o
}

func (p *Processor) ocr(ctx context.Context, w *work) StageOutcome {
	var o StageOutcome
	pages, err := p.stages.OCR.ExtractPages(ctx, w.paths.Original, w.store)
	w.pages = pages
	w.report.Pages = len(pages)
	for _, pg := range pages {
		if pg.Failed() {
			o.Errors = append(o.Errors, entity.ErrorEntry{
				Stage:   constants.StageOCR,
				Page:    pg.Page,
				Kind:    pg.ErrKind,
				Message: pg.Err,
				At:      time.Now().UTC(),
			})
		}
	}
	if len(pages) > 0 {
		if _, werr := w.store.WritePageTexts(pages); werr != nil && err == nil {
			err = werr
		}
		merged, werr := w.store.WriteMergedText(pages)
		if werr != nil && err == nil {
			err = werr
		}
		o.Outputs = map[string]string{"all_pages_text": merged}
	}
	o.Err = err
	return o
}

func (p *Processor) structure(ctx context.Context, w *work) StageOutcome {
	var o StageOutcome
	res, err := p.stages.Structure.Structure(ctx, w.pages, w.store)
	w.records = res.Records
	o.Errors = res.Errors
	if err != nil {
		o.Err = err
		return o
	}
	if len(res.Records) != len(w.pages) {
		o.Err = fmt.Errorf("structuring returned %d records for %d pages: %w", len(res.Records), len(w.pages), common.ErrSchemaMismatch)
		return o
	}
	if _, err := w.store.WritePageRecords(res.Records); err != nil {
		o.Err = err
		return o
	}
	merged, err := w.store.WriteMerged(res.Records)
	if err != nil {
		o.Err = err
		return o
	}
	o.Outputs = map[string]string{"merged_json": merged}
	return o
}

func (p *Processor) extract(w *work) StageOutcome {
	var o StageOutcome
	path := w.paths.ExtractedCSV()
	n, err := artifact.WriteExtractedCSV(w.records, path)
	if err != nil {
		o.Err = err
		return o
	}
	w.report.Rows = n
	o.Outputs = map[string]string{"extracted_csv": path}
	return o
}

func (p *Processor) normalize(ctx context.Context, w *work) StageOutcome {
	var o StageOutcome
	inter, norm := w.paths.IntermediateCSV(), w.paths.NormalizedCSV()
	res, err := p.stages.Normalize.Normalize(ctx, w.paths.ExtractedCSV(), inter, norm)
	if err != nil {
		o.Err = err
		return o
	}
	for _, msg := range res.Warnings {
		o.Warnings = append(o.Warnings, "normalize: "+msg)
	}
	if extra := res.WarningCount - len(res.Warnings); extra > 0 {
		o.Warnings = append(o.Warnings, fmt.Sprintf("normalize: %d more unparseable values", extra))
	}
	o.Outputs = map[string]string{"intermediate_csv": inter, "normalized_csv": norm}
	return o
}

func (p *Processor) mapRows(ctx context.Context, w *work) StageOutcome {
	var o StageOutcome
	final := w.paths.FinalCSV()
	res, err := p.stages.Map.Run(ctx, w.paths.NormalizedCSV(), final)
	if err != nil {
		o.Err = err
		return o
	}
	w.report.FinalCSV = final
	w.report.Rows = res.Rows
	o.Outputs = map[string]string{"final_csv": final}
	return o
}

// finalize publishes the document when a publisher is set. Publishing never
// fails the document.
func (p *Processor) finalize(ctx context.Context, w *work) StageOutcome {
	var o StageOutcome
	if p.publisher == nil {
		return o
	}
	files := []string{
		w.paths.FinalCSV(),
		w.paths.NormalizedCSV(),
		w.paths.ExtractedCSV(),
		w.paths.MergedJSON(),
	}
	if err := p.publisher.Publish(ctx, filepath.Base(w.paths.ProcessDir), files); err != nil {
		common.LoggerFromContext(ctx, p.logger).Warn("pipeline.publish.failed", "error", err)
		o.Warnings = append(o.Warnings, "publish: "+err.Error())
	}
	return o
}
