package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

// Exit codes of a batch.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitPartial = 2
)

// BatchResult holds one DocResult per input path, in input order.
type BatchResult struct {
	Documents []DocResult
	Completed int
	Failed    int
	// Fatal is set when the batch itself aborted, e.g. the output root
	// became unwritable.
	Fatal   error
	Elapsed time.Duration
}

// ExitCode is 0 when every document completed, 2 when some failed and 1
// when all failed or the batch aborted.
func (b BatchResult) ExitCode() int {
	switch {
	case b.Fatal != nil:
		return ExitFailed
	case b.Failed == 0:
		return ExitOK
	case b.Completed == 0:
		return ExitFailed
	default:
		return ExitPartial
	}
}

// errOutRoot aborts the batch.
var errOutRoot = errors.New("output root is not writable")

type Runner struct {
	proc    DocumentProcessor
	logger  *slog.Logger
	workers int
	timeout time.Duration
	onDone  func(DocResult)
}

type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithProcessTimeout bounds the time spent on one document. Zero means no
// limit.
func WithProcessTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithProgress is called once per finished document, from the worker
// goroutine.
func WithProgress(fn func(DocResult)) Option {
	return func(r *Runner) { r.onDone = fn }
}

func NewRunner(proc DocumentProcessor, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{proc: proc, logger: logger, workers: 1}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run processes every path with bounded parallelism. A failed document never
// stops the others; only an unwritable outRoot aborts the batch.
func (r *Runner) Run(ctx context.Context, outRoot string, paths []string) BatchResult {
	start := time.Now()
	res := BatchResult{Documents: make([]DocResult, len(paths))}
	if err := checkWritable(outRoot); err != nil {
		r.logger.Error("batch.out_root.unwritable", "out_root", outRoot, "error", err)
		res.Fatal = err
		res.Elapsed = time.Since(start)
		return res
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	var mu sync.Mutex

	for i, path := range paths {
		job := Job{Index: i, Path: path, SubmittedAt: time.Now()}
		if gctx.Err() != nil {
			res.Documents[i] = DocResult{Path: path, Err: fmt.Errorf("%w: not started: %w", common.ErrCanceled, context.Cause(gctx))}
			continue
		}
		g.Go(func() error {
			doc := r.process(gctx, job)
			mu.Lock()
			res.Documents[job.Index] = doc
			mu.Unlock()
			if r.onDone != nil {
				r.onDone(doc)
			}
			if doc.Err != nil && common.Classify(doc.Err) == common.KindLocalIO {
				if err := checkWritable(outRoot); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		res.Fatal = err
		r.logger.Error("batch.aborted", "error", err)
	}

	for _, d := range res.Documents {
		if d.Completed() {
			res.Completed++
		} else {
			res.Failed++
		}
	}
	res.Elapsed = time.Since(start)
	r.logger.Info("batch.done",
		"documents", len(paths),
		"completed", res.Completed,
		"failed", res.Failed,
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	return res
}

func (r *Runner) process(ctx context.Context, job Job) DocResult {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	r.logger.Debug("batch.document.start", "path", job.Path, "queued_ms", time.Since(job.SubmittedAt).Milliseconds())
	report, err := r.proc.ProcessFile(ctx, job.Path)
	if err != nil {
		r.logger.Error("batch.document.failed", "path", job.Path, "kind", common.Classify(err), "error", err)
	} else {
		r.logger.Info("batch.document.ok", "path", job.Path)
	}
	return DocResult{Path: job.Path, Report: report, Err: err}
}

// checkWritable creates outRoot if needed and probes it with a temp file.
func checkWritable(outRoot string) error {
	if err := os.MkdirAll(outRoot, 0o755); err != nil {
		return fmt.Errorf("%w: %w", errOutRoot, common.LocalIO("create out root", err))
	}
	f, err := os.CreateTemp(outRoot, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %w", errOutRoot, common.LocalIO("probe out root", err))
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
