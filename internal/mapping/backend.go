package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
)

// Backend projects normalized rows onto the target columns. The result has
// one row per input row, in input order.
type Backend interface {
	Map(ctx context.Context, header []string, rows []map[string]string) ([]map[string]string, error)
}

// ModelSource hands out remote model clients by backend name.
type ModelSource interface {
	Get(ctx context.Context, backend string) (llm.Completer, error)
}

// NewBackend selects a backend by name. Every name other than local is a
// remote model backend.
func NewBackend(ctx context.Context, name string, models ModelSource, target []string, chunkSize int, logger *slog.Logger) (Backend, error) {
	if name == common.BackendLocal {
		return Local{Target: target}, nil
	}
	if models == nil {
		return nil, fmt.Errorf("mapping backend %q needs a model source: %w", name, common.ErrInvalidInput)
	}
	model, err := models.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewModelBackend(model, target, chunkSize, logger), nil
}

// Local copies canonical columns straight onto the target. A target column
// that is not itself present is resolved through the canonical synonyms.
type Local struct {
	Target []string
}

func (l Local) Map(ctx context.Context, header []string, rows []map[string]string) ([]map[string]string, error) {
	present := map[string]bool{}
	for _, h := range header {
		present[h] = true
	}
	source := make(map[string]string, len(l.Target))
	for _, t := range l.Target {
		switch {
		case present[t]:
			source[t] = t
		default:
			if c, ok := constants.CanonicalColumn(t); ok && present[c] {
				source[t] = c
			}
		}
	}

	out := make([]map[string]string, len(rows))
	for i, row := range rows {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", common.ErrCanceled, err)
			}
		}
		m := make(map[string]string, len(l.Target))
		for _, t := range l.Target {
			if src, ok := source[t]; ok {
				m[t] = row[src]
			} else {
				m[t] = ""
			}
		}
		out[i] = m
	}
	return out, nil
}

// ModelBackend asks a remote model to do the projection, chunkSize rows per
// request.
type ModelBackend struct {
	model     llm.Completer
	target    []string
	chunkSize int
	logger    *slog.Logger
}

func NewModelBackend(model llm.Completer, target []string, chunkSize int, logger *slog.Logger) *ModelBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if chunkSize <= 0 {
		chunkSize = 50
	}
	return &ModelBackend{model: model, target: target, chunkSize: chunkSize, logger: logger}
}

func (b *ModelBackend) Map(ctx context.Context, header []string, rows []map[string]string) ([]map[string]string, error) {
	log := common.LoggerFromContext(ctx, b.logger)
	out := make([]map[string]string, 0, len(rows))
	for start := 0; start < len(rows); start += b.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrCanceled, err)
		}
		end := min(start+b.chunkSize, len(rows))
		t0 := time.Now()
		mapped, err := b.mapChunk(ctx, header, rows[start:end])
		if err != nil {
			log.Error("mapping.chunk.failed", "from", start, "to", end, "error", err)
			return nil, err
		}
		log.Debug("mapping.chunk.done", "from", start, "to", end, "elapsed_ms", time.Since(t0).Milliseconds())
		out = append(out, mapped...)
	}
	return out, nil
}

func (b *ModelBackend) mapChunk(ctx context.Context, header []string, rows []map[string]string) ([]map[string]string, error) {
	ordered := make([]entity.Row, len(rows))
	for i, r := range rows {
		row := make(entity.Row, 0, len(header))
		for _, h := range header {
			row = append(row, entity.Field{Name: h, Value: r[h]})
		}
		ordered[i] = row
	}
	payload, err := json.Marshal(ordered)
	if err != nil {
		return nil, common.WrapError(err, "encode mapping rows")
	}

	resp, err := b.model.Complete(ctx, llm.Request{
		Instructions: llm.MappingInstructions(b.target),
		Text:         string(payload),
		JSON:         true,
	})
	if err != nil {
		return nil, err
	}
	parsed, err := llm.Parse[[]entity.Row](resp.Text)
	if err != nil {
		if errors.Is(err, llm.ErrParseFailed) {
			return nil, fmt.Errorf("%w: mapping response: %w", common.ErrSchemaMismatch, err)
		}
		return nil, err
	}
	if len(parsed) != len(rows) {
		return nil, fmt.Errorf("%w: mapping returned %d rows for %d", common.ErrSchemaMismatch, len(parsed), len(rows))
	}
	out := make([]map[string]string, len(parsed))
	for i, r := range parsed {
		m := make(map[string]string, len(r))
		for _, f := range r {
			m[f.Name] = f.Value
		}
		out[i] = m
	}
	return out, nil
}
