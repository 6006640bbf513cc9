package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/artifact"
	"github.com/joseph-ayodele/scan2csv/internal/common"
)

// Unknown column policies.
const (
	UnknownKeep = "keep"
	UnknownDrop = "drop"
)

// maxWarnings caps the warning details kept in a Result. WarningCount is
// always exact.
const maxWarnings = 50

type Options struct {
	Unknown string
}

// Result describes one normalization.
type Result struct {
	Header       []string          `json:"header"`
	Renamed      map[string]string `json:"renamed"`
	Dropped      []string          `json:"dropped,omitempty"`
	Rows         int               `json:"rows"`
	WarningCount int               `json:"warning_count"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// column is one output column and where its values come from.
type column struct {
	name   string
	source int
	kind   constants.ColumnKind
}

// Plan maps an input header onto the output header. Canonical columns come
// first in schema order, then unrecognized columns in input order (unless
// dropped), then meta columns. The same header always yields the same plan.
type Plan struct {
	columns   []column
	renamed   map[string]string
	dropped   []string
	statusCol int
	matched   int
}

// Header returns the output header.
func (p Plan) Header() []string {
	out := make([]string, len(p.columns))
	for i, c := range p.columns {
		out[i] = c.name
	}
	return out
}

// Recognized is the number of input columns mapped to canonical names.
func (p Plan) Recognized() int { return p.matched }

func PlanHeader(header []string, opts Options) Plan {
	p := Plan{renamed: map[string]string{}, statusCol: -1}
	used := map[string]bool{}
	for _, m := range constants.MetaColumns {
		used[m] = true
	}
	canonical := map[string]int{}
	var unknown []column
	meta := map[string]int{}

	for i, h := range header {
		if constants.IsMetaColumn(h) {
			if _, dup := meta[h]; !dup {
				meta[h] = i
				if h == constants.ColRecordStatus {
					p.statusCol = i
				}
				continue
			}
		}
		if name, ok := constants.CanonicalColumn(h); ok {
			if _, taken := canonical[name]; !taken {
				canonical[name] = i
				used[name] = true
				p.renamed[h] = name
				p.matched++
				continue
			}
			if opts.Unknown == UnknownDrop {
				p.dropped = append(p.dropped, h)
				continue
			}
			// second header for the same canonical column
			unknown = append(unknown, column{name: name, source: i, kind: constants.KindText})
			continue
		}
		if opts.Unknown == UnknownDrop {
			p.dropped = append(p.dropped, h)
			continue
		}
		name := h
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		unknown = append(unknown, column{name: name, source: i, kind: constants.KindText})
	}

	for _, c := range constants.CanonicalColumns {
		if src, ok := canonical[c.Name]; ok {
			p.columns = append(p.columns, column{name: c.Name, source: src, kind: c.Kind})
		}
	}
	for _, u := range unknown {
		name := uniqueName(u.name, used)
		if name != header[u.source] {
			p.renamed[header[u.source]] = name
		}
		used[name] = true
		u.name = name
		p.columns = append(p.columns, u)
	}
	for _, m := range constants.MetaColumns {
		if src, ok := meta[m]; ok {
			p.columns = append(p.columns, column{name: m, source: src, kind: constants.KindText})
		}
	}
	return p
}

func uniqueName(name string, used map[string]bool) string {
	if !used[name] {
		return name
	}
	for n := 2; ; n++ {
		candidate := name + "_" + strconv.Itoa(n)
		if !used[candidate] {
			return candidate
		}
	}
}

// flagged reports whether the row is an error placeholder from extraction.
func (p Plan) flagged(row []string) bool {
	return p.statusCol >= 0 && p.statusCol < len(row) && row[p.statusCol] == constants.RecordError
}

// Apply renames and reorders every row. With coerce set, values are converted
// to their column kind's canonical format; flagged rows are copied verbatim.
func (p Plan) Apply(in artifact.Table, coerce bool) (artifact.Table, []string, int) {
	out := artifact.Table{Header: p.Header(), Rows: make([][]string, 0, len(in.Rows))}
	var warnings []string
	count := 0
	for r, row := range in.Rows {
		dst := make([]string, len(p.columns))
		skip := !coerce || p.flagged(row)
		for i, c := range p.columns {
			var v string
			if c.source < len(row) {
				v = row[c.source]
			}
			if !skip {
				cv, ok := Coerce(c.kind, v)
				if !ok {
					count++
					if len(warnings) < maxWarnings {
						warnings = append(warnings, fmt.Sprintf("row %d column %s: unparseable %s %q", r+1, c.name, c.kind, v))
					}
				}
				v = cv
			}
			dst[i] = v
		}
		out.Rows = append(out.Rows, dst)
	}
	return out, warnings, count
}

func (p Plan) dataRows(t artifact.Table) int {
	n := 0
	for _, row := range t.Rows {
		if !p.flagged(row) {
			n++
		}
	}
	return n
}

// Normalize reads the extracted CSV at in and writes the intermediate
// (renamed, raw values) and normalized (renamed, coerced) CSVs.
func Normalize(in, intermediateOut, normalizedOut string, opts Options) (Result, error) {
	src, err := artifact.ReadCSV(in)
	if err != nil {
		return Result{}, err
	}
	plan := PlanHeader(src.Header, opts)
	if plan.Recognized() == 0 && plan.dataRows(src) > 0 {
		return Result{}, fmt.Errorf("%w: no known column in header %q", common.ErrSchemaMismatch, src.Header)
	}

	raw, _, _ := plan.Apply(src, false)
	if err := artifact.WriteCSV(intermediateOut, raw); err != nil {
		return Result{}, err
	}
	norm, warnings, count := plan.Apply(src, true)
	if err := artifact.WriteCSV(normalizedOut, norm); err != nil {
		return Result{}, err
	}
	return Result{
		Header:       norm.Header,
		Renamed:      plan.renamed,
		Dropped:      plan.dropped,
		Rows:         len(norm.Rows),
		WarningCount: count,
		Warnings:     warnings,
	}, nil
}

// Service is the normalize stage.
type Service struct {
	opts   Options
	logger *slog.Logger
}

func NewService(opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Unknown == "" {
		opts.Unknown = UnknownKeep
	}
	return &Service{opts: opts, logger: logger}
}

func (s *Service) Normalize(ctx context.Context, in, intermediateOut, normalizedOut string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", common.ErrCanceled, err)
	}
	log := common.LoggerFromContext(ctx, s.logger)
	res, err := Normalize(in, intermediateOut, normalizedOut, s.opts)
	if err != nil {
		log.Error("normalize.failed", "input", in, "error", err)
		return res, err
	}
	log.Info("normalize.done", "columns", len(res.Header), "rows", res.Rows, "warnings", res.WarningCount)
	return res, nil
}
