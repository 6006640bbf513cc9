package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/artifact"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
)

// Result summarizes one mapping run.
type Result struct {
	Backend string   `json:"backend"`
	Columns []string `json:"columns"`
	Rows    int      `json:"rows"`
	Mapped  int      `json:"mapped"`
	Flagged int      `json:"flagged"`
}

// Mapper turns a normalized CSV into final.csv.
type Mapper struct {
	name    string
	backend Backend
	target  []string
	schema  *jsonschema.Schema
	logger  *slog.Logger
}

// NewMapper validates the target column list and compiles its schema. An
// empty target means the canonical columns.
func NewMapper(name string, backend Backend, target []string, logger *slog.Logger) (*Mapper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(target) == 0 {
		target = constants.CanonicalNames()
	}
	seen := map[string]bool{}
	for _, t := range target {
		switch {
		case t == "":
			return nil, fmt.Errorf("empty target column: %w", common.ErrInvalidInput)
		case t == constants.ColID || constants.IsMetaColumn(t):
			return nil, fmt.Errorf("target column %q is reserved: %w", t, common.ErrInvalidInput)
		case seen[t]:
			return nil, fmt.Errorf("duplicate target column %q: %w", t, common.ErrInvalidInput)
		}
		seen[t] = true
	}
	schema, err := llm.CompileSchema(llm.BuildTargetJSONSchema(target))
	if err != nil {
		return nil, common.WrapError(err, "compile target schema")
	}
	return &Mapper{name: name, backend: backend, target: target, schema: schema, logger: logger}, nil
}

// Target returns the target columns.
func (m *Mapper) Target() []string { return m.target }

// Run maps every data row of normalizedCSV and writes finalCSV. Flagged rows
// are never sent to the backend; they come out with empty target cells.
func (m *Mapper) Run(ctx context.Context, normalizedCSV, finalCSV string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", common.ErrCanceled, err)
	}
	log := common.LoggerFromContext(ctx, m.logger).With("backend", m.name)
	start := time.Now()

	in, err := artifact.ReadCSV(normalizedCSV)
	if err != nil {
		return Result{}, err
	}
	statusCol := in.Column(constants.ColRecordStatus)

	var dataHeader []string
	for _, h := range in.Header {
		if !constants.IsMetaColumn(h) {
			dataHeader = append(dataHeader, h)
		}
	}

	var data []map[string]string
	var dataIdx []int
	for i, row := range in.Rows {
		if statusCol >= 0 && row[statusCol] == constants.RecordError {
			continue
		}
		rec := make(map[string]string, len(dataHeader))
		for j, h := range in.Header {
			if !constants.IsMetaColumn(h) {
				rec[h] = row[j]
			}
		}
		data = append(data, rec)
		dataIdx = append(dataIdx, i)
	}

	var mapped []map[string]string
	if len(data) > 0 {
		mapped, err = m.backend.Map(ctx, dataHeader, data)
		if err != nil {
			log.Error("mapping.failed", "error", err)
			return Result{}, err
		}
	}
	if err := m.conform(mapped, len(data)); err != nil {
		log.Error("mapping.schema_mismatch", "error", err)
		return Result{}, err
	}

	out := m.finalTable(in, mapped, dataIdx)
	if err := artifact.WriteCSV(finalCSV, out); err != nil {
		return Result{}, err
	}
	res := Result{
		Backend: m.name,
		Columns: out.Header,
		Rows:    len(out.Rows),
		Mapped:  len(mapped),
		Flagged: len(out.Rows) - len(mapped),
	}
	log.Info("mapping.done", "rows", res.Rows, "mapped", res.Mapped, "flagged", res.Flagged,
		"elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

// conform checks the backend output against the target schema.
func (m *Mapper) conform(mapped []map[string]string, want int) error {
	if len(mapped) != want {
		return fmt.Errorf("%w: backend returned %d rows for %d", common.ErrSchemaMismatch, len(mapped), want)
	}
	if want == 0 {
		return nil
	}
	data, err := json.Marshal(mapped)
	if err != nil {
		return common.WrapError(err, "encode mapped rows")
	}
	if err := llm.ValidateJSON(m.schema, data); err != nil {
		return fmt.Errorf("%w: %w", common.ErrSchemaMismatch, err)
	}
	return nil
}

// finalTable lays out id, the target columns, then whichever meta columns
// the input carried.
func (m *Mapper) finalTable(in artifact.Table, mapped []map[string]string, dataIdx []int) artifact.Table {
	header := append([]string{constants.ColID}, m.target...)
	var metaSrc []int
	for _, meta := range constants.MetaColumns {
		if i := in.Column(meta); i >= 0 {
			header = append(header, meta)
			metaSrc = append(metaSrc, i)
		}
	}

	byRow := make(map[int]map[string]string, len(dataIdx))
	for k, i := range dataIdx {
		byRow[i] = mapped[k]
	}

	rows := make([][]string, 0, len(in.Rows))
	for i, src := range in.Rows {
		row := make([]string, 0, len(header))
		row = append(row, strconv.Itoa(i+1))
		values := byRow[i]
		for _, t := range m.target {
			row = append(row, values[t])
		}
		for _, j := range metaSrc {
			row = append(row, src[j])
		}
		rows = append(rows, row)
	}
	return artifact.Table{Header: header, Rows: rows}
}
