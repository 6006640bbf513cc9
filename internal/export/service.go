package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/artifact"
	"github.com/joseph-ayodele/scan2csv/internal/async"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/storage"
)

const (
	SheetDocuments = "Documents"
	SheetRows      = "Rows"
	SummaryName    = "batch_summary.xlsx"
)

// Service builds the batch summary workbook.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// SummaryXLSX returns a workbook with one row per document on the Documents
// sheet and every completed document's final.csv rows on the Rows sheet.
func (s *Service) SummaryXLSX(ctx context.Context, docs []async.DocResult) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetDocuments); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetRows); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	headers := []string{"Document", "State", "Pages", "Rows", "Errors", "Final CSV", "Duration (s)", "Last Error"}
	writeRow(f, SheetDocuments, 1, toAny(headers))
	for i, d := range docs {
		row := []any{d.Path, string(d.State()), 0, 0, 0, "", 0.0, ""}
		if d.Err != nil {
			row[7] = truncate(d.Err.Error(), 200)
		}
		if r := d.Report; r != nil {
			row[0] = r.Document
			row[2], row[3], row[4], row[5] = r.Pages, r.Rows, len(r.Errors), r.FinalCSV
			row[6] = r.Duration().Round(time.Millisecond).Seconds()
			if msg := r.LastError(); msg != "" {
				row[7] = truncate(msg, 200)
			}
		}
		writeRow(f, SheetDocuments, i+2, row)
	}
	_ = f.SetColWidth(SheetDocuments, "A", "A", 28)
	_ = f.SetColWidth(SheetDocuments, "B", "B", 18)
	_ = f.SetColWidth(SheetDocuments, "F", "F", 60)
	_ = f.SetColWidth(SheetDocuments, "H", "H", 60)

	rows, err := s.writeRows(ctx, f, docs)
	if err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"documents", len(docs),
		"rows", rows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// writeRows concatenates final CSVs. The header is "document" followed by
// the union of final.csv columns in first-seen order.
func (s *Service) writeRows(ctx context.Context, f *excelize.File, docs []async.DocResult) (int, error) {
	header := []string{"document"}
	index := map[string]int{}
	type block struct {
		doc string
		t   artifact.Table
	}
	var blocks []block
	for _, d := range docs {
		if !d.Completed() || d.Report.FinalCSV == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: %w", common.ErrCanceled, err)
		}
		t, err := artifact.ReadCSV(d.Report.FinalCSV)
		if err != nil {
			s.logger.Warn("export.final_csv.unreadable", "document", d.Report.Document, "error", err)
			continue
		}
		for _, h := range t.Header {
			if _, ok := index[h]; !ok {
				index[h] = len(header)
				header = append(header, h)
			}
		}
		blocks = append(blocks, block{doc: d.Report.Document, t: t})
	}

	writeRow(f, SheetRows, 1, toAny(header))
	n := 0
	for _, b := range blocks {
		for _, src := range b.t.Rows {
			row := make([]any, len(header))
			for i := range row {
				row[i] = ""
			}
			row[0] = b.doc
			for j, h := range b.t.Header {
				if j < len(src) {
					row[index[h]] = src[j]
				}
			}
			n++
			writeRow(f, SheetRows, n+1, row)
		}
	}
	if i := index[constants.ColID]; i > 0 {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(SheetRows, col, col, 6)
	}
	return n, nil
}

// WriteBatchSummary writes the workbook to path atomically.
func (s *Service) WriteBatchSummary(ctx context.Context, path string, docs []async.DocResult) error {
	data, err := s.SummaryXLSX(ctx, docs)
	if err != nil {
		return err
	}
	return storage.WriteFileAtomic(path, data)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
