package artifact

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
	"github.com/joseph-ayodele/scan2csv/internal/storage"
)

// Store persists the artifacts of one document and, with skip-existing on,
// serves them back as caches for the OCR and structuring adapters.
type Store struct {
	paths        storage.ProcessPaths
	skipExisting bool
	logger       *slog.Logger
}

func NewStore(paths storage.ProcessPaths, skipExisting bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{paths: paths, skipExisting: skipExisting, logger: logger}
}

// Paths returns the document's artifact layout.
func (s *Store) Paths() storage.ProcessPaths { return s.paths }

// LoadText implements ocr.PageCache.
func (s *Store) LoadText(page int) (string, bool) {
	if !s.skipExisting {
		return "", false
	}
	data, err := os.ReadFile(s.paths.PageText(page))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// LoadRecord implements structuring.RecordCache. Only valid records are
// persisted per page, so placeholders are always retried.
func (s *Store) LoadRecord(page int) (entity.PageRecord, bool) {
	if !s.skipExisting {
		return entity.PageRecord{}, false
	}
	data, err := os.ReadFile(s.paths.PageJSON(page))
	if err != nil {
		return entity.PageRecord{}, false
	}
	var rows []entity.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		s.logger.Warn("artifact.page_json.unreadable", "page", page, "error", err)
		return entity.PageRecord{}, false
	}
	return entity.ValidRecord(page, rows), true
}

// WritePageTexts writes one text file per successful page. Failed pages get
// no file so a resumed run retries them.
func (s *Store) WritePageTexts(pages []entity.PageText) ([]string, error) {
	var written []string
	for _, p := range pages {
		if p.Failed() {
			continue
		}
		path := s.paths.PageText(p.Page)
		if _, err := WriteIfChanged(path, []byte(p.Text)); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// WriteMergedText concatenates every page's text with page headers.
func (s *Store) WriteMergedText(pages []entity.PageText) (string, error) {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		body := p.Text
		if p.Failed() {
			body = "[ocr failed: " + p.Err + "]"
		}
		parts = append(parts, fmt.Sprintf("--- page %d ---\n%s", p.Page, body))
	}
	path := s.paths.AllPagesText()
	if _, err := WriteIfChanged(path, []byte(strings.Join(parts, "\n\n")+"\n")); err != nil {
		return "", err
	}
	return path, nil
}

// WritePageRecords writes <base>_json_page_<n>.json for valid records.
func (s *Store) WritePageRecords(records []entity.PageRecord) ([]string, error) {
	var written []string
	for _, r := range records {
		if r.IsPlaceholder() {
			continue
		}
		data, err := json.MarshalIndent(r.Rows, "", "  ")
		if err != nil {
			return written, common.WrapError(err, "encode page "+strconv.Itoa(r.Page))
		}
		path := s.paths.PageJSON(r.Page)
		if _, err := WriteIfChanged(path, append(data, '\n')); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// WriteMerged writes the merged JSON: one entry per page, ordered,
// placeholders included.
func (s *Store) WriteMerged(records []entity.PageRecord) (string, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", common.WrapError(err, "encode merged json")
	}
	path := s.paths.MergedJSON()
	if _, err := WriteIfChanged(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// LoadMerged reads the merged JSON back.
func (s *Store) LoadMerged() ([]entity.PageRecord, error) {
	var records []entity.PageRecord
	if err := storage.ReadJSON(s.paths.MergedJSON(), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// WriteNameColumns persists the name-columns OCR result.
func (s *Store) WriteNameColumns(cols []string) (string, error) {
	if cols == nil {
		cols = []string{}
	}
	data, err := json.MarshalIndent(cols, "", "  ")
	if err != nil {
		return "", common.WrapError(err, "encode name columns")
	}
	path := s.paths.NameColumns()
	if _, err := WriteIfChanged(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// FlattenRecords turns merged records into the extracted table: the meta
// columns, then the union of row fields in first-seen order. A placeholder
// page becomes one flagged row. Rows repeating an earlier row's identity
// columns anywhere in the document are dropped, so a block printed on every
// page is extracted once.
func FlattenRecords(records []entity.PageRecord) Table {
	type pageRow struct {
		page   int
		row    entity.Row
		reason string
		failed bool
	}
	seen := map[string]struct{}{}
	var kept []pageRow
	for _, r := range records {
		if r.IsPlaceholder() {
			kept = append(kept, pageRow{page: r.Page, reason: r.Reason, failed: true})
			continue
		}
		for _, row := range r.Rows {
			if k, ok := identityKey(row); ok {
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
			}
			kept = append(kept, pageRow{page: r.Page, row: row})
		}
	}

	header := append([]string{}, constants.MetaColumns...)
	index := map[string]int{}
	for i, h := range header {
		index[h] = i
	}
	for _, pr := range kept {
		for _, f := range pr.row {
			name := sourceColumn(f.Name)
			if _, ok := index[name]; !ok {
				index[name] = len(header)
				header = append(header, name)
			}
		}
	}

	rows := make([][]string, 0, len(kept))
	for _, pr := range kept {
		out := blankRow(len(header))
		out[0] = strconv.Itoa(pr.page)
		if pr.failed {
			out[1] = constants.RecordError
			out[2] = pr.reason
			rows = append(rows, out)
			continue
		}
		out[1] = constants.RecordOK
		for _, f := range pr.row {
			out[index[sourceColumn(f.Name)]] = f.Value
		}
		rows = append(rows, out)
	}
	return Table{Header: header, Rows: rows}
}

// identityKey builds a row's key over the identity columns, resolving headers
// through the canonical synonyms. Rows with no identity value have no key.
func identityKey(row entity.Row) (string, bool) {
	values := make(map[string]string, len(constants.IdentityColumns))
	for _, f := range row {
		name, ok := constants.CanonicalColumn(f.Name)
		if !ok {
			continue
		}
		v := strings.ToUpper(strings.Join(strings.Fields(f.Value), ""))
		if _, set := values[name]; !set && v != "" {
			values[name] = v
		}
	}
	parts := make([]string, len(constants.IdentityColumns))
	found := false
	for i, c := range constants.IdentityColumns {
		parts[i] = values[c]
		found = found || parts[i] != ""
	}
	return strings.Join(parts, "\x1f"), found
}

// sourceColumn keeps document fields from shadowing meta columns.
func sourceColumn(name string) string {
	if constants.IsMetaColumn(name) {
		return "src_" + name
	}
	return name
}

// WriteExtractedCSV flattens records into path and returns the number of data
// rows written.
func WriteExtractedCSV(records []entity.PageRecord, path string) (int, error) {
	t := FlattenRecords(records)
	if err := WriteCSV(path, t); err != nil {
		return 0, err
	}
	return len(t.Rows), nil
}
