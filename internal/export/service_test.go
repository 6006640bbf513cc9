package export

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/artifact"
	"github.com/joseph-ayodele/scan2csv/internal/async"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
)

func completedDoc(t *testing.T, name string, tbl artifact.Table) async.DocResult {
	t.Helper()
	path := filepath.Join(t.TempDir(), "final.csv")
	require.NoError(t, artifact.WriteCSV(path, tbl))
	r := entity.NewProcessReport("run", name, name+".pdf", "")
	r.State = constants.StateCompleted
	r.Pages = 1
	r.Rows = len(tbl.Rows)
	r.FinalCSV = path
	r.Finish()
	return async.DocResult{Path: name + ".pdf", Report: r}
}

func TestSummaryWorkbook(t *testing.T) {
	a := completedDoc(t, "a", artifact.Table{
		Header: []string{"id", "last_name", "amount"},
		Rows:   [][]string{{"1", "Dupont", "12.50"}, {"2", "Martin", "3.00"}},
	})
	b := completedDoc(t, "b", artifact.Table{
		Header: []string{"id", "last_name", "iban"},
		Rows:   [][]string{{"1", "Durand", "FR76"}},
	})
	failed := entity.NewProcessReport("run", "c", "c.pdf", "")
	failed.State = constants.StateFailed
	failed.AddErrors(entity.ErrorEntry{Stage: "map", Kind: "schema_mismatch", Message: "extra column"})
	c := async.DocResult{Path: "c.pdf", Report: failed, Err: errors.New("map failed")}

	data, err := NewService(nil).SummaryXLSX(context.Background(), []async.DocResult{a, b, c})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetDocuments, SheetRows}, f.GetSheetList())

	docs, err := f.GetRows(SheetDocuments)
	require.NoError(t, err)
	require.Len(t, docs, 4)
	assert.Equal(t, "Document", docs[0][0])
	assert.Equal(t, []string{"a", "completed", "1", "2", "0"}, docs[1][:5])
	assert.Equal(t, "failed", docs[3][1])
	assert.Equal(t, "extra column", docs[3][7])

	rows, err := f.GetRows(SheetRows)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"document", "id", "last_name", "amount", "iban"}, rows[0])
	assert.Equal(t, []string{"a", "1", "Dupont", "12.50"}, rows[1])
	assert.Equal(t, []string{"b", "1", "Durand", "", "FR76"}, rows[3])
}

func TestWriteBatchSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), SummaryName)
	require.NoError(t, NewService(nil).WriteBatchSummary(context.Background(), path, nil))
	assert.FileExists(t, path)
}
