package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/scan2csv/internal/entity"
	"github.com/joseph-ayodele/scan2csv/internal/storage"
)

func newStore(t *testing.T, skip bool) *Store {
	t.Helper()
	src := filepath.Join(t.TempDir(), "form.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0o644))
	p, err := storage.Prepare(t.TempDir(), src, skip)
	require.NoError(t, err)
	return NewStore(p, skip, nil)
}

func row(kv ...string) entity.Row {
	var r entity.Row
	for i := 0; i+1 < len(kv); i += 2 {
		r = append(r, entity.Field{Name: kv[i], Value: kv[i+1]})
	}
	return r
}

func TestFlattenRecords(t *testing.T) {
	records := []entity.PageRecord{
		entity.ValidRecord(1, []entity.Row{
			row("Nom", "Dupont", "Montant", "10"),
			row("Prénom", "Jean", "Nom", "Martin"),
		}),
		entity.ErrorPlaceholder(2, "ocr failed: timeout"),
		entity.ValidRecord(3, []entity.Row{row("page", "7", "Montant", "3")}),
	}
	tbl := FlattenRecords(records)

	assert.Equal(t, []string{"page", "record_status", "record_error", "Nom", "Montant", "Prénom", "src_page"}, tbl.Header)
	require.Len(t, tbl.Rows, 4)
	assert.Equal(t, []string{"1", "ok", "", "Dupont", "10", "", ""}, tbl.Rows[0])
	assert.Equal(t, []string{"1", "ok", "", "Martin", "", "Jean", ""}, tbl.Rows[1])
	assert.Equal(t, []string{"2", "error", "ocr failed: timeout", "", "", "", ""}, tbl.Rows[2])
	assert.Equal(t, []string{"3", "ok", "", "", "3", "", "7"}, tbl.Rows[3])
}

func TestFlattenRecordsDropsRepeatedIdentityAcrossPages(t *testing.T) {
	records := []entity.PageRecord{
		entity.ValidRecord(1, []entity.Row{
			row("IBAN", "FR76 3000 6000 0112 3456 7890 189", "Titulaire", "DUPONT JEAN", "Montant", "10"),
			row("Nom", "Martin", "Montant", "4"),
		}),
		entity.ValidRecord(2, []entity.Row{
			row("iban", "fr7630006000011234567890189", "titulaire", "Dupont  Jean", "Remarque", "repeated"),
			row("Nom", "Martin", "Montant", "4"),
		}),
		entity.ValidRecord(3, []entity.Row{
			row("IBAN", "DE89370400440532013000", "Titulaire", "DUPONT JEAN"),
		}),
	}
	tbl := FlattenRecords(records)

	require.Len(t, tbl.Rows, 4)
	assert.NotContains(t, tbl.Header, "Remarque")
	pages := make([]string, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		pages = append(pages, r[0])
	}
	// rows without identity values are kept on every page
	assert.Equal(t, []string{"1", "1", "2", "3"}, pages)

	// merged records are untouched
	require.Len(t, records, 3)
	assert.Len(t, records[1].Rows, 2)
}

func TestWriteExtractedCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extracted.csv")
	n, err := WriteExtractedCSV([]entity.PageRecord{
		entity.ValidRecord(1, []entity.Row{row("Nom", "D'Artagnan, Charles")}),
	}, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tbl, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, "D'Artagnan, Charles", tbl.Rows[0][tbl.Column("Nom")])
	assert.Equal(t, -1, tbl.Column("nope"))
}

func TestStorePagesAndMerged(t *testing.T) {
	s := newStore(t, false)
	pages := []entity.PageText{
		{Page: 1, Text: "one"},
		{Page: 2, Err: "timeout"},
		{Page: 3, Text: "three"},
	}
	written, err := s.WritePageTexts(pages)
	require.NoError(t, err)
	assert.Len(t, written, 2)
	assert.FileExists(t, s.Paths().PageText(1))
	assert.NoFileExists(t, s.Paths().PageText(2))

	merged, err := s.WriteMergedText(pages)
	require.NoError(t, err)
	data, err := os.ReadFile(merged)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--- page 2 ---\n[ocr failed: timeout]")

	records := []entity.PageRecord{
		entity.ValidRecord(1, []entity.Row{row("a", "1")}),
		entity.ErrorPlaceholder(2, "ocr failed"),
		entity.ValidRecord(3, nil),
	}
	_, err = s.WritePageRecords(records)
	require.NoError(t, err)
	assert.NoFileExists(t, s.Paths().PageJSON(2))

	_, err = s.WriteMerged(records)
	require.NoError(t, err)
	back, err := s.LoadMerged()
	require.NoError(t, err)
	require.Len(t, back, 3)
	assert.True(t, back[1].IsPlaceholder())
	assert.Equal(t, "ocr failed", back[1].Reason)

	// caches are off without skip-existing
	_, ok := s.LoadText(1)
	assert.False(t, ok)
	_, ok = s.LoadRecord(1)
	assert.False(t, ok)
}

func TestStoreSkipExistingIsIdempotent(t *testing.T) {
	s := newStore(t, true)
	pages := []entity.PageText{{Page: 1, Text: "one"}}
	records := []entity.PageRecord{entity.ValidRecord(1, []entity.Row{row("Nom", "A")})}

	_, err := s.WritePageTexts(pages)
	require.NoError(t, err)
	_, err = s.WritePageRecords(records)
	require.NoError(t, err)
	_, err = s.WriteMerged(records)
	require.NoError(t, err)

	paths := []string{s.Paths().PageText(1), s.Paths().PageJSON(1), s.Paths().MergedJSON()}
	before := map[string]time.Time{}
	old := time.Now().Add(-time.Hour)
	for _, p := range paths {
		require.NoError(t, os.Chtimes(p, old, old))
		st, err := os.Stat(p)
		require.NoError(t, err)
		before[p] = st.ModTime()
	}

	txt, ok := s.LoadText(1)
	require.True(t, ok)
	rec, ok := s.LoadRecord(1)
	require.True(t, ok)

	_, err = s.WritePageTexts([]entity.PageText{{Page: 1, Text: txt}})
	require.NoError(t, err)
	_, err = s.WritePageRecords([]entity.PageRecord{rec})
	require.NoError(t, err)
	_, err = s.WriteMerged([]entity.PageRecord{rec})
	require.NoError(t, err)

	for _, p := range paths {
		st, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, before[p], st.ModTime(), p)
	}
}

func TestWriteNameColumns(t *testing.T) {
	s := newStore(t, false)
	p, err := s.WriteNameColumns(nil)
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}
