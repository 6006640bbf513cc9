package artifact

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"

	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/storage"
)

// Table is a CSV file held in memory.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of name in the header, or -1.
func (t Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// ReadCSV loads a CSV file. Short rows are padded to the header width.
func ReadCSV(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, common.LocalIO("read csv", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		return Table{}, common.LocalIO("parse csv "+path, err)
	}
	if len(recs) == 0 {
		return Table{}, nil
	}
	t := Table{Header: recs[0], Rows: recs[1:]}
	for i, row := range t.Rows {
		if len(row) < len(t.Header) {
			padded := make([]string, len(t.Header))
			copy(padded, row)
			t.Rows[i] = padded
		}
	}
	return t, nil
}

// EncodeCSV renders t.
func EncodeCSV(t Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCSV(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV writes t atomically. An existing file with identical content is
// left untouched.
func WriteCSV(path string, t Table) error {
	data, err := EncodeCSV(t)
	if err != nil {
		return common.WrapError(err, "encode "+path)
	}
	_, err = WriteIfChanged(path, data)
	return err
}

// WriteIfChanged writes data unless path already holds exactly data. It
// reports whether the file was written.
func WriteIfChanged(path string, data []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err := storage.WriteFileAtomic(path, data); err != nil {
		return false, err
	}
	return true, nil
}

func blankRow(n int) []string {
	return make([]string, n)
}
