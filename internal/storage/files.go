package storage

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
)

// WriteJSON writes v indented, atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return common.WrapError(err, "encode "+path)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// ReadJSON decodes path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.LocalIO("read "+path, err)
	}
	return json.Unmarshal(data, v)
}

// WriteStatus persists the full report as status.json.
func (p ProcessPaths) WriteStatus(r *entity.ProcessReport) error {
	return WriteJSON(p.Status(), r)
}

// errorsFile is the errors.json document.
type errorsFile struct {
	Document string              `json:"document"`
	State    string              `json:"state"`
	Errors   []entity.ErrorEntry `json:"errors"`
}

// WriteErrors persists the report's error entries as errors.json.
func (p ProcessPaths) WriteErrors(r *entity.ProcessReport) error {
	return WriteJSON(p.Errors(), errorsFile{
		Document: r.Document,
		State:    string(r.State),
		Errors:   r.Errors,
	})
}

// RemoveErrors deletes errors.json left by an earlier run. A missing file is
// not an error.
func (p ProcessPaths) RemoveErrors() error {
	if err := os.Remove(p.Errors()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return common.LocalIO("remove errors.json", err)
	}
	return nil
}
