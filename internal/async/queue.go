package async

import (
	"context"
	"time"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
)

// Job is one document handed to a worker.
type Job struct {
	Index       int
	Path        string
	SubmittedAt time.Time
}

// DocumentProcessor runs the whole chain for one document.
type DocumentProcessor interface {
	ProcessFile(ctx context.Context, path string) (*entity.ProcessReport, error)
}

// DocResult is the outcome of one Job.
type DocResult struct {
	Path   string                `json:"path"`
	Report *entity.ProcessReport `json:"report,omitempty"`
	Err    error                 `json:"-"`
}

// Completed reports whether the document reached the completed state.
func (d DocResult) Completed() bool {
	return d.Err == nil && d.Report != nil && d.Report.State == constants.StateCompleted
}

// State is the document's final state; documents that never started are
// failed.
func (d DocResult) State() constants.State {
	if d.Report == nil {
		return constants.StateFailed
	}
	return d.Report.State
}
