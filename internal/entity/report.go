package entity

import (
	"time"

	"github.com/joseph-ayodele/scan2csv/constants"
)

// StepResult is one entry of the append-only step log in status.json.
type StepResult struct {
	Name        string            `json:"name"`
	OK          bool              `json:"ok"`
	State       constants.State   `json:"state"`
	DurationSec float64           `json:"duration_sec"`
	OutputPaths map[string]string `json:"output_paths,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// ErrorEntry is one entry of errors.json.
type ErrorEntry struct {
	Stage   string    `json:"stage"`
	Page    int       `json:"page,omitempty"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ProcessReport is the per-document record persisted as status.json.
type ProcessReport struct {
	RunID      string          `json:"run_id"`
	Document   string          `json:"document"`
	Source     string          `json:"source"`
	ProcessDir string          `json:"process_dir"`
	State      constants.State `json:"state"`
	Pages      int             `json:"pages"`
	Rows       int             `json:"rows"`
	FinalCSV   string          `json:"final_csv,omitempty"`
	Steps      []StepResult    `json:"steps"`
	Errors     []ErrorEntry    `json:"errors"`
	Warnings   []string        `json:"warnings,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// NewProcessReport starts a report in the created state.
func NewProcessReport(runID, document, source, dir string) *ProcessReport {
	return &ProcessReport{
		RunID:      runID,
		Document:   document,
		Source:     source,
		ProcessDir: dir,
		State:      constants.StateCreated,
		Steps:      []StepResult{},
		Errors:     []ErrorEntry{},
		StartedAt:  time.Now().UTC(),
	}
}

// AddStep appends a step.
func (r *ProcessReport) AddStep(s StepResult) {
	r.Steps = append(r.Steps, s)
}

// AddErrors appends error entries.
func (r *ProcessReport) AddErrors(es ...ErrorEntry) {
	r.Errors = append(r.Errors, es...)
}

// Warn appends a non-fatal warning.
func (r *ProcessReport) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Finish stamps the end time.
func (r *ProcessReport) Finish() {
	now := time.Now().UTC()
	r.FinishedAt = &now
}

// Duration is the elapsed time of the run so far.
func (r *ProcessReport) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// LastError returns the message of the last error entry.
func (r *ProcessReport) LastError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[len(r.Errors)-1].Message
}
