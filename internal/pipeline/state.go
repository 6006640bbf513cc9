package pipeline

import (
	"fmt"
	"time"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
)

// StageOutcome is what one stage reports back to the state machine.
type StageOutcome struct {
	Stage    string
	Err      error
	Duration time.Duration
	Outputs  map[string]string
	// Errors are per-page problems that did not fail the stage.
	Errors   []entity.ErrorEntry
	Warnings []string
	At       time.Time
}

// OK reports whether the stage succeeded.
func (o StageOutcome) OK() bool { return o.Err == nil }

// ReportDelta is the append-only change a transition makes to the report.
type ReportDelta struct {
	From     constants.State
	To       constants.State
	Step     *entity.StepResult
	Errors   []entity.ErrorEntry
	Warnings []string
}

// Moved reports whether the transition changed state.
func (d ReportDelta) Moved() bool { return d.From != d.To }

// Transition computes the next state from the current one and a stage
// outcome. Success advances exactly one state, failure goes to failed, and a
// terminal state never moves. An outcome for the wrong stage is a failure.
func Transition(cur constants.State, o StageOutcome) (constants.State, ReportDelta) {
	if cur.IsTerminal() || !cur.Valid() {
		return cur, ReportDelta{From: cur, To: cur}
	}

	err := o.Err
	want, _ := cur.Stage()
	if o.Stage != want {
		err = fmt.Errorf("stage %q reported in state %s, expected %q: %w", o.Stage, cur, want, common.ErrInvalidInput)
	}

	next := constants.StateFailed
	if err == nil {
		next, _ = cur.Next()
	}

	step := entity.StepResult{
		Name:        o.Stage,
		OK:          err == nil,
		State:       next,
		DurationSec: o.Duration.Seconds(),
		OutputPaths: o.Outputs,
	}
	d := ReportDelta{
		From:     cur,
		To:       next,
		Step:     &step,
		Errors:   append([]entity.ErrorEntry(nil), o.Errors...),
		Warnings: append([]string(nil), o.Warnings...),
	}
	if err != nil {
		step.Error = err.Error()
		d.Errors = append(d.Errors, entity.ErrorEntry{
			Stage:   o.Stage,
			Kind:    string(common.Classify(err)),
			Message: err.Error(),
			At:      o.At,
		})
	}
	return next, d
}

// Apply appends the delta to r and moves it to d.To.
func (d ReportDelta) Apply(r *entity.ProcessReport) {
	if d.Step == nil {
		return
	}
	r.State = d.To
	r.AddStep(*d.Step)
	r.AddErrors(d.Errors...)
	for _, w := range d.Warnings {
		r.Warn(w)
	}
}
