package ledger

import (
	"context"
	"database/sql"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
)

const (
	tableRuns        = "document_runs"
	tableTransitions = "run_transitions"
)

// Run is one row of document_runs.
type Run struct {
	ID         int64
	RunID      string
	Document   string
	ProcessDir string
	State      constants.State
	Pages      int
	FinalCSV   string
	Error      string
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// TransitionRow is one row of run_transitions.
type TransitionRow struct {
	ID   int64
	From constants.State
	To   constants.State
	// Stage is the step that caused the transition.
	Stage string
	OK    bool
	Error string
	At    time.Time
}

func (l *Ledger) builder() *entsql.DialectBuilder {
	return entsql.Dialect(l.dialect)
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseStamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// StartRun inserts the document run and returns its id.
func (l *Ledger) StartRun(ctx context.Context, r *entity.ProcessReport) (int64, error) {
	now := stamp(time.Now())
	ins := l.builder().Insert(tableRuns).
		Columns("run_id", "document", "process_dir", "state", "pages", "started_at", "updated_at").
		Values(r.RunID, r.Document, r.ProcessDir, string(r.State), r.Pages, stamp(r.StartedAt), now)

	if l.dialect == dialect.Postgres {
		query, args := ins.Returning("id").Query()
		var id int64
		if err := l.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, common.WrapError(err, "insert document run")
		}
		return id, nil
	}
	query, args := ins.Query()
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, common.WrapError(err, "insert document run")
	}
	return res.LastInsertId()
}

// RecordTransition stores one state change and moves the run row along.
func (l *Ledger) RecordTransition(ctx context.Context, docRunID int64, from constants.State, step entity.StepResult) error {
	now := time.Now()
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin transition")
	}
	defer func() { _ = tx.Rollback() }()

	ok := 0
	if step.OK {
		ok = 1
	}
	query, args := l.builder().Insert(tableTransitions).
		Columns("document_run_id", "from_state", "to_state", "stage", "ok", "error", "at").
		Values(docRunID, string(from), string(step.State), step.Name, ok, step.Error, stamp(now)).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return common.WrapError(err, "insert transition")
	}

	query, args = l.builder().Update(tableRuns).
		Set("state", string(step.State)).
		Set("error", step.Error).
		Set("updated_at", stamp(now)).
		Where(entsql.EQ("id", docRunID)).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return common.WrapError(err, "update document run")
	}
	return tx.Commit()
}

// FinishRun stores the final report fields.
func (l *Ledger) FinishRun(ctx context.Context, docRunID int64, r *entity.ProcessReport) error {
	updated := time.Now()
	if r.FinishedAt != nil {
		updated = *r.FinishedAt
	}
	errMsg := ""
	if r.State == constants.StateFailed {
		errMsg = r.LastError()
	}
	query, args := l.builder().Update(tableRuns).
		Set("state", string(r.State)).
		Set("pages", r.Pages).
		Set("final_csv", r.FinalCSV).
		Set("error", errMsg).
		Set("updated_at", stamp(updated)).
		Where(entsql.EQ("id", docRunID)).
		Query()
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return common.WrapError(err, "finish document run")
	}
	return nil
}

var runColumns = []string{"id", "run_id", "document", "process_dir", "state", "pages", "final_csv", "error", "started_at", "updated_at"}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		r                  Run
		state              string
		started, updatedAt string
	)
	err := rows.Scan(&r.ID, &r.RunID, &r.Document, &r.ProcessDir, &state, &r.Pages, &r.FinalCSV, &r.Error, &started, &updatedAt)
	r.State = constants.State(state)
	r.StartedAt = parseStamp(started)
	r.UpdatedAt = parseStamp(updatedAt)
	return r, err
}

func (l *Ledger) queryRuns(ctx context.Context, sel *entsql.Selector) ([]Run, error) {
	query, args := sel.Query()
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.WrapError(err, "query document runs")
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan document run")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastState returns the state of the most recent run of document.
func (l *Ledger) LastState(ctx context.Context, document string) (constants.State, bool, error) {
	t := entsql.Table(tableRuns)
	sel := l.builder().Select(runColumns...).From(t).
		Where(entsql.EQ("document", document)).
		OrderBy(entsql.Desc("id")).
		Limit(1)
	runs, err := l.queryRuns(ctx, sel)
	if err != nil || len(runs) == 0 {
		return "", false, err
	}
	return runs[0].State, true, nil
}

// ListRuns returns the document runs of one batch, in insertion order.
func (l *Ledger) ListRuns(ctx context.Context, runID string) ([]Run, error) {
	sel := l.builder().Select(runColumns...).From(entsql.Table(tableRuns)).
		Where(entsql.EQ("run_id", runID)).
		OrderBy("id")
	return l.queryRuns(ctx, sel)
}

// Transitions returns the transitions of one document run in order.
func (l *Ledger) Transitions(ctx context.Context, docRunID int64) ([]TransitionRow, error) {
	query, args := l.builder().
		Select("id", "from_state", "to_state", "stage", "ok", "error", "at").
		From(entsql.Table(tableTransitions)).
		Where(entsql.EQ("document_run_id", docRunID)).
		OrderBy("id").
		Query()
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.WrapError(err, "query transitions")
	}
	defer rows.Close()

	var out []TransitionRow
	for rows.Next() {
		var (
			t        TransitionRow
			from, to string
			ok       int
			at       string
		)
		if err := rows.Scan(&t.ID, &from, &to, &t.Stage, &ok, &t.Error, &at); err != nil {
			return nil, common.WrapError(err, "scan transition")
		}
		t.From, t.To, t.OK, t.At = constants.State(from), constants.State(to), ok == 1, parseStamp(at)
		out = append(out, t)
	}
	return out, rows.Err()
}
