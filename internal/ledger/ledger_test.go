package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/scan2csv/constants"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/entity"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), common.LedgerConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "db", "runs.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func step(name string, to constants.State, errMsg string) entity.StepResult {
	return entity.StepResult{Name: name, OK: errMsg == "", State: to, Error: errMsg}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	require.NoError(t, l.HealthCheck(ctx, 0))

	r := entity.NewProcessReport("run-1", "form", "/in/form.pdf", "/out/form")
	id, err := l.StartRun(ctx, r)
	require.NoError(t, err)
	assert.Positive(t, id)

	require.NoError(t, l.RecordTransition(ctx, id, constants.StateCreated, step("ocr", constants.StateOCRDone, "")))
	require.NoError(t, l.RecordTransition(ctx, id, constants.StateOCRDone, step("structure", constants.StateFailed, "boom")))

	state, ok, err := l.LastState(ctx, "form")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, constants.StateFailed, state)

	r.State = constants.StateFailed
	r.Pages = 3
	r.AddErrors(entity.ErrorEntry{Stage: "structure", Kind: "permanent", Message: "boom"})
	r.Finish()
	require.NoError(t, l.FinishRun(ctx, id, r))

	runs, err := l.ListRuns(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "form", runs[0].Document)
	assert.Equal(t, 3, runs[0].Pages)
	assert.Equal(t, "boom", runs[0].Error)
	assert.False(t, runs[0].StartedAt.IsZero())

	trs, err := l.Transitions(ctx, id)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	assert.Equal(t, constants.StateCreated, trs[0].From)
	assert.Equal(t, constants.StateOCRDone, trs[0].To)
	assert.True(t, trs[0].OK)
	assert.False(t, trs[1].OK)
	assert.Equal(t, "boom", trs[1].Error)
}

func TestLastStateUnknownDocument(t *testing.T) {
	_, ok, err := openTest(t).LastState(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLastStatePicksNewestRun(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	for _, st := range []constants.State{constants.StateFailed, constants.StateCompleted} {
		r := entity.NewProcessReport("run", "doc", "doc.pdf", "")
		r.State = st
		_, err := l.StartRun(ctx, r)
		require.NoError(t, err)
	}
	state, _, err := l.LastState(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, constants.StateCompleted, state)
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := l.StartRun(ctx, entity.NewProcessReport("batch", "d", "d.pdf", ""))
			if assert.NoError(t, err) {
				assert.NoError(t, l.RecordTransition(ctx, id, constants.StateCreated, step("ocr", constants.StateOCRDone, "")))
			}
		}()
	}
	wg.Wait()
	runs, err := l.ListRuns(ctx, "batch")
	require.NoError(t, err)
	assert.Len(t, runs, 8)
}

func TestOpenNoneAndUnknown(t *testing.T) {
	l, err := Open(context.Background(), common.LedgerConfig{Driver: DriverNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, l)
	l.Close()

	_, err = Open(context.Background(), common.LedgerConfig{Driver: "mysql"}, nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestOpenPostgresBadDSNKeepsCause(t *testing.T) {
	_, err := Open(context.Background(), common.LedgerConfig{Driver: DriverPostgres, DSN: "postgres://u@host:notaport/db"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Greater(t, len(err.Error()), len("parse ledger dsn: "+common.ErrInvalidInput.Error()))
}
