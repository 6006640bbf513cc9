package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/scan2csv/internal/artifact"
	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
)

func normalizedCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "normalized_doc.csv")
	require.NoError(t, artifact.WriteCSV(path, artifact.Table{
		Header: []string{"last_name", "amount", "Remarque", "page", "record_status", "record_error"},
		Rows: [][]string{
			{"Dupont", "12.50", "x", "1", "ok", ""},
			{"", "", "", "2", "error", "ocr failed: timeout"},
			{"Martin", "3.00", "", "3", "ok", ""},
		},
	}))
	return path
}

func TestLocalMapping(t *testing.T) {
	m, err := NewMapper("local", Local{Target: []string{"amount", "Nom", "iban"}}, []string{"amount", "Nom", "iban"}, nil)
	require.NoError(t, err)

	final := filepath.Join(t.TempDir(), "final.csv")
	res, err := m.Run(context.Background(), normalizedCSV(t), final)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Mapped)
	assert.Equal(t, 1, res.Flagged)

	out, err := artifact.ReadCSV(final)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "amount", "Nom", "iban", "page", "record_status", "record_error"}, out.Header)
	assert.Equal(t, []string{"1", "12.50", "Dupont", "", "1", "ok", ""}, out.Rows[0])
	assert.Equal(t, []string{"2", "", "", "", "2", "error", "ocr failed: timeout"}, out.Rows[1])
	assert.Equal(t, []string{"3", "3.00", "Martin", "", "3", "ok", ""}, out.Rows[2])
}

func TestNewMapperDefaultsAndValidation(t *testing.T) {
	m, err := NewMapper("local", Local{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "last_name", m.Target()[0])

	for _, bad := range [][]string{{"id"}, {"page"}, {"a", "a"}, {""}} {
		_, err := NewMapper("local", Local{}, bad, nil)
		assert.ErrorIs(t, err, common.ErrInvalidInput, "%v", bad)
	}
}

func TestModelBackendChunks(t *testing.T) {
	var calls int
	model := llm.CompleterFunc(func(_ context.Context, req llm.Request) (llm.Response, error) {
		calls++
		assert.True(t, req.JSON)
		assert.Contains(t, req.Instructions, "[amount, last_name]")
		var rows []map[string]any
		require.NoError(t, json.Unmarshal([]byte(req.Text), &rows))
		out := make([]map[string]any, len(rows))
		for i, r := range rows {
			out[i] = map[string]any{"amount": r["amount"], "last_name": strings.ToUpper(r["last_name"].(string))}
		}
		b, _ := json.Marshal(out)
		return llm.Response{Text: "```json\n" + string(b) + "\n```"}, nil
	})
	target := []string{"amount", "last_name"}
	m, err := NewMapper("openai", NewModelBackend(model, target, 1, nil), target, nil)
	require.NoError(t, err)

	final := filepath.Join(t.TempDir(), "final.csv")
	_, err = m.Run(context.Background(), normalizedCSV(t), final)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	out, err := artifact.ReadCSV(final)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "12.50", "DUPONT", "1", "ok", ""}, out.Rows[0])
	assert.Equal(t, []string{"3", "3.00", "MARTIN", "3", "ok", ""}, out.Rows[2])
}

func TestModelBackendSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"extra column":   `[{"amount":"1","last_name":"a","extra":"x"},{"amount":"1","last_name":"a"}]`,
		"missing column": `[{"amount":"1"},{"amount":"1","last_name":"a"}]`,
		"row count":      `[{"amount":"1","last_name":"a"}]`,
		"not json":       `I could not map these rows.`,
	}
	target := []string{"amount", "last_name"}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			model := llm.CompleterFunc(func(context.Context, llm.Request) (llm.Response, error) {
				return llm.Response{Text: reply}, nil
			})
			m, err := NewMapper("openai", NewModelBackend(model, target, 50, nil), target, nil)
			require.NoError(t, err)
			_, err = m.Run(context.Background(), normalizedCSV(t), filepath.Join(t.TempDir(), "final.csv"))
			assert.ErrorIs(t, err, common.ErrSchemaMismatch)
		})
	}
}

func TestModelBackendKeepsClientTaxonomy(t *testing.T) {
	model := llm.CompleterFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{}, common.Transient(errors.New("503"))
	})
	target := []string{"amount"}
	m, err := NewMapper("azure", NewModelBackend(model, target, 50, nil), target, nil)
	require.NoError(t, err)
	_, err = m.Run(context.Background(), normalizedCSV(t), filepath.Join(t.TempDir(), "final.csv"))
	assert.Equal(t, common.KindTransient, common.Classify(err))
}

type fakeSource struct{ asked []string }

func (f *fakeSource) Get(_ context.Context, backend string) (llm.Completer, error) {
	f.asked = append(f.asked, backend)
	return llm.CompleterFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{Text: "[]"}, nil
	}), nil
}

func TestNewBackend(t *testing.T) {
	src := &fakeSource{}
	b, err := NewBackend(context.Background(), "local", src, []string{"a"}, 0, nil)
	require.NoError(t, err)
	assert.IsType(t, Local{}, b)
	assert.Empty(t, src.asked)

	b, err = NewBackend(context.Background(), "hyperbolic", src, []string{"a"}, 0, nil)
	require.NoError(t, err)
	assert.IsType(t, &ModelBackend{}, b)
	assert.Equal(t, []string{"hyperbolic"}, src.asked)

	_, err = NewBackend(context.Background(), "vertex", nil, nil, 0, nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestRunCanceled(t *testing.T) {
	m, err := NewMapper("local", Local{}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Run(ctx, "missing.csv", "final.csv")
	assert.ErrorIs(t, err, common.ErrCanceled)
}
