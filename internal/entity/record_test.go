package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowKeepsKeyOrder(t *testing.T) {
	var rows []Row
	err := json.Unmarshal([]byte(`[{"Nom":"Dupont","Prénom":"Jean","Montant":12.5,"Note":null,"Extra":{"a":1}}]`), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, []string{"Nom", "Prénom", "Montant", "Note", "Extra"}, rows[0].Keys())
	v, ok := rows[0].Get("Montant")
	assert.True(t, ok)
	assert.Equal(t, "12.5", v)
	v, _ = rows[0].Get("Note")
	assert.Equal(t, "", v)
	v, _ = rows[0].Get("Extra")
	assert.Equal(t, `{"a":1}`, v)

	out, err := json.Marshal(rows[0])
	require.NoError(t, err)
	assert.Equal(t, `{"Nom":"Dupont","Prénom":"Jean","Montant":"12.5","Note":"","Extra":"{\"a\":1}"}`, string(out))
}

func TestRowRejectsNonObject(t *testing.T) {
	var r Row
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &r))
}

func TestPageRecordVariants(t *testing.T) {
	p := ErrorPlaceholder(2, "ocr: timeout")
	assert.True(t, p.IsPlaceholder())
	assert.NotNil(t, p.Rows)

	v := ValidRecord(1, nil)
	assert.False(t, v.IsPlaceholder())
	assert.Equal(t, []Row{}, v.Rows)

	assert.True(t, Row{{Name: "a"}}.Empty())
	assert.NotEqual(t, Row{{"a", "b"}}.Key(), Row{{"a", "c"}}.Key())
}
