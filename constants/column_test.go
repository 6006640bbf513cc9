package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldHeader(t *testing.T) {
	assert.Equal(t, "prenom", FoldHeader("  Prénom "))
	assert.Equal(t, "n societaire", FoldHeader("N° Sociétaire"))
	assert.Equal(t, "date d effet", FoldHeader("Date d'effet"))
	assert.Equal(t, "", FoldHeader(" -- "))
}

func TestCanonicalColumn(t *testing.T) {
	cases := map[string]string{
		"Nom":                 "last_name",
		"Prénom":              "first_name",
		"Montant":             "amount",
		"MONTANT TTC (€)":     "amount",
		"N° Sociétaire":       "member_number",
		"Nom Prénom":          "full_name",
		"Date d'effet":        "date",
		"IBAN":                "iban",
		"Titulaire du compte": "account_holder",
		"last_name":           "last_name",
	}
	for in, want := range cases {
		got, ok := CanonicalColumn(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := CanonicalColumn("Observations diverses")
	assert.False(t, ok)
}

func TestCanonicalColumnDeterministic(t *testing.T) {
	for i := 0; i < 20; i++ {
		got, ok := CanonicalColumn("Date du montant")
		require.True(t, ok)
		// "montant" is longer than "date"
		assert.Equal(t, "amount", got)
	}
}

func TestLookupColumn(t *testing.T) {
	c, ok := LookupColumn("amount")
	require.True(t, ok)
	assert.Equal(t, KindAmount, c.Kind)
	assert.Less(t, ColumnPosition("last_name"), ColumnPosition("first_name"))
	assert.Less(t, ColumnPosition("first_name"), ColumnPosition("amount"))
	assert.Equal(t, -1, ColumnPosition("nope"))
}
