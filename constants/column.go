package constants

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ColumnKind drives value coercion during normalization.
type ColumnKind string

const (
	KindText   ColumnKind = "text"
	KindDate   ColumnKind = "date"
	KindAmount ColumnKind = "amount"
	KindCode   ColumnKind = "code"
)

// Column is one entry of the canonical schema.
type Column struct {
	Name     string
	Kind     ColumnKind
	Synonyms []string
}

// Meta columns carried from the extracted CSV through every later artifact.
const (
	ColPage         = "page"
	ColRecordStatus = "record_status"
	ColRecordError  = "record_error"
	ColID           = "id"
)

// MetaColumns lists the bookkeeping columns in output order.
var MetaColumns = []string{ColPage, ColRecordStatus, ColRecordError}

// IdentityColumns identify one bank-details record. Rows of a document that
// agree on them are the same record printed again.
var IdentityColumns = []string{"iban", "bic", "account_holder", "bank_code", "bank_name"}

// Record status values.
const (
	RecordOK    = "ok"
	RecordError = "error"
)

// CanonicalColumns is the ordered canonical schema. Normalized output lists
// recognized columns in this order.
var CanonicalColumns = []Column{
	{Name: "last_name", Kind: KindText, Synonyms: []string{"nom", "nom de famille", "last name", "lastname", "surname", "family name"}},
	{Name: "first_name", Kind: KindText, Synonyms: []string{"prenom", "first name", "firstname", "given name"}},
	{Name: "full_name", Kind: KindText, Synonyms: []string{"nom prenom", "nom et prenom", "nom complet", "full name", "name", "nom societaire", "societaire", "assure", "beneficiaire"}},
	{Name: "member_number", Kind: KindCode, Synonyms: []string{"n societaire", "no societaire", "numero societaire", "numero de societaire", "member number", "code client", "id client", "client id", "numero client"}},
	{Name: "contract_number", Kind: KindCode, Synonyms: []string{"n contrat", "no contrat", "numero contrat", "numero de contrat", "contrat", "contract", "contract number", "police", "numero de police", "policy number"}},
	{Name: "date", Kind: KindDate, Synonyms: []string{"date", "date effet", "date d effet", "date operation", "date de l operation", "echeance", "date echeance", "date valeur"}},
	{Name: "amount", Kind: KindAmount, Synonyms: []string{"montant", "montant ttc", "montant ht", "amount", "total", "somme", "prime", "debit", "credit"}},
	{Name: "currency", Kind: KindCode, Synonyms: []string{"devise", "currency", "monnaie"}},
	{Name: "iban", Kind: KindCode, Synonyms: []string{"iban", "code iban", "numero iban"}},
	{Name: "bic", Kind: KindCode, Synonyms: []string{"bic", "swift", "code bic", "bic swift"}},
	{Name: "account_holder", Kind: KindText, Synonyms: []string{"titulaire", "titulaire du compte", "account holder", "holder"}},
	{Name: "bank_code", Kind: KindCode, Synonyms: []string{"code banque", "cdbanque", "cd banque", "bank code"}},
	{Name: "bank_name", Kind: KindText, Synonyms: []string{"banque", "nom banque", "nombanque", "nom de la banque", "domiciliation", "bank", "bank name"}},
	{Name: "direction", Kind: KindText, Synonyms: []string{"sens", "direction"}},
	{Name: "label", Kind: KindText, Synonyms: []string{"libelle", "description", "label", "designation", "objet"}},
}

var (
	columnIndex  = map[string]int{}
	synonymIndex = map[string]int{}
)

func init() {
	for i, c := range CanonicalColumns {
		columnIndex[c.Name] = i
		synonymIndex[FoldHeader(c.Name)] = i
		for _, s := range c.Synonyms {
			if _, dup := synonymIndex[s]; !dup {
				synonymIndex[s] = i
			}
		}
	}
}

// CanonicalNames returns the canonical column names in schema order.
func CanonicalNames() []string {
	out := make([]string, len(CanonicalColumns))
	for i, c := range CanonicalColumns {
		out[i] = c.Name
	}
	return out
}

// LookupColumn returns the canonical column named name.
func LookupColumn(name string) (Column, bool) {
	i, ok := columnIndex[name]
	if !ok {
		return Column{}, false
	}
	return CanonicalColumns[i], true
}

// ColumnPosition is the schema order of a canonical column.
func ColumnPosition(name string) int {
	if i, ok := columnIndex[name]; ok {
		return i
	}
	return -1
}

// IsMetaColumn reports whether name is a bookkeeping column.
func IsMetaColumn(name string) bool {
	for _, m := range MetaColumns {
		if m == name {
			return true
		}
	}
	return false
}

// CanonicalColumn maps a raw header to a canonical column name. An exact
// synonym match wins; otherwise the longest synonym appearing as a whole-word
// run inside the header is used, ties going to the earlier schema column.
func CanonicalColumn(header string) (string, bool) {
	folded := FoldHeader(header)
	if folded == "" {
		return "", false
	}
	if i, ok := synonymIndex[folded]; ok {
		return CanonicalColumns[i].Name, true
	}

	padded := " " + folded + " "
	best, bestLen := -1, 0
	for syn, i := range synonymIndex {
		if len(syn) < 3 || !strings.Contains(padded, " "+syn+" ") {
			continue
		}
		if len(syn) > bestLen || (len(syn) == bestLen && i < best) {
			best, bestLen = i, len(syn)
		}
	}
	if best < 0 {
		return "", false
	}
	return CanonicalColumns[best].Name, true
}

// FoldHeader lowercases, strips accents and collapses punctuation to single
// spaces.
func FoldHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}
