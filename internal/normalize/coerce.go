package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joseph-ayodele/scan2csv/constants"
)

var (
	dayFirst  = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4}|\d{2})$`)
	yearFirst = regexp.MustCompile(`^(\d{4})[/.\-](\d{1,2})[/.\-](\d{1,2})$`)
	amountRe  = regexp.MustCompile(`^\d[\d.,]*$`)
)

// Coerce converts v to the canonical format of kind. Blank values are
// accepted as-is. When v cannot be parsed it is returned unchanged with
// ok=false.
func Coerce(kind constants.ColumnKind, v string) (string, bool) {
	t := CleanText(v)
	if t == "" {
		return "", true
	}
	switch kind {
	case constants.KindDate:
		if d, ok := ParseDate(t); ok {
			return d, true
		}
		return v, false
	case constants.KindAmount:
		if a, ok := ParseAmount(t); ok {
			return a, true
		}
		return v, false
	case constants.KindCode:
		return Code(t), true
	default:
		return t, true
	}
}

// CleanText trims and collapses inner whitespace.
func CleanText(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// Code upper-cases and strips all whitespace.
func Code(v string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, v))
}

// ParseDate accepts dd/mm/yyyy, dd-mm-yyyy, dd.mm.yyyy, dd/mm/yy and
// yyyy-mm-dd and renders YYYY-MM-DD.
func ParseDate(v string) (string, bool) {
	var y, m, d int
	if g := yearFirst.FindStringSubmatch(v); g != nil {
		y, m, d = atoi(g[1]), atoi(g[2]), atoi(g[3])
	} else if g := dayFirst.FindStringSubmatch(v); g != nil {
		d, m, y = atoi(g[1]), atoi(g[2]), atoi(g[3])
		if len(g[3]) == 2 {
			// same pivot as time.Parse for "06"
			if y >= 69 {
				y += 1900
			} else {
				y += 2000
			}
		}
	} else {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return "", false
	}
	return t.Format(time.DateOnly), true
}

// ParseAmount reads European and English formatted amounts and renders them
// with two decimals and a dot separator.
func ParseAmount(v string) (string, bool) {
	s := strings.ToUpper(v)
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("EUR", "", "€", "", " ", "", "\u00a0", "", "\u202f", "", "'", "").Replace(s)
	switch {
	case strings.HasSuffix(s, "-"):
		neg = !neg
		s = strings.TrimSuffix(s, "-")
	case strings.HasPrefix(s, "-"):
		neg = !neg
		s = strings.TrimPrefix(s, "-")
	case strings.HasPrefix(s, "+"):
		s = strings.TrimPrefix(s, "+")
	}
	if !amountRe.MatchString(s) {
		return "", false
	}

	intPart, frac := splitDecimal(s)
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if strings.ContainsAny(frac, ".,") || intPart == "" {
		return "", false
	}
	// more than two fraction digits would need rounding; keep the raw value
	if len(frac) > 2 {
		return "", false
	}
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	frac += strings.Repeat("0", 2-len(frac))
	if neg && (intPart != "0" || frac != "00") {
		intPart = "-" + intPart
	}
	return intPart + "." + frac, true
}

// splitDecimal picks the decimal separator: with both '.' and ',' present the
// last one wins. A lone separator kind is grouping when it repeats, or when it
// appears once followed by exactly three digits after a non-zero integer part
// ("2.500", "1,234"); otherwise it is the decimal separator.
func splitDecimal(s string) (string, string) {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	sep := -1
	switch {
	case lastDot >= 0 && lastComma >= 0:
		sep = max(lastDot, lastComma)
	case lastComma >= 0 && strings.Count(s, ",") == 1:
		sep = lastComma
	case lastDot >= 0 && strings.Count(s, ".") == 1:
		sep = lastDot
	}
	if sep < 0 {
		return s, ""
	}
	single := lastDot < 0 || lastComma < 0
	if single && len(s)-sep-1 == 3 && strings.Trim(s[:sep], "0") != "" {
		return s, ""
	}
	return s[:sep], s[sep+1:]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
