package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// PageText is the OCR output of one page. Pages are 1-indexed.
type PageText struct {
	Page    int    `json:"page"`
	Text    string `json:"text"`
	Err     string `json:"error,omitempty"`
	ErrKind string `json:"error_kind,omitempty"`
	Cached  bool   `json:"-"`
}

// Failed reports whether OCR failed for the page.
func (p PageText) Failed() bool { return p.Err != "" }

// RecordKind tags a PageRecord variant.
type RecordKind string

const (
	RecordValid RecordKind = "valid"
	RecordError RecordKind = "error"
)

// Field is one key/value pair of a row.
type Field struct {
	Name  string
	Value string
}

// Row is an ordered set of fields. Key order from the model response is kept
// so flattened CSV columns come out in first-seen order.
type Row []Field

// Get returns the value of name.
func (r Row) Get(name string) (string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Keys returns the field names in order.
func (r Row) Keys() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = f.Name
	}
	return out
}

// Empty reports whether every value is blank.
func (r Row) Empty() bool {
	for _, f := range r {
		if f.Value != "" {
			return false
		}
	}
	return true
}

// Key is a stable identity used for in-page deduplication.
func (r Row) Key() string {
	var b bytes.Buffer
	for _, f := range r {
		b.WriteString(strconv.Quote(f.Name))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(f.Value))
		b.WriteByte(';')
	}
	return b.String()
}

func (r Row) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON reads a flat object keeping key order. Scalars are rendered
// as strings, null becomes "", nested values are kept as compact JSON.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("row: expected object, got %v", tok)
	}
	out := Row{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		val, err := ScalarString(raw)
		if err != nil {
			return fmt.Errorf("row field %q: %w", key, err)
		}
		out = append(out, Field{Name: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

// ScalarString renders a raw JSON value as a cell string.
func ScalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	return string(raw), nil
}

// PageRecord is the structuring result of one page: either valid rows or an
// error placeholder carrying the reason.
type PageRecord struct {
	Page   int        `json:"page"`
	Kind   RecordKind `json:"kind"`
	Rows   []Row      `json:"rows"`
	Reason string     `json:"reason,omitempty"`
}

// ValidRecord builds the valid variant.
func ValidRecord(page int, rows []Row) PageRecord {
	if rows == nil {
		rows = []Row{}
	}
	return PageRecord{Page: page, Kind: RecordValid, Rows: rows}
}

// ErrorPlaceholder builds the error variant.
func ErrorPlaceholder(page int, reason string) PageRecord {
	return PageRecord{Page: page, Kind: RecordError, Rows: []Row{}, Reason: reason}
}

// IsPlaceholder reports whether the record is the error variant.
func (p PageRecord) IsPlaceholder() bool { return p.Kind == RecordError }
