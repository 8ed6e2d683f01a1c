package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is one header→value cell of a spreadsheet row.
type Field struct {
	Header string
	Value  string
}

// Record is one parsed spreadsheet row. Fields keep the column order of the
// source file; token matching depends on it.
type Record []Field

// NewRecord zips a header row with a data row. Missing trailing cells become
// empty strings; surplus cells without a header are dropped.
func NewRecord(headers, values []string) Record {
	rec := make(Record, 0, len(headers))
	for i, h := range headers {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		rec = append(rec, Field{Header: h, Value: v})
	}
	return rec
}

// RecordFromPairs builds a record from header, value, header, value… pairs.
func RecordFromPairs(pairs ...string) Record {
	rec := make(Record, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		rec = append(rec, Field{Header: pairs[i], Value: pairs[i+1]})
	}
	return rec
}

// Get returns the value of the first header equal to h after normalization.
func (r Record) Get(h string) (string, bool) {
	want := NormalizeHeader(h)
	for _, f := range r {
		if NormalizeHeader(f.Header) == want {
			return f.Value, true
		}
	}
	return "", false
}

// MarshalJSON writes the record as a JSON object with keys in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Header)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order. Non-string values are
// kept in their JSON text form so numbers survive unchanged.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record: expected JSON object")
	}
	out := Record{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("record: expected string key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out = append(out, Field{Header: key, Value: rawToString(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}
