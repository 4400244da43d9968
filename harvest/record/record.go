// Package record defines the structured rows produced by a harvest run and
// the order-preserving, duplicate-free accumulator they are folded into.
// This is the public contract: persisters, the report step and any external
// consumer import this package to read harvested lists.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Record is one list member as materialised in the remote document.
// Absent fields serialise as JSON null: nil pointers, and an empty ID for
// a row without an identifying link.
type Record struct {
	ID          string
	DisplayName *string
	MediaURI    *string
	Verified    bool
}

// wireRecord is the JSON shape of a Record.
type wireRecord struct {
	ID          *string `json:"username"`
	DisplayName *string `json:"name"`
	MediaURI    *string `json:"profilePic"`
	Verified    bool    `json:"verified"`
}

// MarshalJSON writes r with "username": null when ID is empty. HTML
// characters are kept verbatim.
func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{DisplayName: r.DisplayName, MediaURI: r.MediaURI, Verified: r.Verified}
	if r.ID != "" {
		w.ID = &r.ID
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON reads a null username back as an empty ID.
func (r *Record) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Record{DisplayName: w.DisplayName, MediaURI: w.MediaURI, Verified: w.Verified}
	if w.ID != nil {
		r.ID = *w.ID
	}
	return nil
}

// Key returns the canonical serialisation of r: every field, keys in the
// fixed declaration order. Two records are the same entity iff their keys
// are equal, so a row first seen with an empty display name and later seen
// fully rendered yields two distinct keys.
func (r Record) Key() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings and a bool cannot fail.
	_ = enc.Encode(r)
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// String returns a pointer to s, for building records with present fields.
func String(s string) *string { return &s }

// WriteJSON writes records as an indented JSON array in the given order.
// Non-ASCII and HTML characters are written verbatim. A nil slice is
// written as an empty array.
func WriteJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("record: encode: %w", err)
	}
	return nil
}

// ReadJSON reads a JSON array of records as written by WriteJSON.
func ReadJSON(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("record: decode: %w", err)
	}
	return records, nil
}

// WriteLines writes one compact JSON object per record, newline terminated.
func WriteLines(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("record: encode line: %w", err)
		}
	}
	return nil
}

// ReadLines reads records written by WriteLines, in file order.
func ReadLines(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	var records []Record
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return records, fmt.Errorf("record: decode line %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
