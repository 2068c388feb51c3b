// Package generic provides the PDF object model and parser used when
// reading documents.
package generic

import (
	"fmt"
	"strings"
)

// PdfObject is the common interface of every parsed PDF object.
type PdfObject interface {
	pdfObject()
}

// Reference represents an indirect reference to a PDF object.
type Reference struct {
	ObjectNumber     int
	GenerationNumber int
}

func (Reference) pdfObject() {}

// String returns the reference in PDF syntax.
func (r Reference) String() string {
	return fmt.Sprintf("%d %d R", r.ObjectNumber, r.GenerationNumber)
}

// IndirectObject wraps a PDF object with its object and generation numbers.
type IndirectObject struct {
	ObjectNumber     int
	GenerationNumber int
	Object           PdfObject
}

func (*IndirectObject) pdfObject() {}

// GetReference returns a reference to this indirect object.
func (i *IndirectObject) GetReference() Reference {
	return Reference{ObjectNumber: i.ObjectNumber, GenerationNumber: i.GenerationNumber}
}

// NullObject represents the PDF null value.
type NullObject struct{}

func (NullObject) pdfObject() {}

// BooleanObject represents a PDF boolean value.
type BooleanObject bool

func (BooleanObject) pdfObject() {}

// IntegerObject represents a PDF integer value.
type IntegerObject int64

func (IntegerObject) pdfObject() {}

// RealObject represents a PDF real (floating point) value.
type RealObject float64

func (RealObject) pdfObject() {}

// NameObject represents a PDF name object (e.g., /Type).
type NameObject string

func (NameObject) pdfObject() {}

// String returns the name without the leading slash.
func (n NameObject) String() string {
	return string(n)
}

// StringObject represents a PDF string object. Value holds the raw bytes;
// for hex strings these are the decoded bytes.
type StringObject struct {
	Value []byte
	IsHex bool
}

func (*StringObject) pdfObject() {}

// Text returns the string value decoded as text.
func (s *StringObject) Text() string {
	if len(s.Value) >= 2 && s.Value[0] == 0xFE && s.Value[1] == 0xFF {
		// UTF-16BE
		var result strings.Builder
		for i := 2; i+1 < len(s.Value); i += 2 {
			result.WriteRune(rune(s.Value[i])<<8 | rune(s.Value[i+1]))
		}
		return result.String()
	}
	return string(s.Value)
}

// ArrayObject represents a PDF array.
type ArrayObject []PdfObject

func (ArrayObject) pdfObject() {}

// Get returns the item at the given index, or nil when out of range.
func (a ArrayObject) Get(index int) PdfObject {
	if index < 0 || index >= len(a) {
		return nil
	}
	return a[index]
}

// DictionaryObject represents a PDF dictionary.
type DictionaryObject struct {
	entries map[string]PdfObject
	order   []string // Preserve insertion order
}

func (*DictionaryObject) pdfObject() {}

// NewDictionary creates a new dictionary.
func NewDictionary() *DictionaryObject {
	return &DictionaryObject{
		entries: make(map[string]PdfObject),
		order:   make([]string, 0),
	}
}

// Set sets a key-value pair.
func (d *DictionaryObject) Set(key string, value PdfObject) {
	if _, exists := d.entries[key]; !exists {
		d.order = append(d.order, key)
	}
	d.entries[key] = value
}

// Get returns the value for a key.
func (d *DictionaryObject) Get(key string) PdfObject {
	return d.entries[key]
}

// GetName returns a name value.
func (d *DictionaryObject) GetName(key string) string {
	if val := d.Get(key); val != nil {
		if name, ok := val.(NameObject); ok {
			return string(name)
		}
	}
	return ""
}

// GetInt returns an integer value.
func (d *DictionaryObject) GetInt(key string) (int64, bool) {
	if val := d.Get(key); val != nil {
		if i, ok := val.(IntegerObject); ok {
			return int64(i), true
		}
	}
	return 0, false
}

// GetArray returns an array value.
func (d *DictionaryObject) GetArray(key string) ArrayObject {
	if val := d.Get(key); val != nil {
		if arr, ok := val.(ArrayObject); ok {
			return arr
		}
	}
	return nil
}

// GetDict returns a dictionary value.
func (d *DictionaryObject) GetDict(key string) *DictionaryObject {
	if val := d.Get(key); val != nil {
		if dict, ok := val.(*DictionaryObject); ok {
			return dict
		}
	}
	return nil
}

// Has returns true if the key exists.
func (d *DictionaryObject) Has(key string) bool {
	_, exists := d.entries[key]
	return exists
}

// Keys returns all keys in insertion order.
func (d *DictionaryObject) Keys() []string {
	return d.order
}

// Len returns the number of entries.
func (d *DictionaryObject) Len() int {
	return len(d.entries)
}

// StreamObject represents a PDF stream.
type StreamObject struct {
	Dictionary *DictionaryObject
	Data       []byte
	// Decoded contains the decoded (unfiltered) data
	Decoded []byte
}

func (*StreamObject) pdfObject() {}

// NewStream creates a new stream.
func NewStream(dict *DictionaryObject, data []byte) *StreamObject {
	if dict == nil {
		dict = NewDictionary()
	}
	return &StreamObject{
		Dictionary: dict,
		Data:       data,
		Decoded:    data,
	}
}

// GetDecodedData returns the decoded stream data.
func (s *StreamObject) GetDecodedData() []byte {
	if len(s.Decoded) > 0 {
		return s.Decoded
	}
	return s.Data
}

// TrailerDictionary represents the PDF trailer.
type TrailerDictionary struct {
	*DictionaryObject
}

// NewTrailer creates a new trailer dictionary.
func NewTrailer() *TrailerDictionary {
	return &TrailerDictionary{DictionaryObject: NewDictionary()}
}

// GetRoot returns the document catalog reference.
func (t *TrailerDictionary) GetRoot() *Reference {
	if ref, ok := t.Get("Root").(Reference); ok {
		return &ref
	}
	return nil
}

// GetSize returns the size (total number of objects).
func (t *TrailerDictionary) GetSize() int64 {
	if size, ok := t.GetInt("Size"); ok {
		return size
	}
	return 0
}

// GetPrev returns the previous xref offset.
func (t *TrailerDictionary) GetPrev() (int64, bool) {
	return t.GetInt("Prev")
}
