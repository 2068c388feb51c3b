package generic

import (
	"bytes"
	"testing"
)

func TestReferenceString(t *testing.T) {
	ref := Reference{ObjectNumber: 12, GenerationNumber: 0}
	if ref.String() != "12 0 R" {
		t.Errorf("unexpected reference string: %s", ref.String())
	}
}

func TestIndirectObjectGetReference(t *testing.T) {
	obj := &IndirectObject{ObjectNumber: 5, GenerationNumber: 2, Object: NullObject{}}
	ref := obj.GetReference()
	if ref.ObjectNumber != 5 || ref.GenerationNumber != 2 {
		t.Errorf("unexpected reference: %v", ref)
	}
}

func TestStringObjectText(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
		want  string
	}{
		{"plain", []byte("Signature1"), "Signature1"},
		{"empty", nil, ""},
		{"utf16be", []byte{0xFE, 0xFF, 0x00, 'H', 0x00, 'i'}, "Hi"},
		{"utf16be non-ascii", []byte{0xFE, 0xFF, 0x00, 0xE5}, "å"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &StringObject{Value: tt.value}
			if got := s.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArrayObjectGet(t *testing.T) {
	arr := ArrayObject{IntegerObject(1), NameObject("Two")}

	if got := arr.Get(1); got != NameObject("Two") {
		t.Errorf("unexpected item: %v", got)
	}
	if arr.Get(-1) != nil || arr.Get(2) != nil {
		t.Error("out-of-range access should return nil")
	}
}

func TestDictionaryObject(t *testing.T) {
	d := NewDictionary()
	d.Set("Type", NameObject("Sig"))
	d.Set("Size", IntegerObject(7))
	d.Set("Kids", ArrayObject{Reference{ObjectNumber: 3}})
	d.Set("Parent", NewDictionary())
	d.Set("Type", NameObject("Sig")) // overwrite keeps a single key

	if d.Len() != 4 {
		t.Errorf("unexpected length: %d", d.Len())
	}
	if d.GetName("Type") != "Sig" {
		t.Errorf("unexpected name: %s", d.GetName("Type"))
	}
	if size, ok := d.GetInt("Size"); !ok || size != 7 {
		t.Errorf("unexpected size: %d, %v", size, ok)
	}
	if kids := d.GetArray("Kids"); len(kids) != 1 {
		t.Errorf("unexpected kids: %v", kids)
	}
	if d.GetDict("Parent") == nil {
		t.Error("expected parent dictionary")
	}
	if !d.Has("Size") || d.Has("Missing") {
		t.Error("Has() mismatch")
	}
	if d.GetName("Size") != "" {
		t.Error("GetName on non-name should return empty string")
	}
	if _, ok := d.GetInt("Type"); ok {
		t.Error("GetInt on non-integer should report absence")
	}

	wantOrder := []string{"Type", "Size", "Kids", "Parent"}
	keys := d.Keys()
	if len(keys) != len(wantOrder) {
		t.Fatalf("unexpected keys: %v", keys)
	}
	for i, key := range wantOrder {
		if keys[i] != key {
			t.Errorf("key %d = %s, want %s", i, keys[i], key)
		}
	}
}

func TestStreamObject(t *testing.T) {
	raw := []byte{0x78, 0x9c, 0x01}
	stream := &StreamObject{Dictionary: NewDictionary(), Data: raw}

	if !bytes.Equal(stream.GetDecodedData(), raw) {
		t.Error("undecoded stream should fall back to raw data")
	}

	stream.Decoded = []byte("hello")
	if string(stream.GetDecodedData()) != "hello" {
		t.Error("decoded data should take precedence")
	}

	fresh := NewStream(nil, []byte("abc"))
	if fresh.Dictionary == nil || string(fresh.GetDecodedData()) != "abc" {
		t.Error("NewStream should initialize dictionary and data")
	}
}

func TestTrailerDictionary(t *testing.T) {
	trailer := NewTrailer()
	trailer.Set("Root", Reference{ObjectNumber: 1})
	trailer.Set("Size", IntegerObject(10))
	trailer.Set("Prev", IntegerObject(4096))

	root := trailer.GetRoot()
	if root == nil || root.ObjectNumber != 1 {
		t.Errorf("unexpected root: %v", root)
	}
	if trailer.GetSize() != 10 {
		t.Errorf("unexpected size: %d", trailer.GetSize())
	}
	if prev, ok := trailer.GetPrev(); !ok || prev != 4096 {
		t.Errorf("unexpected prev: %d, %v", prev, ok)
	}

	empty := NewTrailer()
	if empty.GetRoot() != nil {
		t.Error("empty trailer should have no root")
	}
	if empty.GetSize() != 0 {
		t.Error("empty trailer should report size 0")
	}
	if _, ok := empty.GetPrev(); ok {
		t.Error("empty trailer should have no prev")
	}
}
