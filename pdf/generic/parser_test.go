package generic

import (
	"bytes"
	"errors"
	"testing"
)

func parseOne(t *testing.T, input string) PdfObject {
	t.Helper()
	obj, err := NewParserFromBytes([]byte(input)).ParseObject()
	if err != nil {
		t.Fatalf("ParseObject(%q) failed: %v", input, err)
	}
	return obj
}

func TestParseScalars(t *testing.T) {
	tests := []struct {
		input string
		want  PdfObject
	}{
		{"null", NullObject{}},
		{"true", BooleanObject(true)},
		{"false", BooleanObject(false)},
		{"0", IntegerObject(0)},
		{"42", IntegerObject(42)},
		{"-123", IntegerObject(-123)},
		{"+456", IntegerObject(456)},
		{"3.14", RealObject(3.14)},
		{"-2.5", RealObject(-2.5)},
		{".5", RealObject(0.5)},
		{"/Type", NameObject("Type")},
		{"/Name#20With#20Spaces", NameObject("Name With Spaces")},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseOne(t, tt.input); got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseLiteralString(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"(Hello)", "Hello"},
		{"(Hello World)", "Hello World"},
		{`(Line1\nLine2)`, "Line1\nLine2"},
		{`(Escaped \(parens\))`, "Escaped (parens)"},
		{"(Nested (string))", "Nested (string)"},
		{`(\101\102\103)`, "ABC"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s, ok := parseOne(t, tt.input).(*StringObject)
			if !ok {
				t.Fatal("expected StringObject")
			}
			if string(s.Value) != tt.want {
				t.Errorf("got %q, want %q", s.Value, tt.want)
			}
		})
	}
}

func TestParseUnterminatedString(t *testing.T) {
	_, err := NewParserFromBytes([]byte("(no closing paren")).ParseObject()
	if !errors.Is(err, ErrInvalidString) {
		t.Errorf("expected string error, got %v", err)
	}
}

func TestParseHexString(t *testing.T) {
	tests := []struct {
		input string
		want  []byte
	}{
		{"<48656C6C6F>", []byte("Hello")},
		{"<DE AD BE EF>", []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{"<ABC>", []byte{0xAB, 0xC0}}, // odd length gets a trailing zero
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s, ok := parseOne(t, tt.input).(*StringObject)
			if !ok || !s.IsHex {
				t.Fatal("expected hex StringObject")
			}
			if !bytes.Equal(s.Value, tt.want) {
				t.Errorf("got %v, want %v", s.Value, tt.want)
			}
		})
	}
}

func TestParseArray(t *testing.T) {
	arr, ok := parseOne(t, "[1 2 3 /Name (String) [4 5]]").(ArrayObject)
	if !ok {
		t.Fatal("expected ArrayObject")
	}
	if len(arr) != 6 {
		t.Fatalf("expected 6 elements, got %d", len(arr))
	}
	if arr[0] != IntegerObject(1) {
		t.Errorf("unexpected element 0: %v", arr[0])
	}
	if arr[3] != NameObject("Name") {
		t.Errorf("unexpected element 3: %v", arr[3])
	}
	if inner, ok := arr[5].(ArrayObject); !ok || len(inner) != 2 {
		t.Errorf("unexpected nested array: %v", arr[5])
	}
}

func TestParseDictionary(t *testing.T) {
	input := `<<
		/Type /Catalog
		/Pages 2 0 R
		/Count 5
		/Names << /Dests 3 0 R >>
		/MediaBox [0 0 612 792]
	>>`

	dict, ok := parseOne(t, input).(*DictionaryObject)
	if !ok {
		t.Fatal("expected DictionaryObject")
	}

	if dict.GetName("Type") != "Catalog" {
		t.Errorf("unexpected Type: %s", dict.GetName("Type"))
	}
	if ref, ok := dict.Get("Pages").(Reference); !ok || ref.ObjectNumber != 2 {
		t.Errorf("unexpected Pages: %v", dict.Get("Pages"))
	}
	if count, ok := dict.GetInt("Count"); !ok || count != 5 {
		t.Errorf("unexpected Count: %d", count)
	}
	if dict.GetDict("Names") == nil {
		t.Error("expected nested Names dictionary")
	}
	if box := dict.GetArray("MediaBox"); len(box) != 4 {
		t.Errorf("unexpected MediaBox: %v", box)
	}
}

func TestParseObjectOrReference(t *testing.T) {
	t.Run("reference", func(t *testing.T) {
		obj, err := NewParserFromBytes([]byte("10 0 R")).ParseObjectOrReference()
		if err != nil {
			t.Fatal(err)
		}
		ref, ok := obj.(Reference)
		if !ok || ref.ObjectNumber != 10 || ref.GenerationNumber != 0 {
			t.Errorf("unexpected reference: %v", obj)
		}
	})

	t.Run("bare number", func(t *testing.T) {
		obj, err := NewParserFromBytes([]byte("10")).ParseObjectOrReference()
		if err != nil {
			t.Fatal(err)
		}
		if obj != IntegerObject(10) {
			t.Errorf("unexpected object: %v", obj)
		}
	})

	t.Run("two numbers without R", func(t *testing.T) {
		p := NewParserFromBytes([]byte("10 20 30"))
		obj, err := p.ParseObjectOrReference()
		if err != nil {
			t.Fatal(err)
		}
		if obj != IntegerObject(10) {
			t.Errorf("expected first number back, got %v", obj)
		}
	})
}

func TestParseIndirectObject(t *testing.T) {
	obj, err := NewParserFromBytes([]byte("5 0 obj\n42\nendobj")).ParseIndirectObject()
	if err != nil {
		t.Fatalf("ParseIndirectObject failed: %v", err)
	}

	if obj.ObjectNumber != 5 || obj.GenerationNumber != 0 {
		t.Errorf("unexpected numbering: %d %d", obj.ObjectNumber, obj.GenerationNumber)
	}
	if obj.Object != IntegerObject(42) {
		t.Errorf("unexpected object: %v", obj.Object)
	}
}

func TestParseIndirectStream(t *testing.T) {
	input := "1 0 obj\n<< /Length 5 >>\nstream\nHello\nendstream\nendobj"
	obj, err := NewParserFromBytes([]byte(input)).ParseIndirectObject()
	if err != nil {
		t.Fatalf("ParseIndirectObject failed: %v", err)
	}

	stream, ok := obj.Object.(*StreamObject)
	if !ok {
		t.Fatal("expected StreamObject")
	}
	if string(stream.Data) != "Hello" {
		t.Errorf("unexpected stream data: %q", stream.Data)
	}
}

func TestParseStreamLengthBeyondData(t *testing.T) {
	input := "1 0 obj\n<< /Length 9999 >>\nstream\nHi"
	obj, err := NewParserFromBytes([]byte(input)).ParseIndirectObject()
	if err != nil {
		t.Fatalf("ParseIndirectObject failed: %v", err)
	}

	stream, ok := obj.Object.(*StreamObject)
	if !ok {
		t.Fatal("expected StreamObject")
	}
	if string(stream.Data) != "Hi" {
		t.Errorf("length should clamp to available data, got %q", stream.Data)
	}
}

func TestParseWhitespaceAndComments(t *testing.T) {
	input := "\n% leading comment\n42 % trailing comment\n"
	if got := parseOne(t, input); got != IntegerObject(42) {
		t.Errorf("unexpected object: %v", got)
	}
}

func TestParseInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"garbage", "}", ErrInvalidObject},
		{"bad boolean", "trve", ErrInvalidObject},
		{"lone sign", "-", ErrInvalidNumber},
		{"bad name escape", "/Bad#GG", ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParserFromBytes([]byte(tt.input)).ParseObject()
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}
