package reader

import (
	"fmt"

	"github.com/swedenconnect/sig-validation-base/pdf/generic"
)

// EmbeddedSignature is one signature found in a document: the form field
// it hangs off, the signature dictionary, and the byte range the CMS blob
// in Contents covers.
type EmbeddedSignature struct {
	Field      *generic.DictionaryObject
	Dictionary *generic.DictionaryObject
	ByteRange  [4]int64
	Contents   []byte
	Reader     *PdfFileReader
}

// GetSignatureFields returns all signature fields in the document,
// including those nested one level down in Kids.
func (r *PdfFileReader) GetSignatureFields() ([]*generic.DictionaryObject, error) {
	var sigFields []*generic.DictionaryObject

	if r.AcroForm == nil {
		return sigFields, nil
	}

	for _, fieldRef := range r.AcroForm.GetArray("Fields") {
		field, err := r.resolveField(fieldRef)
		if err != nil {
			continue
		}

		if field.GetName("FT") == "Sig" {
			sigFields = append(sigFields, field)
		}

		for _, kidRef := range field.GetArray("Kids") {
			kid, err := r.resolveField(kidRef)
			if err != nil {
				continue
			}
			if kid.GetName("FT") == "Sig" {
				sigFields = append(sigFields, kid)
			}
		}
	}

	return sigFields, nil
}

func (r *PdfFileReader) resolveField(obj generic.PdfObject) (*generic.DictionaryObject, error) {
	resolved, err := r.ResolveReference(obj)
	if err != nil {
		return nil, err
	}
	dict, ok := resolved.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("field is not a dictionary")
	}
	return dict, nil
}

// GetEmbeddedSignatures returns the embedded signatures in the document.
// Fields without a signature value are skipped.
func (r *PdfFileReader) GetEmbeddedSignatures() ([]*EmbeddedSignature, error) {
	sigFields, err := r.GetSignatureFields()
	if err != nil {
		return nil, err
	}

	var sigs []*EmbeddedSignature
	for _, field := range sigFields {
		vRef, ok := field.Get("V").(generic.Reference)
		if !ok {
			continue
		}
		vObj, err := r.GetObject(vRef.ObjectNumber)
		if err != nil {
			continue
		}
		sigDict, ok := vObj.(*generic.DictionaryObject)
		if !ok {
			continue
		}

		sig := &EmbeddedSignature{
			Field:      field,
			Dictionary: sigDict,
			Reader:     r,
		}

		if byteRange := sigDict.GetArray("ByteRange"); len(byteRange) == 4 {
			for i, v := range byteRange {
				if iv, ok := v.(generic.IntegerObject); ok {
					sig.ByteRange[i] = int64(iv)
				}
			}
		}

		if str, ok := sigDict.Get("Contents").(*generic.StringObject); ok {
			sig.Contents = str.Value
		}

		sigs = append(sigs, sig)
	}

	return sigs, nil
}

// GetSignedData returns the bytes covered by the signature: the two byte
// ranges concatenated. Returns nil when the ranges fall outside the file.
func (e *EmbeddedSignature) GetSignedData() []byte {
	data := e.Reader.data
	offset1, len1 := e.ByteRange[0], e.ByteRange[1]
	offset2, len2 := e.ByteRange[2], e.ByteRange[3]

	if offset1 < 0 || len1 < 0 || offset2 < 0 || len2 < 0 ||
		offset1+len1 > int64(len(data)) || offset2+len2 > int64(len(data)) {
		return nil
	}

	result := make([]byte, len1+len2)
	copy(result[:len1], data[offset1:offset1+len1])
	copy(result[len1:], data[offset2:offset2+len2])
	return result
}

// GetSubFilter returns the signature sub-filter name.
func (e *EmbeddedSignature) GetSubFilter() string {
	return e.Dictionary.GetName("SubFilter")
}

// GetSigningTime returns the claimed signing time (M entry) as the raw
// PDF date string.
func (e *EmbeddedSignature) GetSigningTime() string {
	if str, ok := e.Dictionary.Get("M").(*generic.StringObject); ok {
		return str.Text()
	}
	return ""
}
