// Package pdfsig validates signed PDF documents: CMS signature
// verification over the declared byte ranges, document timestamps, and
// validation through Signature Validation Tokens carried in timestamp
// extensions.
package pdfsig

import (
	"strings"
	"sync"
	"time"

	"github.com/swedenconnect/sig-validation-base/cms"
	"github.com/swedenconnect/sig-validation-base/pdf/generic"
	"github.com/swedenconnect/sig-validation-base/pdf/reader"
	"github.com/swedenconnect/sig-validation-base/timestamp"
)

// SubFilter values of the signature dictionaries this package handles.
const (
	SubFilterPKCS7Detached = "adbe.pkcs7.detached"
	SubFilterCAdES         = "ETSI.CAdES.detached"
	SubFilterRFC3161       = "ETSI.RFC3161"
)

// SignatureKind classifies an embedded signature dictionary.
type SignatureKind int

const (
	// KindSignature is an approval or certification signature.
	KindSignature SignatureKind = iota

	// KindDocTimeStamp is an RFC 3161 document timestamp.
	KindDocTimeStamp

	// KindSVTDocTimeStamp is a document timestamp carrying a Signature
	// Validation Token.
	KindSVTDocTimeStamp
)

// DocumentSignature is one signature dictionary found in a document.
type DocumentSignature struct {
	// Embedded is the underlying signature object.
	Embedded *reader.EmbeddedSignature

	// Kind classifies the dictionary.
	Kind SignatureKind

	// Name is the signature field name, when present.
	Name string

	// SubFilter is the declared signature encoding.
	SubFilter string

	// CoversDocument is true when the trailing byte range region reaches
	// the end of the file.
	CoversDocument bool

	// ClaimedSigningTime is the unverified time from the dictionary's M
	// entry.
	ClaimedSigningTime time.Time

	// Token is the parsed timestamp token of a document timestamp.
	Token *timestamp.Token

	// SVT is the token JWT carried by an SVT document timestamp.
	SVT string

	cmsOnce sync.Once
	cmsData *cms.SignedData
	cmsErr  error
}

// SignedData returns the bytes the signature covers, per its byte range.
func (s *DocumentSignature) SignedData() []byte {
	return s.Embedded.GetSignedData()
}

// CMSData returns the DER signature container from the Contents entry.
func (s *DocumentSignature) CMSData() []byte {
	return s.Embedded.Contents
}

// ParseCMS parses the signature container once and caches the outcome.
func (s *DocumentSignature) ParseCMS() (*cms.SignedData, error) {
	s.cmsOnce.Do(func() {
		s.cmsData, s.cmsErr = cms.Parse(s.Embedded.Contents)
	})
	return s.cmsData, s.cmsErr
}

// Document is a parsed PDF with its signature dictionaries classified.
type Document struct {
	reader *reader.PdfFileReader

	// Signatures holds the approval signatures, in document order.
	Signatures []*DocumentSignature

	// Timestamps holds the document timestamps, including the SVT
	// carriers.
	Timestamps []*DocumentSignature
}

// Reader returns the underlying PDF reader.
func (d *Document) Reader() *reader.PdfFileReader {
	return d.reader
}

// ParseDocument parses a PDF and classifies its signature dictionaries.
func ParseDocument(data []byte) (*Document, error) {
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return nil, err
	}
	embedded, err := r.GetEmbeddedSignatures()
	if err != nil {
		return nil, err
	}

	doc := &Document{reader: r}
	size := int64(len(r.Data()))
	for _, emb := range embedded {
		sig := &DocumentSignature{
			Embedded:       emb,
			Name:           fieldName(emb),
			SubFilter:      emb.GetSubFilter(),
			CoversDocument: emb.ByteRange[2]+emb.ByteRange[3] == size,
		}
		if t, ok := parsePDFDate(emb.GetSigningTime()); ok {
			sig.ClaimedSigningTime = t
		}

		if isDocTimeStamp(emb) {
			sig.Kind = KindDocTimeStamp
			if token, err := timestamp.Parse(emb.Contents); err == nil {
				sig.Token = token
				if raw, ok := token.SVT(); ok {
					sig.Kind = KindSVTDocTimeStamp
					sig.SVT = raw
				}
			}
			doc.Timestamps = append(doc.Timestamps, sig)
			continue
		}
		doc.Signatures = append(doc.Signatures, sig)
	}
	return doc, nil
}

// isDocTimeStamp reports whether the dictionary is a document timestamp.
func isDocTimeStamp(emb *reader.EmbeddedSignature) bool {
	if emb.Dictionary.GetName("Type") == "DocTimeStamp" {
		return true
	}
	return emb.GetSubFilter() == SubFilterRFC3161
}

// fieldName returns the T entry of the signature field.
func fieldName(emb *reader.EmbeddedSignature) string {
	if emb.Field == nil {
		return ""
	}
	if str, ok := emb.Field.Get("T").(*generic.StringObject); ok {
		return str.Text()
	}
	return ""
}

// parsePDFDate parses a PDF date entry (D:YYYYMMDDHHmmSS with an optional
// zone suffix).
func parsePDFDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "D:")
	if s == "" {
		return time.Time{}, false
	}
	s = strings.ReplaceAll(s, "'", "")

	layouts := []string{
		"20060102150405Z0700",
		"20060102150405-0700",
		"20060102150405",
		"200601021504",
		"2006010215",
		"20060102",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
