// Package timestamp parses and verifies RFC 3161 timestamp tokens used as
// signature time evidence: embedded XML signature timestamps, PDF document
// timestamps, and the document timestamps that carry Signature Validation
// Tokens.
package timestamp

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/swedenconnect/sig-validation-base/cms"
)

// OIDs for timestamp structures.
var (
	// OIDTSTInfo is the encapsulated content type of a timestamp token.
	OIDTSTInfo = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}

	// OIDSVTExtension is the TSTInfo extension carrying a Signature
	// Validation Token JWT inside a document timestamp.
	OIDSVTExtension = asn1.ObjectIdentifier{1, 2, 752, 201, 5, 2}
)

// Common errors.
var (
	ErrNotTimestampToken = errors.New("content is not a timestamp token")
	ErrImprintMismatch   = errors.New("timestamp message imprint mismatch")
)

// MessageImprint is the digest of the time-stamped data.
type MessageImprint struct {
	HashAlgorithm cms.AlgorithmIdentifier
	HashedMessage []byte
}

// Accuracy bounds the deviation of the asserted time.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,implicit,tag:0"`
	Micros  int `asn1:"optional,implicit,tag:1"`
}

// TSTInfo is the timestamp token info (RFC 3161).
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time        `asn1:"generalized"`
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,explicit,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,implicit,tag:1"`
}

// Token is a parsed timestamp token: a CMS SignedData whose encapsulated
// content is a TSTInfo.
type Token struct {
	// Raw is the DER encoding the token was parsed from.
	Raw []byte

	// Info is the parsed timestamp token info.
	Info *TSTInfo

	// CMS is the enclosing signed structure.
	CMS *cms.SignedData
}

// Parse parses a DER-encoded timestamp token.
func Parse(data []byte) (*Token, error) {
	sd, err := cms.Parse(data)
	if err != nil {
		return nil, err
	}
	if !sd.ContentType.Equal(OIDTSTInfo) || sd.Content == nil {
		return nil, ErrNotTimestampToken
	}

	info := &TSTInfo{}
	if _, err := asn1.Unmarshal(sd.Content, info); err != nil {
		return nil, fmt.Errorf("parsing TSTInfo: %w", err)
	}

	return &Token{Raw: data, Info: info, CMS: sd}, nil
}

// Time returns the asserted generation time.
func (t *Token) Time() time.Time {
	return t.Info.GenTime
}

// SignerCertificate returns the timestamp authority certificate, when
// carried in the token.
func (t *Token) SignerCertificate() *x509.Certificate {
	return t.CMS.SignerCertificate
}

// Certificates returns all certificates carried in the token.
func (t *Token) Certificates() []*x509.Certificate {
	return t.CMS.Certificates
}

// VerifyImprint recomputes the message imprint over the time-stamped bytes
// using the algorithm declared in the token and compares it to the asserted
// imprint.
func (t *Token) VerifyImprint(message []byte) error {
	h, err := cms.HashFromOID(t.Info.MessageImprint.HashAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	h.Write(message)
	if !bytes.Equal(h.Sum(nil), t.Info.MessageImprint.HashedMessage) {
		return ErrImprintMismatch
	}
	return nil
}

// VerifySignature verifies the timestamp authority's CMS signature over the
// encapsulated TSTInfo.
func (t *Token) VerifySignature() error {
	return t.CMS.Verify(nil)
}

// SVT returns the Signature Validation Token JWT carried in a TSTInfo
// extension, when present.
func (t *Token) SVT() (string, bool) {
	for _, ext := range t.Info.Extensions {
		if ext.Id.Equal(OIDSVTExtension) {
			return string(ext.Value), true
		}
	}
	return "", false
}

// IssuerName returns the timestamp authority subject, preferring the signer
// certificate over the TSA field.
func (t *Token) IssuerName() string {
	if t.CMS.SignerCertificate != nil {
		return t.CMS.SignerCertificate.Subject.String()
	}
	return ""
}
