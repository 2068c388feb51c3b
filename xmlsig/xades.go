package xmlsig

import (
	"bytes"
	"crypto/x509"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// ErrCertBindingMismatch means the signer certificate does not match any
// certificate digest committed in the XAdES signed properties.
var ErrCertBindingMismatch = errors.New("signing certificate reference mismatch")

// Trimmed bindings of the XAdES elements this package reads. Local names
// only, so documents using any XAdES schema version parse.
type qualifyingProperties struct {
	XMLName            xml.Name            `xml:"QualifyingProperties"`
	SignedProperties   *signedProperties   `xml:"SignedProperties"`
	UnsignedProperties *unsignedProperties `xml:"UnsignedProperties"`
}

type signedProperties struct {
	SignatureProperties *signedSignatureProperties `xml:"SignedSignatureProperties"`
}

type signedSignatureProperties struct {
	SigningTime          string              `xml:"SigningTime"`
	SigningCertificate   *signingCertificate `xml:"SigningCertificate"`
	SigningCertificateV2 *signingCertificate `xml:"SigningCertificateV2"`
}

type signingCertificate struct {
	Certs []certID `xml:"Cert"`
}

type certID struct {
	CertDigest certDigest `xml:"CertDigest"`
}

type certDigest struct {
	DigestMethod digestMethod `xml:"DigestMethod"`
	DigestValue  string       `xml:"DigestValue"`
}

type digestMethod struct {
	Algorithm string `xml:"Algorithm,attr"`
}

type unsignedProperties struct {
	SignatureProperties *unsignedSignatureProperties `xml:"UnsignedSignatureProperties"`
}

type unsignedSignatureProperties struct {
	SignatureTimeStamps []signatureTimeStamp `xml:"SignatureTimeStamp"`
}

type signatureTimeStamp struct {
	CanonicalizationMethod canonicalizationMethod `xml:"CanonicalizationMethod"`
	EncapsulatedTimeStamps []string               `xml:"EncapsulatedTimeStamp"`
}

type canonicalizationMethod struct {
	Algorithm string `xml:"Algorithm,attr"`
}

// AdESProperties is the XAdES qualifying information attached to a
// signature.
type AdESProperties struct {
	props qualifyingProperties
}

// EncodedTimestamp is one XAdES signature timestamp together with the
// declared canonicalization of the timestamped bytes.
type EncodedTimestamp struct {
	// CanonicalizationMethod is the declared method URI, empty for the
	// default.
	CanonicalizationMethod string

	// Token is the DER-encoded timestamp token.
	Token []byte
}

// parseAdESProperties unmarshals a QualifyingProperties element.
func parseAdESProperties(el *etree.Element) (*AdESProperties, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	serialized, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}

	p := &AdESProperties{}
	if err := xml.Unmarshal(serialized, &p.props); err != nil {
		return nil, fmt.Errorf("parsing qualifying properties: %w", err)
	}
	return p, nil
}

// ClaimedSigningTime returns the unverified signing time claim.
func (p *AdESProperties) ClaimedSigningTime() (time.Time, bool) {
	sp := p.signedSignatureProperties()
	if sp == nil || sp.SigningTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(sp.SigningTime))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// VerifyCertificateBinding checks the signer certificate against the
// certificate digests committed in the signed properties. With no
// committed reference the binding holds vacuously.
func (p *AdESProperties) VerifyCertificateBinding(cert *x509.Certificate) error {
	refs := p.certificateRefs()
	if len(refs) == 0 {
		return nil
	}
	for _, ref := range refs {
		hash, err := digestFromURI(ref.CertDigest.DigestMethod.Algorithm)
		if err != nil {
			continue
		}
		expected, err := decodeBase64Text(ref.CertDigest.DigestValue)
		if err != nil {
			continue
		}
		h := hash.New()
		h.Write(cert.Raw)
		if bytes.Equal(h.Sum(nil), expected) {
			return nil
		}
	}
	return ErrCertBindingMismatch
}

// SignatureTimestamps returns the decoded signature timestamps.
func (p *AdESProperties) SignatureTimestamps() []EncodedTimestamp {
	up := p.props.UnsignedProperties
	if up == nil || up.SignatureProperties == nil {
		return nil
	}
	var out []EncodedTimestamp
	for _, ts := range up.SignatureProperties.SignatureTimeStamps {
		for _, encoded := range ts.EncapsulatedTimeStamps {
			token, err := decodeBase64Text(encoded)
			if err != nil {
				continue
			}
			out = append(out, EncodedTimestamp{
				CanonicalizationMethod: ts.CanonicalizationMethod.Algorithm,
				Token:                  token,
			})
		}
	}
	return out
}

func (p *AdESProperties) signedSignatureProperties() *signedSignatureProperties {
	if p.props.SignedProperties == nil {
		return nil
	}
	return p.props.SignedProperties.SignatureProperties
}

func (p *AdESProperties) certificateRefs() []certID {
	sp := p.signedSignatureProperties()
	if sp == nil {
		return nil
	}
	var refs []certID
	if sp.SigningCertificate != nil {
		refs = append(refs, sp.SigningCertificate.Certs...)
	}
	if sp.SigningCertificateV2 != nil {
		refs = append(refs, sp.SigningCertificateV2.Certs...)
	}
	return refs
}
