package cms

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"
)

// SignedData is a parsed CMS SignedData with the first signer resolved.
type SignedData struct {
	// Raw is the full DER encoding the structure was parsed from.
	Raw []byte

	// ContentType is the encapsulated content type.
	ContentType asn1.ObjectIdentifier

	// Content is the encapsulated content, nil for detached signatures.
	Content []byte

	// Certificates holds every certificate carried in the structure.
	Certificates []*x509.Certificate

	// SignerCertificate is the certificate matching the signer info, when
	// present among Certificates.
	SignerCertificate *x509.Certificate

	signerInfo signerInfoRaw
}

// Parse parses a DER-encoded CMS ContentInfo holding SignedData.
func Parse(data []byte) (*SignedData, error) {
	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(data, &contentInfo); err != nil {
		return nil, fmt.Errorf("parsing ContentInfo: %w", err)
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, ErrNotSignedData
	}

	var raw signedDataRaw
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &raw); err != nil {
		return nil, fmt.Errorf("parsing SignedData: %w", err)
	}
	if len(raw.SignerInfos) == 0 {
		return nil, ErrNoSignerInfo
	}

	sd := &SignedData{
		Raw:         data,
		ContentType: raw.EncapContentInfo.EContentType,
	}
	if len(raw.EncapContentInfo.EContent.FullBytes) > 0 {
		sd.Content = raw.EncapContentInfo.EContent.Bytes
	}

	for _, certRaw := range raw.Certificates {
		cert, err := x509.ParseCertificate(certRaw.FullBytes)
		if err != nil {
			continue
		}
		sd.Certificates = append(sd.Certificates, cert)
	}

	if _, err := asn1.Unmarshal(raw.SignerInfos[0].FullBytes, &sd.signerInfo); err != nil {
		return nil, fmt.Errorf("parsing SignerInfo: %w", err)
	}
	sd.SignerCertificate = sd.findSignerCert()

	return sd, nil
}

// findSignerCert matches the signer info against the carried certificates by
// issuer name and serial number.
func (sd *SignedData) findSignerCert() *x509.Certificate {
	serial := sd.signerInfo.SID.SerialNumber
	if serial == nil {
		return nil
	}
	issuer := sd.signerInfo.SID.Issuer.FullBytes
	for _, cert := range sd.Certificates {
		if cert.SerialNumber.Cmp(serial) != 0 {
			continue
		}
		if len(issuer) == 0 || bytes.Equal(cert.RawIssuer, issuer) {
			return cert
		}
	}
	return nil
}

// Verify checks the signer's signature. For detached signatures the signed
// content is supplied by the caller; for encapsulated content pass nil and
// the embedded content is used. When signed attributes are present the
// message-digest attribute is checked against the content and the signature
// is verified over the attribute set; otherwise the signature covers the
// content directly.
func (sd *SignedData) Verify(content []byte) error {
	if sd.SignerCertificate == nil {
		return ErrMissingCertificate
	}
	if content == nil {
		content = sd.Content
	}

	alg, err := signatureAlgorithm(sd.signerInfo.SignatureAlgorithm.Algorithm, sd.signerInfo.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}

	signedBytes := sd.signedAttributesDER()
	if signedBytes == nil {
		signedBytes = content
	} else {
		if err := sd.checkSignedAttributes(content); err != nil {
			return err
		}
	}

	if err := sd.SignerCertificate.CheckSignature(alg, signedBytes, sd.signerInfo.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// checkSignedAttributes validates the attribute set against the content: the
// message-digest attribute must match the content digest, a content-type
// attribute must name the encapsulated content type, and a signing
// certificate reference, when present, must match the signer certificate.
func (sd *SignedData) checkSignedAttributes(content []byte) error {
	h, err := HashFromOID(sd.signerInfo.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	h.Write(content)
	computed := h.Sum(nil)

	digestValue, ok := sd.signedAttribute(OIDMessageDigest)
	if !ok {
		return ErrNoMessageDigest
	}
	var expected []byte
	if _, err := asn1.Unmarshal(digestValue.FullBytes, &expected); err != nil {
		return fmt.Errorf("parsing message digest attribute: %w", err)
	}
	if !bytes.Equal(computed, expected) {
		return ErrDigestMismatch
	}

	if ctValue, ok := sd.signedAttribute(OIDContentType); ok {
		var contentType asn1.ObjectIdentifier
		if _, err := asn1.Unmarshal(ctValue.FullBytes, &contentType); err == nil {
			if !contentType.Equal(sd.ContentType) {
				return ErrContentTypeMismatch
			}
		}
	}

	if refValue, ok := sd.signedAttribute(OIDSigningCertificateV2); ok {
		if err := sd.checkSignerCertRef(refValue); err != nil {
			return err
		}
	}

	return nil
}

// checkSignerCertRef verifies the ESS signing-certificate-v2 digest against
// the signer certificate. An unset hash algorithm defaults to SHA-256.
func (sd *SignedData) checkSignerCertRef(value asn1.RawValue) error {
	var ref SigningCertificateV2
	if _, err := asn1.Unmarshal(value.FullBytes, &ref); err != nil {
		return fmt.Errorf("parsing signing certificate attribute: %w", err)
	}
	if len(ref.Certs) == 0 {
		return ErrCertRefMismatch
	}

	oid := ref.Certs[0].HashAlgorithm.Algorithm
	if len(oid) == 0 {
		oid = OIDSHA256
	}
	h, err := HashFromOID(oid)
	if err != nil {
		return err
	}
	h.Write(sd.SignerCertificate.Raw)
	if !bytes.Equal(h.Sum(nil), ref.Certs[0].CertHash) {
		return ErrCertRefMismatch
	}
	return nil
}

// HasSigningCertificateRef reports whether the signer committed to its
// certificate through the ESS signing-certificate-v2 attribute.
func (sd *SignedData) HasSigningCertificateRef() bool {
	_, ok := sd.signedAttribute(OIDSigningCertificateV2)
	return ok
}

// SigningTime returns the claimed signing time attribute, when present. The
// value is unverified evidence.
func (sd *SignedData) SigningTime() (time.Time, bool) {
	value, ok := sd.signedAttribute(OIDSigningTime)
	if !ok {
		return time.Time{}, false
	}
	var t time.Time
	if _, err := asn1.Unmarshal(value.FullBytes, &t); err != nil {
		return time.Time{}, false
	}
	return t, true
}

// TimestampToken returns the embedded RFC 3161 signature timestamp from the
// unsigned attributes, when present.
func (sd *SignedData) TimestampToken() ([]byte, bool) {
	value, ok := findAttribute(sd.signerInfo.UnsignedAttrs.Bytes, OIDSignatureTimeStamp)
	if !ok {
		return nil, false
	}
	return value.FullBytes, true
}

// DigestAlgorithm returns the signer's digest algorithm OID.
func (sd *SignedData) DigestAlgorithm() asn1.ObjectIdentifier {
	return sd.signerInfo.DigestAlgorithm.Algorithm
}

// SignatureAlgorithmOID returns the signer's signature algorithm OID.
func (sd *SignedData) SignatureAlgorithmOID() asn1.ObjectIdentifier {
	return sd.signerInfo.SignatureAlgorithm.Algorithm
}

// SignatureValue returns the raw signature bytes.
func (sd *SignedData) SignatureValue() []byte {
	return sd.signerInfo.Signature
}

// SignedAttributeBytes returns the DER encoding of the signed attribute set
// as it was signed, or nil when the signature covers the content directly.
func (sd *SignedData) SignedAttributeBytes() []byte {
	return sd.signedAttributesDER()
}

// signedAttributesDER returns the signed attributes re-tagged from the
// implicit [0] wrapper to the SET encoding the signature was computed over.
func (sd *SignedData) signedAttributesDER() []byte {
	raw := sd.signerInfo.SignedAttrs.FullBytes
	if len(raw) == 0 {
		return nil
	}
	der := make([]byte, len(raw))
	copy(der, raw)
	der[0] = 0x31
	return der
}

// signedAttribute returns the first value of a signed attribute by type.
func (sd *SignedData) signedAttribute(oid asn1.ObjectIdentifier) (asn1.RawValue, bool) {
	return findAttribute(sd.signerInfo.SignedAttrs.Bytes, oid)
}

// findAttribute scans a raw attribute sequence for the first value of the
// given type.
func findAttribute(data []byte, oid asn1.ObjectIdentifier) (asn1.RawValue, bool) {
	rest := data
	for len(rest) > 0 {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return asn1.RawValue{}, false
		}
		if attr.Type.Equal(oid) && len(attr.Values) > 0 {
			return attr.Values[0], true
		}
	}
	return asn1.RawValue{}, false
}

// signatureAlgorithm maps a CMS signature algorithm OID, together with the
// signer's digest algorithm, onto the x509 signature algorithm used for
// verification.
func signatureAlgorithm(sigOID, digestOID asn1.ObjectIdentifier) (x509.SignatureAlgorithm, error) {
	switch {
	case sigOID.Equal(OIDSHA256WithRSA):
		return x509.SHA256WithRSA, nil
	case sigOID.Equal(OIDSHA384WithRSA):
		return x509.SHA384WithRSA, nil
	case sigOID.Equal(OIDSHA512WithRSA):
		return x509.SHA512WithRSA, nil
	case sigOID.Equal(OIDECDSAWithSHA256):
		return x509.ECDSAWithSHA256, nil
	case sigOID.Equal(OIDECDSAWithSHA384):
		return x509.ECDSAWithSHA384, nil
	case sigOID.Equal(OIDECDSAWithSHA512):
		return x509.ECDSAWithSHA512, nil
	}

	// RSA and RSA-PSS signers name the bare key algorithm and imply the
	// digest through the digest algorithm identifier.
	hashAlg, err := cryptoHashFromOID(digestOID)
	if err != nil {
		return 0, err
	}
	switch {
	case sigOID.Equal(OIDRSAEncryption):
		switch hashAlg {
		case crypto.SHA256:
			return x509.SHA256WithRSA, nil
		case crypto.SHA384:
			return x509.SHA384WithRSA, nil
		case crypto.SHA512:
			return x509.SHA512WithRSA, nil
		}
	case sigOID.Equal(OIDRSAPSS):
		switch hashAlg {
		case crypto.SHA256:
			return x509.SHA256WithRSAPSS, nil
		case crypto.SHA384:
			return x509.SHA384WithRSAPSS, nil
		case crypto.SHA512:
			return x509.SHA512WithRSAPSS, nil
		}
	}
	return 0, ErrUnsupportedAlgorithm
}
