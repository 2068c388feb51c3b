// Package cms parses and verifies CMS SignedData structures as they appear
// in PDF signatures and RFC 3161 timestamp tokens. Only the validation side
// of CMS is implemented; signature creation is out of scope.
package cms

import (
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"errors"
	"hash"
	"math/big"
)

// OIDs for CMS content types, digest algorithms, signature algorithms and
// attributes.
var (
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	OIDRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDRSAPSS          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	OIDContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	OIDSignatureTimeStamp   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
)

// Common errors.
var (
	ErrNotSignedData        = errors.New("content is not CMS SignedData")
	ErrNoSignerInfo         = errors.New("no signer info in SignedData")
	ErrMissingCertificate   = errors.New("signer certificate not found")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrNoMessageDigest      = errors.New("message digest attribute missing")
	ErrDigestMismatch       = errors.New("message digest mismatch")
	ErrContentTypeMismatch  = errors.New("content type attribute mismatch")
	ErrCertRefMismatch      = errors.New("signing certificate reference mismatch")
	ErrSignatureInvalid     = errors.New("signature verification failed")
)

// AlgorithmIdentifier represents an algorithm with optional parameters.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo is the outer CMS wrapper.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// EncapsulatedContentInfo holds the content covered by the signature.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// IssuerAndSerialNumber identifies a certificate by issuer name and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute is one signed or unsigned CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// signedDataRaw captures SignedData with signer infos kept as raw bytes so
// the signed attributes can be verified over their exact encoding.
type signedDataRaw struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

// signerInfoRaw captures a SignerInfo with attribute sets kept raw.
type signerInfoRaw struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// SigningCertificateV2 is the ESS signing-certificate-v2 attribute value.
type SigningCertificateV2 struct {
	Certs []ESSCertIDv2
}

// ESSCertIDv2 binds the signature to a certificate by digest.
type ESSCertIDv2 struct {
	HashAlgorithm AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  asn1.RawValue `asn1:"optional"`
}

// HashFromOID returns a new hash for a digest algorithm OID.
func HashFromOID(oid asn1.ObjectIdentifier) (hash.Hash, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return sha256.New(), nil
	case oid.Equal(OIDSHA384):
		return sha512.New384(), nil
	case oid.Equal(OIDSHA512):
		return sha512.New(), nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// cryptoHashFromOID returns the crypto.Hash for a digest algorithm OID.
func cryptoHashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	default:
		return 0, ErrUnsupportedAlgorithm
	}
}
