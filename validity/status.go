// Package validity determines the revocation status of individual
// certificates using CRL or OCSP data, and verifies that whoever asserts a
// revocation status is itself authorized to do so (the revocation trust-path
// check).
package validity

import (
	"crypto/x509"
	"time"
)

// SourceType identifies where a revocation status came from.
type SourceType int

const (
	// SourceNone means no revocation source was consulted.
	SourceNone SourceType = iota
	// SourceCRL means the status was derived from a certificate revocation list.
	SourceCRL
	// SourceOCSP means the status was derived from an OCSP response.
	SourceOCSP
)

// String returns a string representation of the source type.
func (s SourceType) String() string {
	switch s {
	case SourceCRL:
		return "CRL"
	case SourceOCSP:
		return "OCSP"
	default:
		return "none"
	}
}

// Validity classifies the revocation status of a certificate.
type Validity int

const (
	// ValidityUnknown means no definitive statement could be obtained.
	ValidityUnknown Validity = iota
	// ValidityValid means the certificate is not revoked.
	ValidityValid
	// ValidityRevoked means the certificate has been revoked.
	ValidityRevoked
	// ValidityInvalid means the revocation data itself failed verification.
	ValidityInvalid
)

// String returns a string representation of the validity.
func (v Validity) String() string {
	switch v {
	case ValidityValid:
		return "valid"
	case ValidityRevoked:
		return "revoked"
	case ValidityInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ValidationStatus is the outcome of a revocation check for one certificate.
//
// StatusSignerCert identifies the certificate that signed the revocation
// data (the CRL issuer or the OCSP responder) and must be populated before
// the status is handed to a TrustPathChecker.
type ValidationStatus struct {
	// Certificate is the certificate whose status was checked.
	Certificate *x509.Certificate

	// Issuer is the CA certificate that issued Certificate.
	Issuer *x509.Certificate

	// Source identifies the kind of revocation data consulted.
	Source SourceType

	// SourceURL is the distribution point or responder URL that answered.
	SourceURL string

	// Validity is the classification derived from the revocation data.
	Validity Validity

	// RevocationTime is set when Validity is ValidityRevoked.
	RevocationTime time.Time

	// RevocationReason is the CRL/OCSP reason code when revoked, -1 otherwise.
	RevocationReason int

	// StatusSignerCert signed the revocation data.
	StatusSignerCert *x509.Certificate

	// StatusSignerChain is the supporting chain delivered with the
	// revocation data, when any.
	StatusSignerChain []*x509.Certificate

	// CheckTime is when the check was performed.
	CheckTime time.Time
}
