// Package svt implements parsing, verification, and selection of Signature
// Validation Tokens: signed JWTs asserting that one or more document
// signatures were validated at issuance time, so that later validations can
// trust the token instead of repeating path building and revocation checks.
package svt

import (
	"time"

	"gopkg.in/square/go-jose.v2/jwt"
)

// Conclusion is the verdict of a validation process recorded in a token.
type Conclusion string

// Validation conclusions.
const (
	ConclusionPassed        Conclusion = "PASSED"
	ConclusionFailed        Conclusion = "FAILED"
	ConclusionIndeterminate Conclusion = "INDETERMINATE"
)

// Certificate reference types.
const (
	CertRefTypeChain     = "chain"
	CertRefTypeChainHash = "chain_hash"
)

// Time validation claim types.
const (
	TimeValTypeTimestamp = "http://id.swedenconnect.se/svt/timeval-type/rfc3161-timestamp/01"
	TimeValTypeSVT       = "http://id.swedenconnect.se/svt/timeval-type/svt/01"
)

// Validation policy identifiers recorded in policy claims.
const (
	PolicyPKIXValidation     = "http://id.swedenconnect.se/svt/sigval-policy/chain/01"
	PolicyTimestampPKIX      = "http://id.swedenconnect.se/svt/timeval-policy/pkix/01"
	PolicySVTTokenValidation = "http://id.swedenconnect.se/svt/sigval-policy/svt/01"
)

// Claims is the JWT claims set of a Signature Validation Token.
type Claims struct {
	// JWTID is the unique token identifier.
	JWTID string `json:"jti,omitempty"`

	// Issuer identifies the token issuing service.
	Issuer string `json:"iss,omitempty"`

	// IssuedAt is the token issuance time.
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`

	// Audience restricts the intended token consumers.
	Audience jwt.Audience `json:"aud,omitempty"`

	// Expiry is the optional token expiry time.
	Expiry *jwt.NumericDate `json:"exp,omitempty"`

	// SigValClaims carries the signature validation assertions.
	SigValClaims *SVTClaims `json:"sig_val_claims,omitempty"`
}

// IssueTime returns the issuance time, or the zero time when absent.
func (c *Claims) IssueTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time()
}

// SVTClaims is the sig_val_claims payload of a token.
type SVTClaims struct {
	// Version of the SVT claims format.
	Version string `json:"ver"`

	// Profile names the document-format profile (XML, PDF).
	Profile string `json:"profile,omitempty"`

	// HashAlgorithm is the URI of the digest algorithm used for the
	// document data references in this token.
	HashAlgorithm string `json:"hash_algo"`

	// Signatures holds one claims record per covered signature.
	Signatures []SignatureClaims `json:"sig"`

	// Extension carries profile-specific additions.
	Extension map[string]string `json:"ext,omitempty"`
}

// SignatureClaims records the validated facts about one covered signature.
type SignatureClaims struct {
	// SigRef identifies the covered signature by digests of its signature
	// value and signed attributes.
	SigRef SigReferenceClaims `json:"sig_ref"`

	// SignedDataRefs reference the document data covered by the signature.
	SignedDataRefs []SignedDataClaims `json:"sig_data_ref"`

	// SignerCertRef references the signer certificate or chain.
	SignerCertRef *CertReferenceClaims `json:"signer_cert_ref,omitempty"`

	// SignatureValidation holds the policy verdicts recorded at issuance.
	SignatureValidation []PolicyValidationClaims `json:"sig_val"`

	// TimeValidation holds the verified time evidence recorded at issuance.
	TimeValidation []TimeValidationClaims `json:"time_val,omitempty"`

	// Extension carries profile-specific additions.
	Extension map[string]string `json:"ext,omitempty"`
}

// SigReferenceClaims identifies a signature by digests.
type SigReferenceClaims struct {
	// ID is an optional signature identifier.
	ID string `json:"id,omitempty"`

	// SigHash is the base64 digest of the raw signature value bytes.
	SigHash string `json:"sig_hash"`

	// SignedBytesHash is the base64 digest of the signed attributes or
	// canonicalized SignedInfo.
	SignedBytesHash string `json:"sb_hash"`
}

// SignedDataClaims references one piece of signed document data.
type SignedDataClaims struct {
	// Ref locates the data (an XML reference URI or a PDF byte range).
	Ref string `json:"ref"`

	// Hash is the base64 digest of the referenced data.
	Hash string `json:"hash"`
}

// CertReferenceClaims references the signer certificate chain, either as
// embedded certificates or as digests of certificates provided elsewhere.
type CertReferenceClaims struct {
	// Type is CertRefTypeChain or CertRefTypeChainHash.
	Type string `json:"type"`

	// Ref holds base64 certificates or certificate digests, leaf first.
	Ref []string `json:"ref"`
}

// PolicyValidationClaims is one policy engine's recorded verdict.
type PolicyValidationClaims struct {
	// Policy identifies the validation policy.
	Policy string `json:"pol"`

	// Result is the conclusion under that policy.
	Result Conclusion `json:"res"`

	// Message is an optional human-readable note.
	Message string `json:"msg,omitempty"`

	// Extension carries policy-specific additions.
	Extension map[string]string `json:"ext,omitempty"`
}

// TimeValidationClaims is one piece of verified time evidence.
type TimeValidationClaims struct {
	// Time is the asserted time as a Unix timestamp.
	Time int64 `json:"time"`

	// Type identifies the kind of evidence (timestamp, SVT issuance).
	Type string `json:"type"`

	// Issuer identifies who asserted the time.
	Issuer string `json:"iss"`

	// ID is an optional evidence identifier.
	ID string `json:"id,omitempty"`

	// Validation holds the verdicts for the evidence itself.
	Validation []PolicyValidationClaims `json:"val,omitempty"`

	// Extension carries profile-specific additions.
	Extension map[string]string `json:"ext,omitempty"`
}
