package sigval

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/swedenconnect/sig-validation-base/chain"
	"github.com/swedenconnect/sig-validation-base/svt"
)

// CertificateValidator validates a signer certificate and its supporting
// chain against the configured trust anchors. *chain.Validator satisfies
// this interface.
type CertificateValidator interface {
	Validate(ctx context.Context, cert *x509.Certificate, supporting []*x509.Certificate) (*chain.PathValidationResult, error)
}

// PolicyValidationResult is the verdict of one signature policy over the
// accumulated validation evidence.
type PolicyValidationResult struct {
	// Policy identifies the validation policy.
	Policy string

	// Conclusion is the policy's verdict.
	Conclusion svt.Conclusion

	// Message explains the verdict.
	Message string

	// Status is the per-signature status the verdict maps to. For a
	// passed verdict this is StatusSuccess.
	Status Status
}

// Passed reports whether the policy accepted the signature.
func (r PolicyValidationResult) Passed() bool {
	return r.Conclusion == svt.ConclusionPassed
}

// PolicyValidator renders the final accept/reject verdict over a
// per-signature result. It is the only collaborator allowed to downgrade a
// cryptographically sound signature, or to uphold a signature whose
// certificate path failed given sufficient timestamp evidence.
type PolicyValidator interface {
	ValidatePolicy(ctx context.Context, result *Result) PolicyValidationResult
}

// TimeValidationResult is one piece of verified time evidence attached to a
// signature: an RFC 3161 timestamp or an SVT issuance event.
type TimeValidationResult struct {
	// Claims describe the evidence in SVT claim form.
	Claims svt.TimeValidationClaims

	// PathValidation is the evidence signer's path validation outcome,
	// when one was performed.
	PathValidation *chain.PathValidationResult
}

// Passed reports whether all verdicts recorded for the evidence passed.
func (r TimeValidationResult) Passed() bool {
	for _, v := range r.Claims.Validation {
		if v.Result != svt.ConclusionPassed {
			return false
		}
	}
	return len(r.Claims.Validation) > 0
}

// Result is the core per-signature validation outcome. The XML and PDF
// validators embed it in their format-specific result types.
type Result struct {
	// Status is the terminal state of this signature's validation.
	Status Status

	// Message explains the status.
	Message string

	// Err carries the underlying failure, when any.
	Err error

	// SignerCertificate is the certificate the signature verified against.
	SignerCertificate *x509.Certificate

	// CertificateChain is the supporting chain delivered with the
	// signature, signer first.
	CertificateChain []*x509.Certificate

	// SignatureAlgorithm is the URI or name of the signature algorithm.
	SignatureAlgorithm string

	// PathValidation is the certificate path validation outcome. A failed
	// path is recorded here without forcing a failure status; the policy
	// validator decides.
	PathValidation *chain.PathValidationResult

	// TimeValidation holds verified timestamps and SVT issuance events.
	TimeValidation []TimeValidationResult

	// PolicyResults holds the policy verdicts rendered over this result.
	PolicyResults []PolicyValidationResult

	// ClaimedSigningTime is the unverified signing time claimed inside the
	// signature, when present.
	ClaimedSigningTime time.Time

	// EtsiAdes is true when the signature follows an AdES profile.
	EtsiAdes bool

	// CoversDocument is true when the signature covers the whole document.
	CoversDocument bool

	// ValidatedBySVT is true when this result was synthesized from a
	// Signature Validation Token instead of direct verification.
	ValidatedBySVT bool

	// SVTClaims is the claim record the result was synthesized from.
	SVTClaims *svt.SignatureClaims
}

// Fail sets a failure status with a message and cause, and returns the
// result for chaining.
func (r *Result) Fail(status Status, message string, err error) *Result {
	r.Status = status
	r.Message = message
	r.Err = err
	return r
}

// VerifiedSigningTime returns the earliest passed time evidence, or the
// zero time when none exists. It is the time a policy may rely on when the
// signer certificate was later revoked.
func (r *Result) VerifiedSigningTime() time.Time {
	var earliest time.Time
	for _, tv := range r.TimeValidation {
		if !tv.Passed() {
			continue
		}
		t := time.Unix(tv.Claims.Time, 0)
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest
}
