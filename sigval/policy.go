package sigval

import (
	"context"

	"github.com/swedenconnect/sig-validation-base/svt"
	"github.com/swedenconnect/sig-validation-base/validity"
)

// BasicPolicyValidator implements the PKIX validation policy: a signature
// is accepted when it verified cryptographically and the signer certificate
// path validated. A signature whose signer was revoked is still accepted
// when verified time evidence proves the signature predates the revocation.
type BasicPolicyValidator struct {
	policy string
}

// BasicPolicyOption configures a BasicPolicyValidator.
type BasicPolicyOption func(*BasicPolicyValidator)

// WithPolicyName overrides the policy identifier recorded in verdicts.
func WithPolicyName(policy string) BasicPolicyOption {
	return func(v *BasicPolicyValidator) {
		v.policy = policy
	}
}

// NewBasicPolicyValidator creates the default PKIX policy validator.
func NewBasicPolicyValidator(opts ...BasicPolicyOption) *BasicPolicyValidator {
	v := &BasicPolicyValidator{policy: svt.PolicyPKIXValidation}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidatePolicy implements PolicyValidator.
func (v *BasicPolicyValidator) ValidatePolicy(ctx context.Context, result *Result) PolicyValidationResult {
	verdict := PolicyValidationResult{Policy: v.policy}

	if !result.Status.Valid() {
		verdict.Conclusion = svt.ConclusionFailed
		verdict.Message = result.Message
		verdict.Status = result.Status
		return verdict
	}

	path := result.PathValidation
	switch {
	case path == nil:
		verdict.Conclusion = svt.ConclusionIndeterminate
		verdict.Message = "signer certificate path was not validated"
		verdict.Status = StatusNotTrusted

	case path.Success:
		verdict.Conclusion = svt.ConclusionPassed
		verdict.Status = StatusSuccess

	default:
		if v.signedBeforeRevocation(result) {
			verdict.Conclusion = svt.ConclusionPassed
			verdict.Message = "signer certificate revoked after time-stamped signing time"
			verdict.Status = StatusSuccess
			break
		}
		verdict.Conclusion = svt.ConclusionFailed
		verdict.Message = "signer certificate path validation failed"
		verdict.Status = StatusSignerInvalid
	}
	return verdict
}

// signedBeforeRevocation reports whether the path failure was a revocation
// and the earliest verified signing time precedes every recorded revocation
// time.
func (v *BasicPolicyValidator) signedBeforeRevocation(result *Result) bool {
	signingTime := result.VerifiedSigningTime()
	if signingTime.IsZero() || result.PathValidation == nil {
		return false
	}

	revoked := false
	for _, status := range result.PathValidation.Statuses {
		if status == nil {
			continue
		}
		switch status.Validity {
		case validity.ValidityRevoked:
			revoked = true
			if status.RevocationTime.IsZero() || !signingTime.Before(status.RevocationTime) {
				return false
			}
		case validity.ValidityInvalid:
			return false
		}
	}
	return revoked
}
