package timestamp

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/swedenconnect/sig-validation-base/chain"
	"github.com/swedenconnect/sig-validation-base/svt"
)

// CertificateValidator validates the timestamp authority certificate against
// the configured trust anchors. *chain.Validator satisfies this interface.
type CertificateValidator interface {
	Validate(ctx context.Context, cert *x509.Certificate, supporting []*x509.Certificate) (*chain.PathValidationResult, error)
}

// PolicyVerifier renders a policy verdict over a cryptographically verified
// timestamp token. The verdict is recorded as time-validation evidence; it
// never aborts document validation.
type PolicyVerifier interface {
	VerifyPolicy(ctx context.Context, token *Token, path *chain.PathValidationResult) svt.PolicyValidationClaims
}

// BasicPolicyVerifier accepts a timestamp when its signer certificate path
// validated and the asserted time does not lie in the future beyond the
// allowed clock skew. A missing path validation yields INDETERMINATE.
type BasicPolicyVerifier struct {
	clock clockwork.Clock
	skew  time.Duration
}

// PolicyOption configures a BasicPolicyVerifier.
type PolicyOption func(*BasicPolicyVerifier)

// WithPolicyClock sets the clock used for future-time checks.
func WithPolicyClock(clock clockwork.Clock) PolicyOption {
	return func(v *BasicPolicyVerifier) {
		v.clock = clock
	}
}

// WithClockSkew sets the tolerated deviation between the asserted time and
// the local clock.
func WithClockSkew(skew time.Duration) PolicyOption {
	return func(v *BasicPolicyVerifier) {
		v.skew = skew
	}
}

// NewBasicPolicyVerifier creates a policy verifier with a five minute skew
// allowance.
func NewBasicPolicyVerifier(opts ...PolicyOption) *BasicPolicyVerifier {
	v := &BasicPolicyVerifier{
		clock: clockwork.NewRealClock(),
		skew:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyPolicy implements PolicyVerifier.
func (v *BasicPolicyVerifier) VerifyPolicy(ctx context.Context, token *Token, path *chain.PathValidationResult) svt.PolicyValidationClaims {
	claims := svt.PolicyValidationClaims{Policy: svt.PolicyTimestampPKIX}

	switch {
	case path == nil:
		claims.Result = svt.ConclusionIndeterminate
		claims.Message = "timestamp signer certificate was not path validated"
	case !path.Success:
		claims.Result = svt.ConclusionFailed
		claims.Message = "timestamp signer certificate failed path validation"
	case token.Time().After(v.clock.Now().Add(v.skew)):
		claims.Result = svt.ConclusionFailed
		claims.Message = "timestamp time lies in the future"
	default:
		claims.Result = svt.ConclusionPassed
	}
	return claims
}

// Verification is the outcome of verifying one timestamp token.
type Verification struct {
	// Token is the parsed token.
	Token *Token

	// Time is the asserted generation time.
	Time time.Time

	// SignerCertificate is the timestamp authority certificate.
	SignerCertificate *x509.Certificate

	// PathValidation is the signer's path validation outcome, when a
	// certificate validator was configured.
	PathValidation *chain.PathValidationResult

	// Policy is the policy verdict over the token.
	Policy svt.PolicyValidationClaims
}

// Passed reports whether the policy accepted the timestamp.
func (r *Verification) Passed() bool {
	return r.Policy.Result == svt.ConclusionPassed
}

// TimeClaims converts the verification into SVT time-validation claim form.
func (r *Verification) TimeClaims() svt.TimeValidationClaims {
	claims := svt.TimeValidationClaims{
		Time:       r.Time.Unix(),
		Type:       svt.TimeValTypeTimestamp,
		Issuer:     r.Token.IssuerName(),
		Validation: []svt.PolicyValidationClaims{r.Policy},
	}
	if r.Token.Info.SerialNumber != nil {
		claims.ID = r.Token.Info.SerialNumber.String()
	}
	return claims
}

// Verifier verifies timestamp tokens against the bytes they claim to cover.
type Verifier struct {
	certValidator CertificateValidator
	policy        PolicyVerifier
	log           *zap.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithCertificateValidator sets the validator for the timestamp authority
// certificate.
func WithCertificateValidator(validator CertificateValidator) VerifierOption {
	return func(v *Verifier) {
		v.certValidator = validator
	}
}

// WithPolicyVerifier replaces the default policy verifier.
func WithPolicyVerifier(policy PolicyVerifier) VerifierOption {
	return func(v *Verifier) {
		v.policy = policy
	}
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(log *zap.Logger) VerifierOption {
	return func(v *Verifier) {
		v.log = log
	}
}

// NewVerifier creates a timestamp verifier.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		policy: NewBasicPolicyVerifier(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses the token, checks the message imprint against the supplied
// bytes, verifies the authority's signature, validates the signer
// certificate path when a validator is configured, and renders the policy
// verdict. Cryptographic failures return an error; a policy rejection is
// reported through the returned verification.
func (v *Verifier) Verify(ctx context.Context, tokenData, message []byte) (*Verification, error) {
	token, err := Parse(tokenData)
	if err != nil {
		return nil, err
	}
	if err := token.VerifyImprint(message); err != nil {
		return nil, err
	}
	if err := token.VerifySignature(); err != nil {
		return nil, err
	}

	var path *chain.PathValidationResult
	if v.certValidator != nil {
		path, err = v.certValidator.Validate(ctx, token.SignerCertificate(), token.Certificates())
		if err != nil {
			v.log.Debug("timestamp signer path validation failed",
				zap.String("signer", token.IssuerName()),
				zap.Error(err))
		}
	}

	result := &Verification{
		Token:             token,
		Time:              token.Time(),
		SignerCertificate: token.SignerCertificate(),
		PathValidation:    path,
		Policy:            v.policy.VerifyPolicy(ctx, token, path),
	}
	return result, nil
}
