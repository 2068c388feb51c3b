package svt

import (
	"context"
	"crypto/x509"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/swedenconnect/sig-validation-base/chain"
)

// CertificateValidator validates a token signer certificate against the
// caller's trust configuration. *chain.Validator satisfies this interface.
type CertificateValidator interface {
	Validate(ctx context.Context, cert *x509.Certificate, supporting []*x509.Certificate) (*chain.PathValidationResult, error)
}

// TokenCandidate is one SVT found in a document, together with the signer
// certificate hints available at its location.
type TokenCandidate struct {
	// Raw is the compact JWT serialization.
	Raw string

	// SuppliedSigner is a certificate explicitly configured by the caller
	// for this token issuer, when any.
	SuppliedSigner *x509.Certificate

	// TimestampSigner is the certificate that signed the timestamp
	// enclosing the token, used as the final signer fallback.
	TimestampSigner *x509.Certificate
}

// SignatureInput identifies one primary signature to be matched against a
// token's claim records.
type SignatureInput struct {
	// Name identifies the signature to the caller.
	Name string

	// SignatureValue is the raw signature value bytes.
	SignatureValue []byte
}

// SignatureResult reports that a signature is covered by a valid token.
type SignatureResult struct {
	// Name echoes the matched SignatureInput.
	Name string

	// Token is the selected valid token.
	Token *Token

	// Claims is the claim record covering the signature.
	Claims *SignatureClaims
}

// Validator verifies candidate tokens, selects the most recently issued
// valid one, and matches primary signatures against its claim records.
type Validator struct {
	certValidator CertificateValidator
	log           *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithCertificateValidator enables path validation of token signer
// certificates. Tokens whose signer fails validation are discarded.
func WithCertificateValidator(cv CertificateValidator) Option {
	return func(v *Validator) { v.certValidator = cv }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(v *Validator) { v.log = log }
}

// NewValidator creates a Validator.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{log: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate verifies the candidate tokens, selects the best one, and returns
// one result per covered signature. Signatures not matched by any claim
// record are absent from the result and fall through to direct validation.
// A nil result with nil error means no valid token applies.
func (v *Validator) Validate(ctx context.Context, candidates []TokenCandidate, sigs []SignatureInput) ([]SignatureResult, error) {
	token := v.SelectToken(ctx, candidates)
	if token == nil {
		return nil, nil
	}

	hash, err := token.DigestAlgorithm()
	if err != nil {
		return nil, err
	}
	claims, err := token.Claims()
	if err != nil {
		return nil, err
	}

	var results []SignatureResult
	for _, sig := range sigs {
		h := hash.New()
		h.Write(sig.SignatureValue)
		digest := h.Sum(nil)

		record := findClaimRecord(claims.SigValClaims.Signatures, digest)
		if record == nil {
			v.log.Debug("signature not covered by token", zap.String("signature", sig.Name))
			continue
		}
		results = append(results, SignatureResult{
			Name:   sig.Name,
			Token:  token,
			Claims: record,
		})
	}
	return results, nil
}

// SelectToken verifies each candidate and returns the valid token with the
// most recent issuance time. An unparsable issuance time never displaces
// the current best candidate. Nil means no candidate is valid.
func (v *Validator) SelectToken(ctx context.Context, candidates []TokenCandidate) *Token {
	var best *Token
	for _, candidate := range candidates {
		token, err := v.verifyCandidate(ctx, candidate)
		if err != nil {
			v.log.Debug("discarding SVT candidate", zap.Error(err))
			continue
		}

		if best == nil {
			best = token
			continue
		}
		issued := token.IssueTime()
		if issued.IsZero() {
			continue
		}
		if issued.After(best.IssueTime()) {
			best = token
		}
	}
	return best
}

// verifyCandidate runs the full per-token acceptance check: parse, signer
// resolution, signature verification, claims shape, policy verdicts, and
// optional signer path validation.
func (v *Validator) verifyCandidate(ctx context.Context, candidate TokenCandidate) (*Token, error) {
	token, err := Parse(candidate.Raw)
	if err != nil {
		return nil, err
	}

	signer, err := token.ResolveSignerCert(candidate.SuppliedSigner, candidate.TimestampSigner)
	if err != nil {
		return nil, err
	}
	if err := token.Verify(signer); err != nil {
		return nil, err
	}

	claims, err := token.Claims()
	if err != nil {
		return nil, err
	}
	if claims.SigValClaims == nil || len(claims.SigValClaims.Signatures) == 0 {
		return nil, ErrTokenMalformed
	}

	// Every recorded policy verdict must be PASSED for the token to be
	// usable as a trust statement.
	for _, sig := range claims.SigValClaims.Signatures {
		for _, policy := range sig.SignatureValidation {
			if policy.Result != ConclusionPassed {
				return nil, &TokenPolicyError{Policy: policy.Policy, Result: policy.Result}
			}
		}
	}

	if v.certValidator != nil {
		if _, err := v.certValidator.Validate(ctx, signer, token.HeaderCerts); err != nil {
			return nil, err
		}
	}
	return token, nil
}

// TokenPolicyError means a token records a non-PASSED policy verdict.
type TokenPolicyError struct {
	Policy string
	Result Conclusion
}

func (e *TokenPolicyError) Error() string {
	return "token policy " + e.Policy + " concluded " + string(e.Result)
}

// findClaimRecord returns the claim record whose signature hash matches the
// given digest, or nil.
func findClaimRecord(records []SignatureClaims, digest []byte) *SignatureClaims {
	encoded := base64.StdEncoding.EncodeToString(digest)
	for i := range records {
		claimHash := records[i].SigRef.SigHash
		if claimHash == encoded {
			return &records[i]
		}
		if decoded := decodeBase64Any(claimHash); decoded != nil && string(decoded) == string(digest) {
			return &records[i]
		}
	}
	return nil
}
