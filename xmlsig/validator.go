// Package xmlsig validates signed XML documents: XMLDSig cryptographic
// verification, XAdES qualifying properties, signature timestamps, and
// validation through Signature Validation Tokens.
package xmlsig

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"

	"github.com/moov-io/signedxml"
	"go.uber.org/zap"

	"github.com/swedenconnect/sig-validation-base/chain"
	"github.com/swedenconnect/sig-validation-base/sigval"
	"github.com/swedenconnect/sig-validation-base/svt"
	"github.com/swedenconnect/sig-validation-base/timestamp"
)

// Result is the outcome of validating one XML signature.
type Result struct {
	sigval.Result

	// SignatureID is the Id attribute of the signature element, possibly
	// empty.
	SignatureID string
}

/// ElementValidator validates individual ds:Signature elements.
type ElementValidator struct {
	certValidator sigval.CertificateValidator
	policy        sigval.PolicyValidator
	timestamps    *timestamp.Verifier
	svtValidator  *svt.Validator
	log           *zap.Logger
}

// ElementValidatorOption configures an ElementValidator.
type ElementValidatorOption func(*ElementValidator)

// WithCertificateValidator sets the signer certificate path validator.
func WithCertificateValidator(cv sigval.CertificateValidator) ElementValidatorOption {
	return func(v *ElementValidator) { v.certValidator = cv }
}

// WithPolicyValidator replaces the default PKIX policy validator.
func WithPolicyValidator(policy sigval.PolicyValidator) ElementValidatorOption {
	return func(v *ElementValidator) { v.policy = policy }
}

// WithTimestampVerifier sets the verifier for XAdES signature timestamps.
func WithTimestampVerifier(verifier *timestamp.Verifier) ElementValidatorOption {
	return func(v *ElementValidator) { v.timestamps = verifier }
}

// WithSVTValidator enables validation through Signature Validation Tokens.
func WithSVTValidator(validator *svt.Validator) ElementValidatorOption {
	return func(v *ElementValidator) { v.svtValidator = validator }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ElementValidatorOption {
	return func(v *ElementValidator) { v.log = log }
}

// NewElementValidator creates an element validator. Without options the
// validator verifies signatures cryptographically, leaves certificate
// paths unvalidated and applies the basic PKIX policy.
func NewElementValidator(opts ...ElementValidatorOption) *ElementValidator {
	v := &ElementValidator{
		policy: sigval.NewBasicPolicyValidator(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.timestamps == nil {
		tsOpts := []timestamp.VerifierOption{timestamp.WithVerifierLogger(v.log)}
		if v.certValidator != nil {
			tsOpts = append(tsOpts, timestamp.WithCertificateValidator(v.certValidator))
		}
		v.timestamps = timestamp.NewVerifier(tsOpts...)
	}
	return v
}

// ValidateElement validates one signature of a parsed document. A valid
// Signature Validation Token covering the signature replaces direct
// cryptographic validation.
func (v *ElementValidator) ValidateElement(ctx context.Context, doc *SignatureContext, sig *Signature) *Result {
	result := &Result{SignatureID: sig.ID}
	result.CoversDocument = sig.CoversDocument
	result.CertificateChain = sig.Certificates
	result.SignatureAlgorithm = sig.SignatureMethod()
	if sig.AdES != nil {
		result.EtsiAdes = true
		if t, ok := sig.AdES.ClaimedSigningTime(); ok {
			result.ClaimedSigningTime = t
		}
	}

	if svtResult := v.validateWithToken(ctx, sig, result); svtResult != nil {
		return svtResult
	}

	if len(sig.Certificates) == 0 {
		if sig.HasKeyValue {
			result.Fail(sigval.StatusSignerNotAccepted, "signature carries no signer certificate", nil)
		} else {
			result.Fail(sigval.StatusBadFormat, "signature carries no key material", nil)
		}
		return result
	}

	signerCert, err := v.verifySignature(doc, sig)
	if err != nil {
		var ve *validationError
		if errors.As(err, &ve) {
			result.Fail(ve.status, ve.message, ve.err)
		} else {
			result.Fail(sigval.StatusInvalidSignature, "failed to parse signature data", err)
		}
		return result
	}
	result.SignerCertificate = signerCert
	result.Status = sigval.StatusSuccess
	result.Message = "signature verified"

	if terminal := v.validateSignerPath(ctx, result, sig); terminal {
		return result
	}

	if result.EtsiAdes {
		if err := sig.AdES.VerifyCertificateBinding(signerCert); err != nil {
			result.Fail(sigval.StatusSignerInvalid, "signer certificate does not match the committed certificate reference", err)
			return result
		}
	}

	v.collectTimestamps(ctx, result, sig)

	if v.policy != nil {
		verdict := v.policy.ValidatePolicy(ctx, &result.Result)
		result.PolicyResults = append(result.PolicyResults, verdict)
		if !verdict.Passed() {
			result.Status = verdict.Status
			result.Message = verdict.Message
		}
	}
	return result
}

// validationError carries the status a failed validation step maps to.
type validationError struct {
	status  sigval.Status
	message string
	err     error
}

func (e *validationError) Error() string { return e.message }
func (e *validationError) Unwrap() error { return e.err }

// verifySignature runs XMLDSig reference and signature verification and
// returns the certificate the signature verified against.
func (v *ElementValidator) verifySignature(doc *SignatureContext, sig *Signature) (*x509.Certificate, error) {
	docXML, err := doc.DocumentForSignature(sig)
	if err != nil {
		return nil, &validationError{status: sigval.StatusBadFormat, message: "unable to serialize document", err: err}
	}
	validator, err := signedxml.NewValidator(docXML)
	if err != nil {
		return nil, &validationError{status: sigval.StatusBadFormat, message: "unable to parse signature data", err: err}
	}
	certs := make([]x509.Certificate, len(sig.Certificates))
	for i, cert := range sig.Certificates {
		certs[i] = *cert
	}
	validator.Certificates = certs

	if _, err := validator.ValidateReferences(); err != nil {
		return nil, &validationError{status: sigval.StatusInvalidSignature, message: "signature validation failed", err: err}
	}

	signing := validator.SigningCert()
	if len(signing.Raw) == 0 {
		return nil, &validationError{status: sigval.StatusSignerNotAccepted, message: "no signer certificate accepted for the signature"}
	}
	for _, cert := range sig.Certificates {
		if bytes.Equal(cert.Raw, signing.Raw) {
			return cert, nil
		}
	}
	cert, err := x509.ParseCertificate(signing.Raw)
	if err != nil {
		return nil, &validationError{status: sigval.StatusSignerNotAccepted, message: "signer certificate could not be parsed", err: err}
	}
	return cert, nil
}

// validateSignerPath validates the signer certificate path. A path that
// was built but failed validation is recorded for the policy verdict;
// trust and processing failures are terminal.
func (v *ElementValidator) validateSignerPath(ctx context.Context, result *Result, sig *Signature) bool {
	if v.certValidator == nil {
		return false
	}
	path, err := v.certValidator.Validate(ctx, result.SignerCertificate, sig.Certificates)
	result.PathValidation = path
	if err == nil {
		return false
	}

	var buildErr *chain.PathBuildError
	var pathErr *chain.PathValidationError
	switch {
	case errors.As(err, &buildErr):
		result.Fail(sigval.StatusNotTrusted, "no trust path to an accepted trust anchor", err)
		return true
	case errors.As(err, &pathErr):
		if result.PathValidation == nil {
			result.PathValidation = &chain.PathValidationResult{
				ValidatedPath: pathErr.PartialPath,
				Statuses:      pathErr.Statuses,
			}
		}
		v.log.Debug("signer path validation failed",
			zap.String("signer", result.SignerCertificate.Subject.String()),
			zap.Error(err))
		return false
	default:
		result.Fail(sigval.StatusSignerInvalid, "signer certificate validation failed", err)
		return true
	}
}

// collectTimestamps verifies the XAdES signature timestamps and records
// them as time evidence. A timestamp that fails verification is dropped.
func (v *ElementValidator) collectTimestamps(ctx context.Context, result *Result, sig *Signature) {
	if sig.AdES == nil {
		return
	}
	for _, ts := range sig.AdES.SignatureTimestamps() {
		data, err := sig.CanonicalSignatureValue(ts.CanonicalizationMethod)
		if err != nil {
			v.log.Debug("cannot canonicalize timestamped data", zap.Error(err))
			continue
		}
		verification, err := v.timestamps.Verify(ctx, ts.Token, data)
		if err != nil {
			v.log.Debug("discarding signature timestamp", zap.Error(err))
			continue
		}
		result.TimeValidation = append(result.TimeValidation, sigval.TimeValidationResult{
			Claims:         verification.TimeClaims(),
			PathValidation: verification.PathValidation,
		})
	}
}

// validateWithToken attempts validation through the Signature Validation
// Tokens attached to the signature. Nil means no valid token covers the
// signature and direct validation proceeds.
func (v *ElementValidator) validateWithToken(ctx context.Context, sig *Signature, base *Result) *Result {
	if v.svtValidator == nil || len(sig.SVTokens) == 0 || len(sig.SignatureValue) == 0 {
		return nil
	}

	candidates := make([]svt.TokenCandidate, 0, len(sig.SVTokens))
	for _, raw := range sig.SVTokens {
		candidates = append(candidates, svt.TokenCandidate{Raw: raw})
	}
	matches, err := v.svtValidator.Validate(ctx, candidates, []svt.SignatureInput{
		{Name: sig.ID, SignatureValue: sig.SignatureValue},
	})
	if err != nil {
		v.log.Debug("token validation failed, falling back to direct validation", zap.Error(err))
		return nil
	}
	if len(matches) == 0 {
		return nil
	}
	match := matches[0]

	result := *base
	result.ValidatedBySVT = true
	result.SVTClaims = match.Claims
	result.Status = sigval.StatusSuccess
	result.Message = "signature accepted through signature validation token"
	result.SignatureAlgorithm = string(match.Token.Algorithm)
	if len(sig.Certificates) > 0 {
		result.SignerCertificate = sig.Certificates[0]
	}

	for _, pv := range match.Claims.SignatureValidation {
		result.PolicyResults = append(result.PolicyResults, sigval.PolicyValidationResult{
			Policy:     pv.Policy,
			Conclusion: pv.Result,
			Message:    pv.Message,
			Status:     sigval.StatusSuccess,
		})
	}
	for _, tv := range match.Claims.TimeValidation {
		result.TimeValidation = append(result.TimeValidation, sigval.TimeValidationResult{Claims: tv})
	}
	if claims, err := match.Token.Claims(); err == nil {
		result.TimeValidation = append(result.TimeValidation, sigval.TimeValidationResult{
			Claims: svt.TimeValidationClaims{
				Time:   claims.IssueTime().Unix(),
				Type:   svt.TimeValTypeSVT,
				Issuer: claims.Issuer,
				ID:     claims.JWTID,
				Validation: []svt.PolicyValidationClaims{
					{Policy: svt.PolicyPKIXValidation, Result: svt.ConclusionPassed},
				},
			},
		})
	}
	return &result
}
