package pdfsig

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/swedenconnect/sig-validation-base/chain"
	"github.com/swedenconnect/sig-validation-base/cms"
	"github.com/swedenconnect/sig-validation-base/sigval"
	"github.com/swedenconnect/sig-validation-base/svt"
	"github.com/swedenconnect/sig-validation-base/timestamp"
)

// Result is the outcome of validating one PDF signature.
type Result struct {
	sigval.Result

	// Name is the signature field name, possibly empty.
	Name string
}

// DocumentValidator validates every signature in a PDF document.
type DocumentValidator struct {
	certValidator sigval.CertificateValidator
	policy        sigval.PolicyValidator
	timestamps    *timestamp.Verifier
	svtValidator  *svt.Validator
	log           *zap.Logger
}

// Option configures a DocumentValidator.
type Option func(*DocumentValidator)

// WithCertificateValidator sets the signer certificate path validator.
func WithCertificateValidator(cv sigval.CertificateValidator) Option {
	return func(v *DocumentValidator) { v.certValidator = cv }
}

// WithPolicyValidator replaces the default PKIX policy validator.
func WithPolicyValidator(policy sigval.PolicyValidator) Option {
	return func(v *DocumentValidator) { v.policy = policy }
}

// WithTimestampVerifier sets the verifier for signature and document
// timestamps.
func WithTimestampVerifier(verifier *timestamp.Verifier) Option {
	return func(v *DocumentValidator) { v.timestamps = verifier }
}

// WithSVTValidator enables validation through Signature Validation Tokens
// carried in document timestamps.
func WithSVTValidator(validator *svt.Validator) Option {
	return func(v *DocumentValidator) { v.svtValidator = validator }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(v *DocumentValidator) { v.log = log }
}

// NewDocumentValidator creates a document validator. Without options the
// validator verifies signatures cryptographically, leaves certificate
// paths unvalidated and applies the basic PKIX policy.
func NewDocumentValidator(opts ...Option) *DocumentValidator {
	v := &DocumentValidator{
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

// Validate parses the document and validates each approval signature. A
// valid Signature Validation Token carried in a document timestamp
// replaces direct cryptographic validation for the signatures it covers.
func (v *DocumentValidator) Validate(ctx context.Context, data []byte) ([]*Result, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return v.ValidateParsed(ctx, doc)
}

// ValidateParsed validates the signatures of an already parsed document.
func (v *DocumentValidator) ValidateParsed(ctx context.Context, doc *Document) ([]*Result, error) {
	v.log.Debug("validating PDF document",
		zap.Int("signatures", len(doc.Signatures)),
		zap.Int("timestamps", len(doc.Timestamps)))

	matches := v.matchTokens(ctx, doc)
	evidence := v.documentTimestampEvidence(ctx, doc)

	results := make([]*Result, 0, len(doc.Signatures))
	for i, sig := range doc.Signatures {
		name := signatureName(sig, i)
		if match, ok := matches[name]; ok {
			results = append(results, v.tokenResult(sig, name, match))
			continue
		}
		results = append(results, v.validateSignature(ctx, sig, name, evidence))
	}
	return results, nil
}

// ValidateDocument validates the document and concludes a document-level
// verdict over the per-signature results.
func (v *DocumentValidator) ValidateDocument(ctx context.Context, data []byte) (*sigval.SignedDocumentValidationResult, []*Result, error) {
	results, err := v.Validate(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	return sigval.Conclude(CoreResults(results)), results, nil
}

// CoreResults extracts the embedded per-signature core results.
func CoreResults(results []*Result) []*sigval.Result {
	out := make([]*sigval.Result, len(results))
	for i := range results {
		out[i] = &results[i].Result
	}
	return out
}

// signatureName returns a stable identifier for a signature: the field
// name when set, an index-derived fallback otherwise.
func signatureName(sig *DocumentSignature, index int) string {
	if sig.Name != "" {
		return sig.Name
	}
	return fmt.Sprintf("signature-%d", index+1)
}

// matchTokens validates the Signature Validation Tokens carried in the
// document's timestamps and maps signature names onto their claim records.
func (v *DocumentValidator) matchTokens(ctx context.Context, doc *Document) map[string]svt.SignatureResult {
	if v.svtValidator == nil {
		return nil
	}

	var candidates []svt.TokenCandidate
	for _, ts := range doc.Timestamps {
		if ts.Kind != KindSVTDocTimeStamp {
			continue
		}
		candidates = append(candidates, svt.TokenCandidate{
			Raw:             ts.SVT,
			TimestampSigner: ts.Token.SignerCertificate(),
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	var inputs []svt.SignatureInput
	for i, sig := range doc.Signatures {
		sd, err := sig.ParseCMS()
		if err != nil {
			continue
		}
		inputs = append(inputs, svt.SignatureInput{
			Name:           signatureName(sig, i),
			SignatureValue: sd.SignatureValue(),
		})
	}

	found, err := v.svtValidator.Validate(ctx, candidates, inputs)
	if err != nil {
		v.log.Debug("token validation failed, falling back to direct validation", zap.Error(err))
		return nil
	}
	matches := make(map[string]svt.SignatureResult, len(found))
	for _, match := range found {
		matches[match.Name] = match
	}
	return matches
}

// documentTimestampEvidence verifies the document timestamps once and
// returns them as time evidence shared by every signature they succeed.
func (v *DocumentValidator) documentTimestampEvidence(ctx context.Context, doc *Document) []sigval.TimeValidationResult {
	var evidence []sigval.TimeValidationResult
	for _, ts := range doc.Timestamps {
		verification, err := v.timestamps.Verify(ctx, ts.CMSData(), ts.SignedData())
		if err != nil {
			v.log.Debug("discarding document timestamp", zap.Error(err))
			continue
		}
		evidence = append(evidence, sigval.TimeValidationResult{
			Claims:         verification.TimeClaims(),
			PathValidation: verification.PathValidation,
		})
	}
	return evidence
}

// validateSignature runs the direct CMS validation path for one signature.
func (v *DocumentValidator) validateSignature(ctx context.Context, sig *DocumentSignature, name string, evidence []sigval.TimeValidationResult) *Result {
	result := &Result{Name: name}
	result.CoversDocument = sig.CoversDocument
	result.ClaimedSigningTime = sig.ClaimedSigningTime

	sd, err := sig.ParseCMS()
	if err != nil {
		result.Fail(sigval.StatusBadFormat, "unable to parse signature data", err)
		return result
	}
	result.CertificateChain = sd.Certificates
	result.SignatureAlgorithm = sd.SignatureAlgorithmOID().String()
	result.EtsiAdes = sig.SubFilter == SubFilterCAdES || sd.HasSigningCertificateRef()

	if sd.SignerCertificate == nil {
		result.Fail(sigval.StatusSignerNotAccepted, "signature carries no signer certificate", cms.ErrMissingCertificate)
		return result
	}
	result.SignerCertificate = sd.SignerCertificate

	if err := sd.Verify(sig.SignedData()); err != nil {
		if errors.Is(err, cms.ErrCertRefMismatch) {
			result.Fail(sigval.StatusSignerInvalid, "signer certificate does not match the committed certificate reference", err)
		} else {
			result.Fail(sigval.StatusInvalidSignature, "signature validation failed", err)
		}
		return result
	}
	result.Status = sigval.StatusSuccess
	result.Message = "signature verified"

	if t, ok := sd.SigningTime(); ok {
		result.ClaimedSigningTime = t
	}

	if terminal := v.validateSignerPath(ctx, result, sd); terminal {
		return result
	}

	if tokenData, ok := sd.TimestampToken(); ok {
		verification, err := v.timestamps.Verify(ctx, tokenData, sd.SignatureValue())
		if err != nil {
			v.log.Debug("discarding signature timestamp", zap.Error(err))
		} else {
			result.TimeValidation = append(result.TimeValidation, sigval.TimeValidationResult{
				Claims:         verification.TimeClaims(),
				PathValidation: verification.PathValidation,
			})
		}
	}
	result.TimeValidation = append(result.TimeValidation, evidence...)

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

// validateSignerPath validates the signer certificate path. A path that
// was built but failed validation is recorded for the policy verdict;
// trust and processing failures are terminal.
func (v *DocumentValidator) validateSignerPath(ctx context.Context, result *Result, sd *cms.SignedData) bool {
	if v.certValidator == nil {
		return false
	}
	path, err := v.certValidator.Validate(ctx, result.SignerCertificate, sd.Certificates)
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

// tokenResult synthesizes a result for a signature covered by a valid
// Signature Validation Token.
func (v *DocumentValidator) tokenResult(sig *DocumentSignature, name string, match svt.SignatureResult) *Result {
	result := &Result{Name: name}
	result.CoversDocument = sig.CoversDocument
	result.ClaimedSigningTime = sig.ClaimedSigningTime
	result.ValidatedBySVT = true
	result.SVTClaims = match.Claims
	result.Status = sigval.StatusSuccess
	result.Message = "signature accepted through signature validation token"
	result.SignatureAlgorithm = string(match.Token.Algorithm)
	result.EtsiAdes = sig.SubFilter == SubFilterCAdES

	if sd, err := sig.ParseCMS(); err == nil {
		result.CertificateChain = sd.Certificates
		result.SignerCertificate = sd.SignerCertificate
		if t, ok := sd.SigningTime(); ok {
			result.ClaimedSigningTime = t
		}
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
	return result
}
