package chain

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swedenconnect/sig-validation-base/validity"
)

// StatusChecker determines the revocation status of a certificate.
// *validity.Checker satisfies this interface.
type StatusChecker interface {
	Check(ctx context.Context, cert, issuer *x509.Certificate) (*validity.ValidationStatus, error)
}

// TrustPathVerifier verifies that a revocation status source is authorized.
// *validity.TrustPathChecker satisfies this interface.
type TrustPathVerifier interface {
	VerifyTrustPath(ctx context.Context, status *validity.ValidationStatus) error
}

// PathValidationResult is the outcome of full chain validation. A non-empty
// ValidatedPath means every certificate in it passed both validity and
// trust-path checks.
type PathValidationResult struct {
	// ValidatedPath runs from the target certificate to the trust anchor.
	ValidatedPath []*x509.Certificate

	// Anchor is the trust anchor terminating the path.
	Anchor *x509.Certificate

	// Statuses holds the per-certificate revocation statuses gathered
	// along the path, leaf first.
	Statuses []*validity.ValidationStatus

	// Success is true when the whole path validated.
	Success bool
}

// PathBuildError means no path to any trust anchor could be constructed.
// Callers should treat this as "signer not trusted".
type PathBuildError struct {
	Message string
	Err     error
}

func (e *PathBuildError) Error() string { return e.Message }
func (e *PathBuildError) Unwrap() error { return e.Err }

// PathValidationError means a path was built but a certificate along it
// failed a validity or trust-path check. It carries the partially validated
// path for diagnostics; callers should treat this as "signer invalid",
// subject to policy (a trusted timestamp may still save the signature).
type PathValidationError struct {
	Message string

	// PartialPath is the candidate path that failed, leaf first.
	PartialPath []*x509.Certificate

	// Statuses gathered before the failure.
	Statuses []*validity.ValidationStatus

	// RevocationTime is set when the failure was a revoked certificate.
	RevocationTime time.Time

	Err error
}

func (e *PathValidationError) Error() string { return e.Message }
func (e *PathValidationError) Unwrap() error { return e.Err }

// Validator builds and validates certificate paths.
type Validator struct {
	builder *Builder
	status  StatusChecker
	trust   TrustPathVerifier
	clock   clockwork.Clock
	log     *zap.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithStatusChecker enables revocation checking along built paths.
func WithStatusChecker(checker StatusChecker) ValidatorOption {
	return func(v *Validator) { v.status = checker }
}

// WithTrustPathVerifier enables revocation trust-path checking. It is only
// consulted when a status checker is configured.
func WithTrustPathVerifier(verifier TrustPathVerifier) ValidatorOption {
	return func(v *Validator) { v.trust = verifier }
}

// WithValidatorClock sets the clock used for time-validity decisions.
func WithValidatorClock(clock clockwork.Clock) ValidatorOption {
	return func(v *Validator) { v.clock = clock }
}

// WithValidatorLogger sets the logger.
func WithValidatorLogger(log *zap.Logger) ValidatorOption {
	return func(v *Validator) { v.log = log }
}

// NewValidator creates a Validator over the given path builder.
func NewValidator(builder *Builder, opts ...ValidatorOption) *Validator {
	v := &Validator{
		builder: builder,
		clock:   clockwork.NewRealClock(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate builds candidate paths from target to a trust anchor and
// validates them. The first fully validating path wins.
//
// When no path can be built the error is a *PathBuildError and the result
// is nil. When paths exist but none validates, the error is a
// *PathValidationError and the result carries the failing path with
// Success set to false.
func (v *Validator) Validate(ctx context.Context, target *x509.Certificate, supporting []*x509.Certificate) (*PathValidationResult, error) {
	paths, err := v.builder.Build(target, supporting)
	if err != nil {
		return nil, &PathBuildError{
			Message: fmt.Sprintf("no path to a trust anchor for %q", target.Subject.String()),
			Err:     err,
		}
	}

	var firstErr *PathValidationError
	for _, path := range paths {
		result, pathErr := v.validatePath(ctx, path)
		if pathErr == nil {
			v.log.Debug("certificate path validated",
				zap.String("subject", target.Subject.String()),
				zap.Int("length", len(result.ValidatedPath)))
			return result, nil
		}
		if firstErr == nil {
			firstErr = pathErr
		}
	}

	return &PathValidationResult{
		ValidatedPath: nil,
		Statuses:      firstErr.Statuses,
		Success:       false,
	}, firstErr
}

func (v *Validator) validatePath(ctx context.Context, path *Path) (*PathValidationResult, *PathValidationError) {
	now := v.clock.Now()
	full := path.Full()
	anchorCert := path.Anchor.Certificate()

	fail := func(format string, args ...interface{}) *PathValidationError {
		return &PathValidationError{
			Message:     fmt.Sprintf(format, args...),
			PartialPath: full,
		}
	}

	if !certTimeValid(anchorCert, now) {
		return nil, fail("trust anchor %q is not time valid", anchorCert.Subject.String())
	}

	var statuses []*validity.ValidationStatus
	for i, cert := range path.Certificates {
		issuer := anchorCert
		if i+1 < len(path.Certificates) {
			issuer = path.Certificates[i+1]
		}

		if !certTimeValid(cert, now) {
			return nil, fail("certificate %q is not time valid", cert.Subject.String())
		}
		if err := cert.CheckSignatureFrom(issuer); err != nil {
			return nil, fail("certificate %q not signed by %q: %v",
				cert.Subject.String(), issuer.Subject.String(), err)
		}

		if v.status == nil {
			continue
		}
		status, err := v.status.Check(ctx, cert, issuer)
		if err != nil {
			// A certificate that names no revocation source cannot be
			// status-checked; this is not a path failure.
			if errors.Is(err, validity.ErrNoStatusSource) {
				continue
			}
			pvErr := fail("revocation status of %q could not be determined: %v",
				cert.Subject.String(), err)
			pvErr.Statuses = statuses
			pvErr.Err = err
			return nil, pvErr
		}

		if v.trust != nil {
			if err := v.trust.VerifyTrustPath(ctx, status); err != nil {
				pvErr := fail("revocation status source for %q not authorized: %v",
					cert.Subject.String(), err)
				pvErr.Statuses = statuses
				pvErr.Err = err
				return nil, pvErr
			}
		}
		statuses = append(statuses, status)

		if status.Validity == validity.ValidityRevoked {
			pvErr := fail("certificate %q revoked at %s",
				cert.Subject.String(), status.RevocationTime.Format(time.RFC3339))
			pvErr.Statuses = statuses
			pvErr.RevocationTime = status.RevocationTime
			return nil, pvErr
		}
	}

	return &PathValidationResult{
		ValidatedPath: full,
		Anchor:        anchorCert,
		Statuses:      statuses,
		Success:       true,
	}, nil
}

// Target is one unit of work for ValidateAll.
type Target struct {
	Certificate *x509.Certificate
	Supporting  []*x509.Certificate
}

// BatchResult pairs a target with its validation outcome.
type BatchResult struct {
	Target Target
	Result *PathValidationResult
	Err    error
}

// ValidateAll validates independent targets through a bounded worker pool
// and returns one result per target, in input order. A limit of zero or
// less means no bound.
func (v *Validator) ValidateAll(ctx context.Context, targets []Target, limit int) []BatchResult {
	results := make([]BatchResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			result, err := v.Validate(gctx, target.Certificate, target.Supporting)
			results[i] = BatchResult{Target: target, Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// certTimeValid reports whether cert is within its validity window at t.
func certTimeValid(cert *x509.Certificate, t time.Time) bool {
	return !t.Before(cert.NotBefore) && !t.After(cert.NotAfter)
}
