package validity

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// oidOCSPNoCheck is the id-pkix-ocsp-nocheck extension marking a responder
// certificate whose own revocation status need not be checked.
var oidOCSPNoCheck = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 5}

// Reason classifies why a revocation trust-path check failed.
type Reason int

const (
	// ReasonUnknownSource means the status has no recognized source type.
	ReasonUnknownSource Reason = iota
	// ReasonMissingStatusSigner means the status carries no signer certificate.
	ReasonMissingStatusSigner
	// ReasonIssuerMismatch means a CRL was signed by a CA other than the
	// one that issued the target certificate.
	ReasonIssuerMismatch
	// ReasonIssuerNotTimeValid means the issuing CA certificate is expired
	// or not yet valid.
	ReasonIssuerNotTimeValid
	// ReasonSignerNotCA means the CRL signer is not marked as a CA.
	ReasonSignerNotCA
	// ReasonNoCRLSignKeyUsage means the CRL signer lacks the cRLSign key
	// usage bit.
	ReasonNoCRLSignKeyUsage
	// ReasonResponderNotTimeValid means the OCSP responder certificate is
	// expired or not yet valid.
	ReasonResponderNotTimeValid
	// ReasonResponderSignature means the responder certificate does not
	// verify against the issuing CA's key.
	ReasonResponderSignature
	// ReasonTrustCycle means the certificate under validation appears in
	// the responder's own supporting chain.
	ReasonTrustCycle
	// ReasonNoOCSPSigningEKU means the responder certificate lacks the
	// OCSP-signing extended key usage.
	ReasonNoOCSPSigningEKU
	// ReasonResponderRevoked means the responder certificate itself is
	// revoked.
	ReasonResponderRevoked
	// ReasonResponderStatusUnknown means the responder certificate's own
	// revocation status could not be determined.
	ReasonResponderStatusUnknown
	// ReasonDepthExceeded means responder status checking recursed past the
	// configured depth limit.
	ReasonDepthExceeded
)

// String returns a string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonMissingStatusSigner:
		return "missing status signer"
	case ReasonIssuerMismatch:
		return "CRL issuer mismatch"
	case ReasonIssuerNotTimeValid:
		return "issuer not time valid"
	case ReasonSignerNotCA:
		return "signer not a CA"
	case ReasonNoCRLSignKeyUsage:
		return "no cRLSign key usage"
	case ReasonResponderNotTimeValid:
		return "responder not time valid"
	case ReasonResponderSignature:
		return "responder signature invalid"
	case ReasonTrustCycle:
		return "trust cycle"
	case ReasonNoOCSPSigningEKU:
		return "no OCSP signing EKU"
	case ReasonResponderRevoked:
		return "responder revoked"
	case ReasonResponderStatusUnknown:
		return "responder status unknown"
	case ReasonDepthExceeded:
		return "recursion depth exceeded"
	default:
		return "unknown source"
	}
}

// TrustPathError reports that the source asserting a revocation status is
// not authorized to do so. It is distinct from a revoked certificate: the
// caller can tell "untrusted status source" apart from "certificate revoked"
// through the Reason.
type TrustPathError struct {
	Reason  Reason
	Message string
}

func (e *TrustPathError) Error() string {
	return e.Message
}

func trustErr(reason Reason, format string, args ...interface{}) *TrustPathError {
	return &TrustPathError{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

// TrustPathChecker verifies that the certificate asserting a revocation
// status is authorized to make that assertion. CRL statuses require the
// exact issuing CA as signer with CRL-signing capability; OCSP statuses
// require either the issuer itself or a responder certificate issued by it
// with the OCSP-signing extended key usage. Responder certificates without
// the no-check extension have their own revocation status checked
// recursively, bounded by an explicit depth limit.
type TrustPathChecker struct {
	checker  *Checker
	clock    clockwork.Clock
	maxDepth int
	log      *zap.Logger
}

// TrustPathOption configures a TrustPathChecker.
type TrustPathOption func(*TrustPathChecker)

// WithMaxDepth sets the responder-status recursion depth limit.
func WithMaxDepth(depth int) TrustPathOption {
	return func(c *TrustPathChecker) { c.maxDepth = depth }
}

// WithTrustPathClock sets the clock used for time-validity decisions.
func WithTrustPathClock(clock clockwork.Clock) TrustPathOption {
	return func(c *TrustPathChecker) { c.clock = clock }
}

// WithTrustPathLogger sets the logger.
func WithTrustPathLogger(log *zap.Logger) TrustPathOption {
	return func(c *TrustPathChecker) { c.log = log }
}

// NewTrustPathChecker creates a TrustPathChecker. The checker is used to
// determine the revocation status of OCSP responder certificates without
// the no-check extension; it should run in single-threaded mode. The
// default recursion depth limit is 1.
func NewTrustPathChecker(checker *Checker, opts ...TrustPathOption) *TrustPathChecker {
	c := &TrustPathChecker{
		checker:  checker,
		clock:    clockwork.NewRealClock(),
		maxDepth: 1,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// VerifyTrustPath verifies that the source of the given status is
// authorized. A nil return means the status may be acted on.
func (c *TrustPathChecker) VerifyTrustPath(ctx context.Context, status *ValidationStatus) error {
	return c.verify(ctx, status, 0)
}

func (c *TrustPathChecker) verify(ctx context.Context, status *ValidationStatus, depth int) error {
	switch status.Source {
	case SourceCRL:
		return c.verifyCRL(status)
	case SourceOCSP:
		return c.verifyOCSP(ctx, status, depth)
	default:
		return trustErr(ReasonUnknownSource, "unrecognized revocation source %q", status.Source)
	}
}

// verifyCRL requires the CRL signer to be the exact CA that issued the
// target certificate. No cross-CA CRL acceptance.
func (c *TrustPathChecker) verifyCRL(status *ValidationStatus) error {
	signer := status.StatusSignerCert
	if signer == nil {
		return trustErr(ReasonMissingStatusSigner, "CRL status carries no signer certificate")
	}
	if !signer.Equal(status.Issuer) {
		return trustErr(ReasonIssuerMismatch,
			"CRL signed by %q, expected issuing CA %q",
			signer.Subject.CommonName, status.Issuer.Subject.CommonName)
	}
	now := c.clock.Now()
	if !timeValid(status.Issuer, now) {
		return trustErr(ReasonIssuerNotTimeValid,
			"issuing CA %q is not time valid", status.Issuer.Subject.CommonName)
	}
	if !signer.BasicConstraintsValid || !signer.IsCA {
		return trustErr(ReasonSignerNotCA,
			"CRL signer %q is not a CA", signer.Subject.CommonName)
	}
	if signer.KeyUsage&x509.KeyUsageCRLSign == 0 {
		return trustErr(ReasonNoCRLSignKeyUsage,
			"CRL signer %q lacks the cRLSign key usage", signer.Subject.CommonName)
	}
	return nil
}

// verifyOCSP performs the single-hop responder trust check: the responder
// is either the issuer itself or directly certified by it. Responders
// without the no-check extension get their own revocation status checked,
// one level at a time up to the depth limit.
func (c *TrustPathChecker) verifyOCSP(ctx context.Context, status *ValidationStatus, depth int) error {
	signer := status.StatusSignerCert
	if signer == nil {
		return trustErr(ReasonMissingStatusSigner, "OCSP status carries no signer certificate")
	}

	now := c.clock.Now()
	if !timeValid(status.Issuer, now) {
		return trustErr(ReasonIssuerNotTimeValid,
			"issuing CA %q is not time valid", status.Issuer.Subject.CommonName)
	}
	if !timeValid(signer, now) {
		return trustErr(ReasonResponderNotTimeValid,
			"OCSP responder %q is not time valid", signer.Subject.CommonName)
	}

	// The issuer answering for its own certificates is immediately trusted.
	if signer.Equal(status.Issuer) {
		return nil
	}

	// A responder whose supporting chain contains the certificate under
	// validation would let that certificate vouch for its own status.
	for _, chainCert := range status.StatusSignerChain {
		if chainCert.Equal(status.Certificate) {
			return trustErr(ReasonTrustCycle,
				"certificate under validation appears in the responder chain")
		}
	}

	if err := signer.CheckSignatureFrom(status.Issuer); err != nil {
		return trustErr(ReasonResponderSignature,
			"OCSP responder %q not certified by issuing CA: %v",
			signer.Subject.CommonName, err)
	}

	if !hasOCSPSigningEKU(signer) {
		return trustErr(ReasonNoOCSPSigningEKU,
			"OCSP responder %q lacks the OCSP-signing extended key usage",
			signer.Subject.CommonName)
	}

	if hasOCSPNoCheck(signer) {
		return nil
	}

	// The responder's own status must be verified through the same machinery.
	if depth >= c.maxDepth {
		return trustErr(ReasonDepthExceeded,
			"responder status recursion exceeded depth %d", c.maxDepth)
	}
	if c.checker == nil {
		return trustErr(ReasonResponderStatusUnknown,
			"no checker configured for responder status")
	}

	c.log.Debug("checking OCSP responder revocation status",
		zap.String("responder", signer.Subject.CommonName),
		zap.Int("depth", depth+1))

	responderStatus, err := c.checker.Check(ctx, signer, status.Issuer)
	if err != nil {
		return trustErr(ReasonResponderStatusUnknown,
			"responder status check failed: %v", err)
	}
	switch responderStatus.Validity {
	case ValidityRevoked:
		return trustErr(ReasonResponderRevoked,
			"OCSP responder %q revoked at %s",
			signer.Subject.CommonName,
			responderStatus.RevocationTime.Format(time.RFC3339))
	case ValidityValid:
		return c.verify(ctx, responderStatus, depth+1)
	default:
		return trustErr(ReasonResponderStatusUnknown,
			"OCSP responder %q status is %s",
			signer.Subject.CommonName, responderStatus.Validity)
	}
}

// timeValid reports whether cert is within its validity window at t.
func timeValid(cert *x509.Certificate, t time.Time) bool {
	return !t.Before(cert.NotBefore) && !t.After(cert.NotAfter)
}

// hasOCSPSigningEKU reports whether cert carries the OCSP-signing extended
// key usage.
func hasOCSPSigningEKU(cert *x509.Certificate) bool {
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageOCSPSigning {
			return true
		}
	}
	return false
}

// hasOCSPNoCheck reports whether cert carries the id-pkix-ocsp-nocheck
// extension.
func hasOCSPNoCheck(cert *x509.Certificate) bool {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidOCSPNoCheck) {
			return true
		}
	}
	return false
}
