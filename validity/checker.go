package validity

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoStatusSource means the certificate carries neither CRL distribution
// points nor OCSP responder URLs.
var ErrNoStatusSource = errors.New("no revocation status source for certificate")

// Checker combines CRL and OCSP checking for a single certificate. In the
// default mode both sources are probed concurrently and the most relevant
// answer wins; single-threaded mode probes sequentially and is required when
// the checker is invoked recursively from a trust-path check, to avoid
// nested fan-out.
type Checker struct {
	crl            *CRLChecker
	ocsp           *OCSPChecker
	singleThreaded bool
	log            *zap.Logger
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithSingleThreaded makes Check probe CRL and OCSP sequentially instead of
// concurrently.
func WithSingleThreaded() CheckerOption {
	return func(c *Checker) { c.singleThreaded = true }
}

// WithCheckerLogger sets the logger.
func WithCheckerLogger(log *zap.Logger) CheckerOption {
	return func(c *Checker) { c.log = log }
}

// NewChecker creates a Checker. Either source checker may be nil, in which
// case only the other is consulted.
func NewChecker(crl *CRLChecker, ocsp *OCSPChecker, opts ...CheckerOption) *Checker {
	c := &Checker{
		crl:  crl,
		ocsp: ocsp,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check determines the revocation status of cert.
//
// A revoked answer from either source wins over everything else. Among
// non-revoked answers an OCSP answer is preferred as the fresher statement.
// When neither source yields a definitive answer the first error
// encountered is returned.
func (c *Checker) Check(ctx context.Context, cert, issuer *x509.Certificate) (*ValidationStatus, error) {
	hasCRL := c.crl != nil && len(cert.CRLDistributionPoints) > 0
	hasOCSP := c.ocsp != nil && len(cert.OCSPServer) > 0
	if !hasCRL && !hasOCSP {
		return nil, ErrNoStatusSource
	}

	var (
		crlStatus, ocspStatus *ValidationStatus
		crlErr, ocspErr       error
	)

	if c.singleThreaded {
		if hasOCSP {
			ocspStatus, ocspErr = c.ocsp.Check(ctx, cert, issuer)
		}
		if hasCRL && !definitive(ocspStatus) {
			crlStatus, crlErr = c.crl.Check(ctx, cert, issuer)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		if hasOCSP {
			g.Go(func() error {
				ocspStatus, ocspErr = c.ocsp.Check(gctx, cert, issuer)
				return nil
			})
		}
		if hasCRL {
			g.Go(func() error {
				crlStatus, crlErr = c.crl.Check(gctx, cert, issuer)
				return nil
			})
		}
		_ = g.Wait()
	}

	status := mostRelevant(ocspStatus, crlStatus)
	if status != nil {
		return status, nil
	}

	if ocspErr != nil {
		return nil, fmt.Errorf("revocation status could not be determined: %w", ocspErr)
	}
	if crlErr != nil {
		return nil, fmt.Errorf("revocation status could not be determined: %w", crlErr)
	}
	return nil, ErrNoStatusSource
}

// definitive reports whether a status makes a usable trust statement.
func definitive(status *ValidationStatus) bool {
	if status == nil {
		return false
	}
	return status.Validity == ValidityValid || status.Validity == ValidityRevoked
}

// mostRelevant picks the answer to act on: revoked beats valid, OCSP beats
// CRL on ties.
func mostRelevant(ocspStatus, crlStatus *ValidationStatus) *ValidationStatus {
	for _, s := range []*ValidationStatus{ocspStatus, crlStatus} {
		if s != nil && s.Validity == ValidityRevoked {
			return s
		}
	}
	for _, s := range []*ValidationStatus{ocspStatus, crlStatus} {
		if definitive(s) {
			return s
		}
	}
	return nil
}
