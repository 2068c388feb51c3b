package validity

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/swedenconnect/sig-validation-base/crlcache"
)

// CRL checker errors.
var (
	ErrNoDistributionPoints = errors.New("no CRL distribution points")
	ErrCRLSignature         = errors.New("CRL signature verification failed")
	ErrCRLStale             = errors.New("CRL is past its next update")
)

// CRLChecker determines certificate revocation status from revocation lists
// fetched through a shared cache. The CRL signature is verified against the
// certificate's issuer before the list is trusted.
type CRLChecker struct {
	cache *crlcache.Cache
	clock clockwork.Clock
	log   *zap.Logger
}

// CRLOption configures a CRLChecker.
type CRLOption func(*CRLChecker)

// WithCRLClock sets the clock used for freshness decisions.
func WithCRLClock(clock clockwork.Clock) CRLOption {
	return func(c *CRLChecker) { c.clock = clock }
}

// WithCRLLogger sets the logger.
func WithCRLLogger(log *zap.Logger) CRLOption {
	return func(c *CRLChecker) { c.log = log }
}

// NewCRLChecker creates a CRLChecker backed by the given cache.
func NewCRLChecker(cache *crlcache.Cache, opts ...CRLOption) *CRLChecker {
	c := &CRLChecker{
		cache: cache,
		clock: clockwork.NewRealClock(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check determines the revocation status of cert using its CRL distribution
// points. Distribution points are tried in order; the first list that parses
// and verifies against the issuer decides the status. The issuer is recorded
// as the status signer.
func (c *CRLChecker) Check(ctx context.Context, cert, issuer *x509.Certificate) (*ValidationStatus, error) {
	if len(cert.CRLDistributionPoints) == 0 {
		return nil, ErrNoDistributionPoints
	}

	var lastErr error
	for _, dp := range cert.CRLDistributionPoints {
		status, err := c.checkAgainst(ctx, dp, cert, issuer)
		if err != nil {
			c.log.Debug("CRL check against distribution point failed",
				zap.String("url", dp),
				zap.Error(err))
			lastErr = err
			continue
		}
		return status, nil
	}
	return nil, lastErr
}

func (c *CRLChecker) checkAgainst(ctx context.Context, dp string, cert, issuer *x509.Certificate) (*ValidationStatus, error) {
	data, err := c.cache.Get(ctx, dp)
	if err != nil {
		// Stale fallback: the cache returns the last good bytes together
		// with the refresh error. Use them if present.
		if data == nil {
			return nil, err
		}
		c.log.Warn("using stale CRL after failed refresh", zap.String("url", dp))
	}

	crl, err := x509.ParseRevocationList(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crlcache.ErrCRLParseFailed, err)
	}

	if err := crl.CheckSignatureFrom(issuer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCRLSignature, err)
	}

	now := c.clock.Now()
	if !crl.NextUpdate.IsZero() && !now.Before(crl.NextUpdate) {
		return nil, fmt.Errorf("%w: next update %s", ErrCRLStale, crl.NextUpdate.Format(time.RFC3339))
	}

	status := &ValidationStatus{
		Certificate:      cert,
		Issuer:           issuer,
		Source:           SourceCRL,
		SourceURL:        dp,
		Validity:         ValidityValid,
		RevocationReason: -1,
		StatusSignerCert: issuer,
		CheckTime:        now,
	}

	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			status.Validity = ValidityRevoked
			status.RevocationTime = entry.RevocationTime
			status.RevocationReason = entry.ReasonCode
			break
		}
	}

	c.log.Debug("CRL status determined",
		zap.String("url", dp),
		zap.String("serial", cert.SerialNumber.String()),
		zap.String("validity", status.Validity.String()))
	return status, nil
}
