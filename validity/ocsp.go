package validity

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/ocsp"
)

// OCSP checker errors.
var (
	ErrNoOCSPServers    = errors.New("no OCSP servers")
	ErrOCSPExchange     = errors.New("OCSP exchange failed")
	ErrOCSPParseFailed  = errors.New("OCSP parse failed")
	ErrOCSPRequestBuild = errors.New("OCSP request could not be created")
)

// Requester performs a single OCSP request/response exchange with a
// responder URL.
type Requester interface {
	Request(ctx context.Context, serverURL string, request []byte) ([]byte, error)
}

// HTTPRequester exchanges OCSP messages over HTTP. POST is tried first;
// on failure the GET form with the base64-encoded request in the URL path
// is used as fallback.
type HTTPRequester struct {
	client          *http.Client
	maxResponseSize int64
	userAgent       string
}

// NewHTTPRequester creates an HTTPRequester. A nil client gets a default
// with the given timeout.
func NewHTTPRequester(client *http.Client, timeout time.Duration) *HTTPRequester {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPRequester{
		client:          client,
		maxResponseSize: 1 * 1024 * 1024,
		userAgent:       "sig-validation-base/1.0",
	}
}

// Request performs the OCSP exchange.
func (r *HTTPRequester) Request(ctx context.Context, serverURL string, request []byte) ([]byte, error) {
	body, err := r.post(ctx, serverURL, request)
	if err == nil {
		return body, nil
	}
	return r.get(ctx, serverURL, request)
}

func (r *HTTPRequester) post(ctx context.Context, serverURL string, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(request))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPExchange, err)
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("User-Agent", r.userAgent)
	return r.do(req)
}

func (r *HTTPRequester) get(ctx context.Context, serverURL string, request []byte) ([]byte, error) {
	encoded := base64.StdEncoding.EncodeToString(request)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/"+url.PathEscape(encoded), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPExchange, err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	return r.do(req)
}

func (r *HTTPRequester) do(req *http.Request) ([]byte, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrOCSPExchange, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPExchange, err)
	}
	return body, nil
}

// OCSPChecker determines certificate revocation status through OCSP. The
// response signature is verified when parsing; the responder certificate
// (when embedded) and its chain are recorded on the status for the
// subsequent trust-path check.
type OCSPChecker struct {
	requester Requester
	clock     clockwork.Clock
	log       *zap.Logger
}

// OCSPOption configures an OCSPChecker.
type OCSPOption func(*OCSPChecker)

// WithOCSPClock sets the clock.
func WithOCSPClock(clock clockwork.Clock) OCSPOption {
	return func(c *OCSPChecker) { c.clock = clock }
}

// WithOCSPLogger sets the logger.
func WithOCSPLogger(log *zap.Logger) OCSPOption {
	return func(c *OCSPChecker) { c.log = log }
}

// NewOCSPChecker creates an OCSPChecker using the given requester.
func NewOCSPChecker(requester Requester, opts ...OCSPOption) *OCSPChecker {
	c := &OCSPChecker{
		requester: requester,
		clock:     clockwork.NewRealClock(),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check determines the revocation status of cert via its OCSP servers.
// Servers are tried in order until one answers with a verifiable response.
func (c *OCSPChecker) Check(ctx context.Context, cert, issuer *x509.Certificate) (*ValidationStatus, error) {
	if len(cert.OCSPServer) == 0 {
		return nil, ErrNoOCSPServers
	}

	request, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPRequestBuild, err)
	}

	var lastErr error
	for _, server := range cert.OCSPServer {
		status, err := c.checkAgainst(ctx, server, request, cert, issuer)
		if err != nil {
			c.log.Debug("OCSP check against responder failed",
				zap.String("url", server),
				zap.Error(err))
			lastErr = err
			continue
		}
		return status, nil
	}
	return nil, lastErr
}

func (c *OCSPChecker) checkAgainst(ctx context.Context, server string, request []byte, cert, issuer *x509.Certificate) (*ValidationStatus, error) {
	body, err := c.requester.Request(ctx, server, request)
	if err != nil {
		return nil, err
	}

	resp, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPParseFailed, err)
	}

	status := &ValidationStatus{
		Certificate:      cert,
		Issuer:           issuer,
		Source:           SourceOCSP,
		SourceURL:        server,
		RevocationReason: -1,
		StatusSignerCert: issuer,
		CheckTime:        c.clock.Now(),
	}
	if resp.Certificate != nil {
		status.StatusSignerCert = resp.Certificate
		status.StatusSignerChain = []*x509.Certificate{resp.Certificate, issuer}
	}

	switch resp.Status {
	case ocsp.Good:
		status.Validity = ValidityValid
	case ocsp.Revoked:
		status.Validity = ValidityRevoked
		status.RevocationTime = resp.RevokedAt
		status.RevocationReason = resp.RevocationReason
	default:
		status.Validity = ValidityUnknown
	}

	c.log.Debug("OCSP status determined",
		zap.String("url", server),
		zap.String("serial", cert.SerialNumber.String()),
		zap.String("validity", status.Validity.String()))
	return status, nil
}
