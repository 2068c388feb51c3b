package validity

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"
)

const testResponder = "http://ocsp.example.com"

// cannedRequester answers every exchange with pre-built response bytes.
type cannedRequester struct {
	response []byte
	err      error
	calls    int
}

func (r *cannedRequester) Request(_ context.Context, _ string, _ []byte) ([]byte, error) {
	r.calls++
	return r.response, r.err
}

// buildOCSPResponse creates a signed OCSP response where the issuing CA
// answers for its own certificate.
func buildOCSPResponse(t *testing.T, ca *x509.Certificate, caKey *ecdsa.PrivateKey, template ocsp.Response) []byte {
	t.Helper()

	der, err := ocsp.CreateResponse(ca, ca, template, caKey)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

func TestOCSPCheckerGood(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", func(c *x509.Certificate) {
		c.OCSPServer = []string{testResponder}
	})

	resp := buildOCSPResponse(t, ca, caKey, ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: leaf.SerialNumber,
		ThisUpdate:   time.Now().Add(-time.Minute),
		NextUpdate:   time.Now().Add(time.Hour),
	})
	checker := NewOCSPChecker(&cannedRequester{response: resp})

	status, err := checker.Check(context.Background(), leaf, ca)
	if err != nil {
		t.Fatal(err)
	}
	if status.Validity != ValidityValid {
		t.Errorf("expected valid, got %s", status.Validity)
	}
	if status.Source != SourceOCSP {
		t.Errorf("expected OCSP source, got %s", status.Source)
	}
	if status.StatusSignerCert == nil {
		t.Fatal("expected a status signer certificate")
	}
}

func TestOCSPCheckerRevoked(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", func(c *x509.Certificate) {
		c.OCSPServer = []string{testResponder}
	})

	revokedAt := time.Now().Add(-time.Hour).Truncate(time.Second)
	resp := buildOCSPResponse(t, ca, caKey, ocsp.Response{
		Status:           ocsp.Revoked,
		SerialNumber:     leaf.SerialNumber,
		ThisUpdate:       time.Now().Add(-time.Minute),
		NextUpdate:       time.Now().Add(time.Hour),
		RevokedAt:        revokedAt,
		RevocationReason: ocsp.KeyCompromise,
	})
	checker := NewOCSPChecker(&cannedRequester{response: resp})

	status, err := checker.Check(context.Background(), leaf, ca)
	if err != nil {
		t.Fatal(err)
	}
	if status.Validity != ValidityRevoked {
		t.Fatalf("expected revoked, got %s", status.Validity)
	}
	if status.RevocationTime.IsZero() {
		t.Error("expected a revocation time")
	}
	if status.RevocationReason != ocsp.KeyCompromise {
		t.Errorf("unexpected revocation reason %d", status.RevocationReason)
	}
}

func TestOCSPCheckerWrongSerial(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", func(c *x509.Certificate) {
		c.OCSPServer = []string{testResponder}
	})
	other, _ := issueCert(t, ca, caKey, "other", nil)

	// Response answers for a different certificate's serial.
	resp := buildOCSPResponse(t, ca, caKey, ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: other.SerialNumber,
		ThisUpdate:   time.Now().Add(-time.Minute),
		NextUpdate:   time.Now().Add(time.Hour),
	})
	checker := NewOCSPChecker(&cannedRequester{response: resp})

	_, err := checker.Check(context.Background(), leaf, ca)
	if !errors.Is(err, ErrOCSPParseFailed) {
		t.Fatalf("expected OCSP parse error, got %v", err)
	}
}

func TestOCSPCheckerNoServers(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)

	checker := NewOCSPChecker(&cannedRequester{})
	_, err := checker.Check(context.Background(), leaf, ca)
	if !errors.Is(err, ErrNoOCSPServers) {
		t.Fatalf("expected no-servers error, got %v", err)
	}
}

func TestOCSPCheckerExchangeFailure(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", func(c *x509.Certificate) {
		c.OCSPServer = []string{testResponder}
	})

	wantErr := errors.New("responder unreachable")
	checker := NewOCSPChecker(&cannedRequester{err: wantErr})

	_, err := checker.Check(context.Background(), leaf, ca)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected exchange error, got %v", err)
	}
}
