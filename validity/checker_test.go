package validity

import (
	"context"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"
)

func TestCheckerCRLOnly(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", func(c *x509.Certificate) {
		c.CRLDistributionPoints = []string{testDP}
	})

	crl := buildCRL(t, ca, caKey, nil, time.Now().Add(time.Hour))
	checker := NewChecker(newCRLCheckerFor(map[string][]byte{testDP: crl}), nil)

	status, err := checker.Check(context.Background(), leaf, ca)
	if err != nil {
		t.Fatal(err)
	}
	if status.Source != SourceCRL || status.Validity != ValidityValid {
		t.Errorf("unexpected status %s/%s", status.Source, status.Validity)
	}
}

func TestCheckerRevokedWinsOverValid(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", func(c *x509.Certificate) {
		c.CRLDistributionPoints = []string{testDP}
		c.OCSPServer = []string{testResponder}
	})

	// OCSP says good, CRL says revoked. The revoked answer must win.
	goodResp := buildOCSPResponse(t, ca, caKey, ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: leaf.SerialNumber,
		ThisUpdate:   time.Now().Add(-time.Minute),
		NextUpdate:   time.Now().Add(time.Hour),
	})
	crl := buildCRL(t, ca, caKey, []x509.RevocationListEntry{
		{SerialNumber: leaf.SerialNumber, RevocationTime: time.Now().Add(-time.Hour)},
	}, time.Now().Add(time.Hour))

	checker := NewChecker(
		newCRLCheckerFor(map[string][]byte{testDP: crl}),
		NewOCSPChecker(&cannedRequester{response: goodResp}),
	)

	status, err := checker.Check(context.Background(), leaf, ca)
	if err != nil {
		t.Fatal(err)
	}
	if status.Validity != ValidityRevoked {
		t.Errorf("expected revoked answer to win, got %s from %s", status.Validity, status.Source)
	}
}

func TestCheckerPrefersOCSPOnTie(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", func(c *x509.Certificate) {
		c.CRLDistributionPoints = []string{testDP}
		c.OCSPServer = []string{testResponder}
	})

	goodResp := buildOCSPResponse(t, ca, caKey, ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: leaf.SerialNumber,
		ThisUpdate:   time.Now().Add(-time.Minute),
		NextUpdate:   time.Now().Add(time.Hour),
	})
	crl := buildCRL(t, ca, caKey, nil, time.Now().Add(time.Hour))

	checker := NewChecker(
		newCRLCheckerFor(map[string][]byte{testDP: crl}),
		NewOCSPChecker(&cannedRequester{response: goodResp}),
	)

	status, err := checker.Check(context.Background(), leaf, ca)
	if err != nil {
		t.Fatal(err)
	}
	if status.Source != SourceOCSP {
		t.Errorf("expected OCSP preferred on tie, got %s", status.Source)
	}
}

func TestCheckerSingleThreadedSkipsCRLAfterOCSP(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", func(c *x509.Certificate) {
		c.CRLDistributionPoints = []string{testDP}
		c.OCSPServer = []string{testResponder}
	})

	goodResp := buildOCSPResponse(t, ca, caKey, ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: leaf.SerialNumber,
		ThisUpdate:   time.Now().Add(-time.Minute),
		NextUpdate:   time.Now().Add(time.Hour),
	})
	requester := &cannedRequester{response: goodResp}

	// No CRL is served; a CRL probe would fail. The sequential mode must
	// stop after the definitive OCSP answer.
	checker := NewChecker(
		newCRLCheckerFor(nil),
		NewOCSPChecker(requester),
		WithSingleThreaded(),
	)

	status, err := checker.Check(context.Background(), leaf, ca)
	if err != nil {
		t.Fatal(err)
	}
	if status.Source != SourceOCSP {
		t.Errorf("expected OCSP answer, got %s", status.Source)
	}
	if requester.calls != 1 {
		t.Errorf("expected one OCSP exchange, got %d", requester.calls)
	}
}

func TestCheckerNoSource(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)

	checker := NewChecker(newCRLCheckerFor(nil), NewOCSPChecker(&cannedRequester{}))
	_, err := checker.Check(context.Background(), leaf, ca)
	if !errors.Is(err, ErrNoStatusSource) {
		t.Fatalf("expected no-source error, got %v", err)
	}
}
