package validity

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"testing"
	"time"
)

// trustReason extracts the Reason from a trust-path error.
func trustReason(t *testing.T, err error) Reason {
	t.Helper()

	var tpErr *TrustPathError
	if !errors.As(err, &tpErr) {
		t.Fatalf("expected a trust-path error, got %v", err)
	}
	return tpErr.Reason
}

func TestTrustPathCRLAccepted(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)

	checker := NewTrustPathChecker(nil)
	err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
		Certificate:      leaf,
		Issuer:           ca,
		Source:           SourceCRL,
		Validity:         ValidityValid,
		StatusSignerCert: ca,
	})
	if err != nil {
		t.Fatalf("expected accepted trust path, got %v", err)
	}
}

func TestTrustPathCRLIssuerMismatch(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	otherCA, _ := newTestCA(t, "Other CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)

	checker := NewTrustPathChecker(nil)
	err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
		Certificate:      leaf,
		Issuer:           ca,
		Source:           SourceCRL,
		StatusSignerCert: otherCA,
	})
	if got := trustReason(t, err); got != ReasonIssuerMismatch {
		t.Errorf("expected issuer mismatch, got %s", got)
	}
}

func TestTrustPathCRLSignerWithoutCRLSign(t *testing.T) {
	root, rootKey := newTestCA(t, "Root CA")
	// Intermediate CA that can sign certificates but not CRLs.
	intermediate, intKey := issueCert(t, root, rootKey, "No-CRL CA", func(c *x509.Certificate) {
		c.IsCA = true
		c.BasicConstraintsValid = true
		c.KeyUsage = x509.KeyUsageCertSign
	})
	leaf, _ := issueCert(t, intermediate, intKey, "leaf", nil)

	checker := NewTrustPathChecker(nil)
	err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
		Certificate:      leaf,
		Issuer:           intermediate,
		Source:           SourceCRL,
		StatusSignerCert: intermediate,
	})
	if got := trustReason(t, err); got != ReasonNoCRLSignKeyUsage {
		t.Errorf("expected missing cRLSign usage, got %s", got)
	}
}

func TestTrustPathCRLExpiredIssuer(t *testing.T) {
	root, rootKey := newTestCA(t, "Root CA")
	expired, expKey := issueCert(t, root, rootKey, "Expired CA", func(c *x509.Certificate) {
		c.IsCA = true
		c.BasicConstraintsValid = true
		c.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		c.NotBefore = time.Now().Add(-48 * time.Hour)
		c.NotAfter = time.Now().Add(-24 * time.Hour)
	})
	leaf, _ := issueCert(t, expired, expKey, "leaf", nil)

	checker := NewTrustPathChecker(nil)
	err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
		Certificate:      leaf,
		Issuer:           expired,
		Source:           SourceCRL,
		StatusSignerCert: expired,
	})
	if got := trustReason(t, err); got != ReasonIssuerNotTimeValid {
		t.Errorf("expected issuer time validity failure, got %s", got)
	}
}

func TestTrustPathOCSPIssuerIsResponder(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)

	checker := NewTrustPathChecker(nil)
	err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
		Certificate:      leaf,
		Issuer:           ca,
		Source:           SourceOCSP,
		StatusSignerCert: ca,
	})
	if err != nil {
		t.Fatalf("expected issuer-as-responder to be trusted, got %v", err)
	}
}

func TestTrustPathOCSPDelegatedResponderWithNoCheck(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)
	responder, _ := issueCert(t, ca, caKey, "OCSP Responder", func(c *x509.Certificate) {
		c.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning}
		c.ExtraExtensions = []pkix.Extension{ocspNoCheckExt()}
	})

	checker := NewTrustPathChecker(nil)
	err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
		Certificate:       leaf,
		Issuer:            ca,
		Source:            SourceOCSP,
		StatusSignerCert:  responder,
		StatusSignerChain: []*x509.Certificate{responder, ca},
	})
	if err != nil {
		t.Fatalf("expected delegated responder to be trusted, got %v", err)
	}
}

func TestTrustPathOCSPMissingEKU(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)
	responder, _ := issueCert(t, ca, caKey, "OCSP Responder", func(c *x509.Certificate) {
		c.ExtraExtensions = []pkix.Extension{ocspNoCheckExt()}
	})

	checker := NewTrustPathChecker(nil)
	err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
		Certificate:      leaf,
		Issuer:           ca,
		Source:           SourceOCSP,
		StatusSignerCert: responder,
	})
	if got := trustReason(t, err); got != ReasonNoOCSPSigningEKU {
		t.Errorf("expected missing OCSP signing EKU, got %s", got)
	}
}

func TestTrustPathOCSPCycleRejected(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)
	responder, _ := issueCert(t, ca, caKey, "OCSP Responder", func(c *x509.Certificate) {
		c.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning}
		c.ExtraExtensions = []pkix.Extension{ocspNoCheckExt()}
	})

	// The certificate under validation appears in the responder's own
	// chain: it would be vouching for itself. Must fail even though the
	// responder is otherwise perfectly valid.
	checker := NewTrustPathChecker(nil)
	err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
		Certificate:       leaf,
		Issuer:            ca,
		Source:            SourceOCSP,
		StatusSignerCert:  responder,
		StatusSignerChain: []*x509.Certificate{responder, leaf, ca},
	})
	if got := trustReason(t, err); got != ReasonTrustCycle {
		t.Errorf("expected trust cycle rejection, got %s", got)
	}
}

func TestTrustPathOCSPForeignResponder(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	otherCA, otherKey := newTestCA(t, "Other CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)
	responder, _ := issueCert(t, otherCA, otherKey, "Foreign Responder", func(c *x509.Certificate) {
		c.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning}
		c.ExtraExtensions = []pkix.Extension{ocspNoCheckExt()}
	})

	checker := NewTrustPathChecker(nil)
	err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
		Certificate:      leaf,
		Issuer:           ca,
		Source:           SourceOCSP,
		StatusSignerCert: responder,
	})
	if got := trustReason(t, err); got != ReasonResponderSignature {
		t.Errorf("expected responder signature failure, got %s", got)
	}
}

func TestTrustPathOCSPDepthLimit(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)
	responder, _ := issueCert(t, ca, caKey, "OCSP Responder", func(c *x509.Certificate) {
		c.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning}
	})

	checker := NewTrustPathChecker(nil, WithMaxDepth(0))
	err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
		Certificate:      leaf,
		Issuer:           ca,
		Source:           SourceOCSP,
		StatusSignerCert: responder,
	})
	if got := trustReason(t, err); got != ReasonDepthExceeded {
		t.Errorf("expected depth limit enforcement, got %s", got)
	}
}

func TestTrustPathOCSPResponderStatusViaCRL(t *testing.T) {
	ca, caKey := newTestCA(t, "Test CA")
	leaf, _ := issueCert(t, ca, caKey, "leaf", nil)
	responder, _ := issueCert(t, ca, caKey, "OCSP Responder", func(c *x509.Certificate) {
		c.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning}
		c.CRLDistributionPoints = []string{testDP}
	})

	t.Run("good responder", func(t *testing.T) {
		crl := buildCRL(t, ca, caKey, nil, time.Now().Add(time.Hour))
		statusChecker := NewChecker(
			newCRLCheckerFor(map[string][]byte{testDP: crl}), nil,
			WithSingleThreaded(),
		)
		checker := NewTrustPathChecker(statusChecker)

		err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
			Certificate:      leaf,
			Issuer:           ca,
			Source:           SourceOCSP,
			StatusSignerCert: responder,
		})
		if err != nil {
			t.Fatalf("expected responder accepted via CRL recursion, got %v", err)
		}
	})

	t.Run("revoked responder", func(t *testing.T) {
		crl := buildCRL(t, ca, caKey, []x509.RevocationListEntry{
			{SerialNumber: responder.SerialNumber, RevocationTime: time.Now().Add(-time.Hour)},
		}, time.Now().Add(time.Hour))
		statusChecker := NewChecker(
			newCRLCheckerFor(map[string][]byte{testDP: crl}), nil,
			WithSingleThreaded(),
		)
		checker := NewTrustPathChecker(statusChecker)

		err := checker.VerifyTrustPath(context.Background(), &ValidationStatus{
			Certificate:      leaf,
			Issuer:           ca,
			Source:           SourceOCSP,
			StatusSignerCert: responder,
		})
		if got := trustReason(t, err); got != ReasonResponderRevoked {
			t.Errorf("expected revoked responder rejection, got %s", got)
		}
	})
}
