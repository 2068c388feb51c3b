package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	if err.Field != "field" {
		t.Errorf("Expected field 'field', got '%s'", err.Field)
	}
	if !strings.Contains(err.Error(), "field") {
		t.Errorf("error text should name the field: %s", err.Error())
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
trust:
  anchors:
    - /etc/sigval/root.pem
  intermediates:
    - /etc/sigval/ca.pem
revocation:
  mode: crl-only
  cache-dir: /var/cache/sigval
  connect-timeout: 5s
  read-timeout: 30s
svt:
  enabled: true
  issuer-certs:
    - /etc/sigval/svt-issuer.pem
policy:
  name: sigval-policy
logging:
  level: debug
  format: json
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Trust.AnchorFiles) != 1 || cfg.Trust.AnchorFiles[0] != "/etc/sigval/root.pem" {
		t.Errorf("unexpected anchors: %v", cfg.Trust.AnchorFiles)
	}
	if cfg.Revocation.Mode != RevocationCRLOnly {
		t.Errorf("unexpected mode: %s", cfg.Revocation.Mode)
	}
	if cfg.Revocation.ConnectTimeout.Std() != 5*time.Second {
		t.Errorf("unexpected connect timeout: %v", cfg.Revocation.ConnectTimeout.Std())
	}
	if cfg.Revocation.ReadTimeout.Std() != 30*time.Second {
		t.Errorf("unexpected read timeout: %v", cfg.Revocation.ReadTimeout.Std())
	}
	if !cfg.SVT.Enabled {
		t.Error("svt should be enabled")
	}
	if cfg.Policy.Name != "sigval-policy" {
		t.Errorf("unexpected policy name: %s", cfg.Policy.Name)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("trust:\n  anchors: [root.pem]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Revocation.Mode != RevocationBoth {
		t.Errorf("default mode should be both, got %s", cfg.Revocation.Mode)
	}
	if cfg.Revocation.ConnectTimeout.Std() != 10*time.Second {
		t.Errorf("unexpected default connect timeout: %v", cfg.Revocation.ConnectTimeout.Std())
	}
	if cfg.Revocation.ReadTimeout.Std() != 20*time.Second {
		t.Errorf("unexpected default read timeout: %v", cfg.Revocation.ReadTimeout.Std())
	}
	if cfg.Revocation.OCSPTimeout.Std() != 10*time.Second {
		t.Errorf("unexpected default OCSP timeout: %v", cfg.Revocation.OCSPTimeout.Std())
	}
	if cfg.Revocation.ResponderDepth != 1 {
		t.Errorf("unexpected default responder depth: %d", cfg.Revocation.ResponderDepth)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected default logging config: %+v", cfg.Logging)
	}
	if cfg.SVT.Enabled {
		t.Error("svt should be disabled by default")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("trust:\n  anchors: [root.pem]\nsomething-else: true\n"))
	if err == nil {
		t.Fatal("expected an unknown-field rejection")
	}
	_, err = Parse([]byte("trust:\n  anchors: [root.pem]\n  anchor-file: root.pem\n"))
	if err == nil {
		t.Fatal("expected an unknown-field rejection in a nested section")
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no trust source", "revocation:\n  mode: both\n"},
		{"bad revocation mode", "trust:\n  anchors: [root.pem]\nrevocation:\n  mode: sometimes\n"},
		{"bad duration", "trust:\n  anchors: [root.pem]\nrevocation:\n  connect-timeout: fast\n"},
		{"negative depth", "trust:\n  anchors: [root.pem]\nrevocation:\n  responder-depth: -1\n"},
		{"bad log level", "trust:\n  anchors: [root.pem]\nlogging:\n  level: loud\n"},
		{"bad log format", "trust:\n  anchors: [root.pem]\nlogging:\n  format: xml\n"},
		{"pkcs12 store without file", "trust:\n  pkcs12-stores:\n    - passphrase: secret\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected a rejection")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("trust:\n  anchors: [root.pem]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Trust.AnchorFiles) != 1 {
		t.Errorf("unexpected anchors: %v", cfg.Trust.AnchorFiles)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

// writeAnchorPEM creates a self-signed certificate file for Build tests.
func writeAnchorPEM(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "root.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuild(t *testing.T) {
	anchor := writeAnchorPEM(t)

	cfg, err := Parse([]byte(
		"trust:\n  anchors: [" + anchor + "]\n" +
			"revocation:\n  mode: disabled\n" +
			"svt:\n  enabled: true\n"))
	if err != nil {
		t.Fatal(err)
	}

	stack, err := Build(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if stack.Logger == nil || stack.CertValidator == nil {
		t.Fatal("incomplete stack")
	}
	if stack.XML == nil || stack.PDF == nil {
		t.Fatal("document validators missing")
	}
	if stack.TrustAnchors.Count() != 1 {
		t.Errorf("unexpected anchor count: %d", stack.TrustAnchors.Count())
	}
}

func TestBuildMissingAnchorFile(t *testing.T) {
	cfg, err := Parse([]byte("trust:\n  anchors: [" + filepath.Join(t.TempDir(), "missing.pem") + "]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(cfg); err == nil {
		t.Error("expected an error for a missing anchor file")
	}
}
