package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// newTestCert creates a self-signed certificate with an ECDSA key.
func newTestCert(t *testing.T, cn string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert, key
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func pemEncodeCerts(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, cert := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
	}
	return out
}

func TestIsPEM(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"PEM data", []byte("-----BEGIN CERTIFICATE-----\ndata\n-----END CERTIFICATE-----"), true},
		{"DER data", []byte{0x30, 0x82, 0x01, 0x22}, false},
		{"Empty", []byte{}, false},
		{"Short data", []byte("----"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPEM(tt.data); got != tt.expected {
				t.Errorf("isPEM() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadCertsFromPemDer(t *testing.T) {
	first, _ := newTestCert(t, "First")
	second, _ := newTestCert(t, "Second")

	t.Run("single PEM certificate", func(t *testing.T) {
		path := writeTempFile(t, "cert.pem", pemEncodeCerts(first))
		cert, err := LoadCertFromPemDer(path)
		if err != nil {
			t.Fatal(err)
		}
		if !cert.Equal(first) {
			t.Error("loaded certificate differs")
		}
	})

	t.Run("PEM bundle", func(t *testing.T) {
		path := writeTempFile(t, "bundle.pem", pemEncodeCerts(first, second))
		certs, err := LoadCertsFromPemDer(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(certs) != 2 {
			t.Fatalf("got %d certificates, want 2", len(certs))
		}
		if _, err := LoadCertFromPemDer(path); !errors.Is(err, ErrMultipleCerts) {
			t.Errorf("expected multiple-cert rejection, got %v", err)
		}
	})

	t.Run("DER certificate", func(t *testing.T) {
		path := writeTempFile(t, "cert.der", first.Raw)
		certs, err := LoadCertsFromPemDer(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(certs) != 1 || !certs[0].Equal(first) {
			t.Error("loaded certificate differs")
		}
	})

	t.Run("no certificate", func(t *testing.T) {
		path := writeTempFile(t, "key.pem", []byte("-----BEGIN SOMETHING-----\nQUJD\n-----END SOMETHING-----\n"))
		if _, err := LoadCertsFromPemDer(path); !errors.Is(err, ErrNoCertFound) {
			t.Errorf("expected no-cert error, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadCertsFromPemDer(filepath.Join(t.TempDir(), "nope.pem")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})

	t.Run("multiple files", func(t *testing.T) {
		a := writeTempFile(t, "a.pem", pemEncodeCerts(first))
		b := writeTempFile(t, "b.pem", pemEncodeCerts(second))
		certs, err := LoadCertsFromPemDerFiles([]string{a, b})
		if err != nil {
			t.Fatal(err)
		}
		if len(certs) != 2 {
			t.Fatalf("got %d certificates, want 2", len(certs))
		}
	})
}

func TestLoadPrivateKey(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("PKCS8 PEM", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(ecKey)
		if err != nil {
			t.Fatal(err)
		}
		data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
		key, err := LoadPrivateKeyFromPemDerData(data)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := key.(*ecdsa.PrivateKey); !ok {
			t.Errorf("got %T, want ECDSA key", key)
		}
	})

	t.Run("EC PEM", func(t *testing.T) {
		der, err := x509.MarshalECPrivateKey(ecKey)
		if err != nil {
			t.Fatal(err)
		}
		data := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
		if _, err := LoadPrivateKeyFromPemDerData(data); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("PKCS1 PEM", func(t *testing.T) {
		data := pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(rsaKey),
		})
		if _, err := LoadPrivateKeyFromPemDerData(data); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("PKCS8 DER", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(rsaKey)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := LoadPrivateKeyFromPemDerData(der); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("file round trip", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(ecKey)
		if err != nil {
			t.Fatal(err)
		}
		path := writeTempFile(t, "key.pem", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
		if _, err := LoadPrivateKeyFromPemDer(path); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("unknown block type", func(t *testing.T) {
		data := pem.EncodeToMemory(&pem.Block{Type: "SOMETHING ELSE", Bytes: []byte{1, 2, 3}})
		if _, err := LoadPrivateKeyFromPemDerData(data); !errors.Is(err, ErrUnknownKeyType) {
			t.Errorf("expected unknown-key-type error, got %v", err)
		}
	})

	t.Run("garbage DER", func(t *testing.T) {
		if _, err := LoadPrivateKeyFromPemDerData([]byte{0x02, 0x01, 0x00}); !errors.Is(err, ErrNoKeyFound) {
			t.Errorf("expected no-key error, got %v", err)
		}
	})
}

func TestLoadTrustStoreFromPKCS12(t *testing.T) {
	first, _ := newTestCert(t, "Anchor One")
	second, _ := newTestCert(t, "Anchor Two")

	data, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{first, second}, "secret")
	if err != nil {
		t.Fatal(err)
	}
	path := writeTempFile(t, "anchors.p12", data)

	certs, err := LoadTrustStoreFromPKCS12(path, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if len(certs) != 2 {
		t.Fatalf("got %d certificates, want 2", len(certs))
	}

	if _, err := LoadTrustStoreFromPKCS12(path, "wrong"); err == nil {
		t.Error("expected a failure with the wrong passphrase")
	}
}

func TestLoadCredentialFromPKCS12(t *testing.T) {
	cert, key := newTestCert(t, "Credential")
	ca, _ := newTestCert(t, "Issuing CA")

	data, err := pkcs12.Modern.Encode(key, cert, []*x509.Certificate{ca}, "secret")
	if err != nil {
		t.Fatal(err)
	}
	path := writeTempFile(t, "credential.p12", data)

	credential, err := LoadCredentialFromPKCS12(path, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if !credential.Certificate.Equal(cert) {
		t.Error("loaded certificate differs")
	}
	if _, ok := credential.PrivateKey.(*ecdsa.PrivateKey); !ok {
		t.Errorf("got %T, want ECDSA key", credential.PrivateKey)
	}
	if len(credential.CACerts) != 1 || !credential.CACerts[0].Equal(ca) {
		t.Error("CA chain not preserved")
	}
}
