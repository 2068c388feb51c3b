package validity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/swedenconnect/sig-validation-base/crlcache"
)

var testSerial int64 = 1000

func nextSerial() *big.Int {
	testSerial++
	return big.NewInt(testSerial)
}

// newTestCA creates a self-signed CA able to sign certificates and CRLs.
func newTestCA(t *testing.T, cn string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	template := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Test Org"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
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

// issueCert issues a certificate from the given CA. The mod callback may
// adjust the template before signing.
func issueCert(t *testing.T, ca *x509.Certificate, caKey *ecdsa.PrivateKey, cn string, mod func(*x509.Certificate)) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	template := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Test Org"},
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}
	if mod != nil {
		mod(template)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca, &key.PublicKey, caKey)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert, key
}

// buildCRL creates CRL bytes signed by the given CA.
func buildCRL(t *testing.T, ca *x509.Certificate, caKey *ecdsa.PrivateKey, revoked []x509.RevocationListEntry, nextUpdate time.Time) []byte {
	t.Helper()

	tmpl := &x509.RevocationList{
		Number:                    nextSerial(),
		ThisUpdate:                time.Now().Add(-time.Minute),
		NextUpdate:                nextUpdate,
		RevokedCertificateEntries: revoked,
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, ca, caKey)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

// mapDownloader serves CRL bytes from an in-memory map.
type mapDownloader struct {
	data map[string][]byte
}

func (d *mapDownloader) Download(_ context.Context, url string) ([]byte, error) {
	if b, ok := d.data[url]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: not found: %s", crlcache.ErrDownloadFailed, url)
}

// newCRLCheckerFor wires a CRLChecker whose cache serves the given map.
func newCRLCheckerFor(data map[string][]byte) *CRLChecker {
	cache := crlcache.New(&mapDownloader{data: data})
	return NewCRLChecker(cache)
}

// ocspNoCheckExt is the encoded id-pkix-ocsp-nocheck extension (NULL value).
func ocspNoCheckExt() pkix.Extension {
	return pkix.Extension{
		Id:    asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 5},
		Value: []byte{0x05, 0x00},
	}
}
