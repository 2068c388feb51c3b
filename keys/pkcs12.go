package keys

import (
	"crypto/x509"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// PKCS12Credential holds a certificate and key loaded from a PKCS#12 file.
type PKCS12Credential struct {
	Certificate *x509.Certificate
	PrivateKey  PrivateKey
	CACerts     []*x509.Certificate
}

// LoadTrustStoreFromPKCS12 loads the certificates of a PKCS#12 trust store
// file.
func LoadTrustStoreFromPKCS12(filename, passphrase string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	certs, err := pkcs12.DecodeTrustStore(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 trust store %s: %w", filename, err)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCredentialFromPKCS12 loads a signing credential and its chain from a
// PKCS#12 file.
func LoadCredentialFromPKCS12(filename, passphrase string) (*PKCS12Credential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	key, cert, caCerts, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decode PKCS#12 file %s: %w", filename, err)
	}
	signer, err := toPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &PKCS12Credential{
		Certificate: cert,
		PrivateKey:  signer,
		CACerts:     caCerts,
	}, nil
}
