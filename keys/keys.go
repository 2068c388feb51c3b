// Package keys loads the certificates and keys a validation setup needs:
// PEM or DER encoded trust anchors and supporting certificates, and PKCS#12
// trust stores and credentials.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Common errors
var (
	ErrNoCertFound     = errors.New("no certificate found in data")
	ErrNoKeyFound      = errors.New("no private key found in data")
	ErrUnknownKeyType  = errors.New("unknown private key type")
	ErrInvalidPEMBlock = errors.New("invalid PEM block")
	ErrMultipleCerts   = errors.New("expected exactly one certificate")
)

// PrivateKey represents a private key that can be used for signing.
type PrivateKey interface {
	crypto.Signer
}

// LoadCertFromPemDer loads a single certificate from a PEM or DER encoded file.
func LoadCertFromPemDer(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type == "CERTIFICATE" {
				cert, err := x509.ParseCertificate(block.Bytes)
				if err != nil {
					return nil, fmt.Errorf("failed to parse certificate: %w", err)
				}
				certs = append(certs, cert)
			}
		}
	} else {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertsFromPemDerFiles loads certificates from multiple files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*x509.Certificate, error) {
	var allCerts []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		allCerts = append(allCerts, certs...)
	}
	return allCerts, nil
}

// LoadPrivateKeyFromPemDer loads a private key from a PEM or DER encoded file.
func LoadPrivateKeyFromPemDer(filename string) (PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPrivateKeyFromPemDerData(data)
}

// LoadPrivateKeyFromPemDerData loads a private key from PEM or DER encoded data.
func LoadPrivateKeyFromPemDerData(data []byte) (PrivateKey, error) {
	if isPEM(data) {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, ErrInvalidPEMBlock
		}
		return parsePrivateKeyByType(block.Type, block.Bytes)
	}
	return loadPrivateKeyFromDER(data)
}

// loadPrivateKeyFromDER parses a DER encoded private key.
func loadPrivateKeyFromDER(data []byte) (PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toPrivateKey(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

// parsePrivateKeyByType parses a private key based on the PEM block type.
func parsePrivateKeyByType(blockType string, keyBytes []byte) (PrivateKey, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toPrivateKey(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, blockType)
	}
}

// toPrivateKey converts a parsed key interface to our PrivateKey type.
func toPrivateKey(key interface{}) (PrivateKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

// isPEM checks if the data appears to be PEM encoded.
func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}
