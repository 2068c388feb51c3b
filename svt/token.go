package svt

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// Token errors.
var (
	ErrTokenMalformed = errors.New("malformed token")
	ErrTokenSignature = errors.New("token signature verification failed")
	ErrNoSignerCert   = errors.New("no signer certificate resolvable for token")
	ErrNotVerified    = errors.New("token not verified")
)

// Token is a parsed Signature Validation Token. Claims are only available
// after the token's signature has been verified.
type Token struct {
	// Raw is the compact JWT serialization.
	Raw string

	// Algorithm is the JWS signing algorithm from the protected header.
	Algorithm jose.SignatureAlgorithm

	// KeyID is the kid header value, when present.
	KeyID string

	// HeaderCerts are the certificates embedded in the x5c header.
	HeaderCerts []*x509.Certificate

	// SignerCert is the certificate the token verified against, set by
	// Verify.
	SignerCert *x509.Certificate

	parsed *jwt.JSONWebToken
	claims *Claims
}

// jwsHeader is the subset of the protected header this package reads.
type jwsHeader struct {
	Alg string   `json:"alg"`
	Kid string   `json:"kid"`
	X5c []string `json:"x5c"`
}

// Parse parses a compact JWT serialization into a Token without verifying
// its signature.
func Parse(raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrTokenMalformed, len(parts))
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header not base64url: %v", ErrTokenMalformed, err)
	}
	var header jwsHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: header not JSON: %v", ErrTokenMalformed, err)
	}

	token := &Token{
		Raw:       raw,
		Algorithm: jose.SignatureAlgorithm(header.Alg),
		KeyID:     header.Kid,
		parsed:    parsed,
	}
	for _, entry := range header.X5c {
		der, err := base64.StdEncoding.DecodeString(entry)
		if err != nil {
			continue
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			continue
		}
		token.HeaderCerts = append(token.HeaderCerts, cert)
	}
	return token, nil
}

// DigestAlgorithm returns the digest implied by the token's signing
// algorithm.
func (t *Token) DigestAlgorithm() (crypto.Hash, error) {
	return DigestForAlgorithm(t.Algorithm)
}

// ResolveSignerCert resolves the certificate the token should verify
// against, in priority order: a certificate explicitly supplied by the
// caller, a header certificate whose digest (under the algorithm implied by
// the signing algorithm) matches the kid header, and finally the signer of
// the enclosing timestamp.
func (t *Token) ResolveSignerCert(supplied, timestampSigner *x509.Certificate) (*x509.Certificate, error) {
	if supplied != nil {
		return supplied, nil
	}

	if len(t.HeaderCerts) > 0 {
		if t.KeyID != "" {
			if cert := t.certMatchingKeyID(); cert != nil {
				return cert, nil
			}
		} else if len(t.HeaderCerts) == 1 {
			return t.HeaderCerts[0], nil
		}
	}

	if timestampSigner != nil {
		return timestampSigner, nil
	}
	return nil, ErrNoSignerCert
}

// certMatchingKeyID returns the header certificate whose digest matches the
// kid value, or nil.
func (t *Token) certMatchingKeyID() *x509.Certificate {
	hash, err := t.DigestAlgorithm()
	if err != nil {
		return nil
	}

	kidBytes := decodeBase64Any(t.KeyID)
	for _, cert := range t.HeaderCerts {
		h := hash.New()
		h.Write(cert.Raw)
		digest := h.Sum(nil)

		if kidBytes != nil && bytes.Equal(kidBytes, digest) {
			return cert
		}
		if t.KeyID == base64.StdEncoding.EncodeToString(digest) {
			return cert
		}
	}
	return nil
}

// Verify checks the token's signature against cert's public key and decodes
// the claims on success.
func (t *Token) Verify(cert *x509.Certificate) error {
	var claims Claims
	if err := t.parsed.Claims(cert.PublicKey, &claims); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenSignature, err)
	}
	t.SignerCert = cert
	t.claims = &claims
	return nil
}

// Claims returns the verified claims. Calling Claims before a successful
// Verify is an error.
func (t *Token) Claims() (*Claims, error) {
	if t.claims == nil {
		return nil, ErrNotVerified
	}
	return t.claims, nil
}

// IssueTime returns the verified token's issuance time, or the zero time
// when the token is unverified or carries none.
func (t *Token) IssueTime() time.Time {
	if t.claims == nil {
		return time.Time{}
	}
	return t.claims.IssueTime()
}

// decodeBase64Any decodes standard or URL-safe base64, with or without
// padding, returning nil when nothing decodes.
func decodeBase64Any(s string) []byte {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b
		}
	}
	return nil
}
