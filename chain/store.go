// Package chain builds and validates certificate paths from a target
// certificate to a configured trust anchor. Each certificate along a built
// path is checked for time validity and revocation status, and the source
// asserting that status is itself verified through the revocation trust-path
// check.
package chain

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"sync"
)

// CertStore is an indexed collection of intermediate certificates used as a
// source of path candidates.
type CertStore struct {
	mu sync.RWMutex

	certs      map[string]*x509.Certificate
	subjectMap map[string][]*x509.Certificate
	keyIDMap   map[string][]*x509.Certificate
}

// NewCertStore creates an empty CertStore.
func NewCertStore() *CertStore {
	return &CertStore{
		certs:      make(map[string]*x509.Certificate),
		subjectMap: make(map[string][]*x509.Certificate),
		keyIDMap:   make(map[string][]*x509.Certificate),
	}
}

// Add registers a certificate. It returns true when the certificate was not
// already present.
func (s *CertStore) Add(cert *x509.Certificate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := certKey(cert)
	if _, exists := s.certs[key]; exists {
		return false
	}
	s.certs[key] = cert

	subjectKey := nameHashKey(cert.RawSubject)
	s.subjectMap[subjectKey] = append(s.subjectMap[subjectKey], cert)

	if len(cert.SubjectKeyId) > 0 {
		s.keyIDMap[string(cert.SubjectKeyId)] = append(s.keyIDMap[string(cert.SubjectKeyId)], cert)
	}
	return true
}

// AddAll registers multiple certificates.
func (s *CertStore) AddAll(certs []*x509.Certificate) {
	for _, cert := range certs {
		s.Add(cert)
	}
}

// BySubjectKeyID returns all certificates carrying the given subject key
// identifier.
func (s *CertStore) BySubjectKeyID(keyID []byte) []*x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyIDMap[string(keyID)]
}

// BySubject returns all certificates with the given subject name.
func (s *CertStore) BySubject(name pkix.Name) []*x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*x509.Certificate
	want := name.String()
	for _, certs := range s.subjectMap {
		for _, cert := range certs {
			if cert.Subject.String() == want {
				result = append(result, cert)
			}
		}
	}
	return result
}

// PotentialIssuers returns stored certificates that could have issued cert,
// preferring an authority-key-identifier match over a name match.
func (s *CertStore) PotentialIssuers(cert *x509.Certificate) []*x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var issuers []*x509.Certificate
	for _, candidate := range s.subjectMap[nameHashKey(cert.RawIssuer)] {
		if isPotentialIssuer(candidate, cert) {
			issuers = append(issuers, candidate)
		}
	}
	if len(issuers) > 0 {
		return issuers
	}

	// Name index missed (re-encoded DNs); fall back to a full scan.
	for _, candidate := range s.certs {
		if isPotentialIssuer(candidate, cert) {
			issuers = append(issuers, candidate)
		}
	}
	return issuers
}

// All returns every stored certificate.
func (s *CertStore) All() []*x509.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*x509.Certificate, 0, len(s.certs))
	for _, cert := range s.certs {
		result = append(result, cert)
	}
	return result
}

// Count returns the number of stored certificates.
func (s *CertStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.certs)
}

// isPotentialIssuer checks whether issuer could have issued cert.
func isPotentialIssuer(issuer, cert *x509.Certificate) bool {
	if len(cert.AuthorityKeyId) > 0 && len(issuer.SubjectKeyId) > 0 {
		return bytes.Equal(cert.AuthorityKeyId, issuer.SubjectKeyId)
	}
	return bytes.Equal(cert.RawIssuer, issuer.RawSubject)
}

// certKey creates a unique key for a certificate.
func certKey(cert *x509.Certificate) string {
	h := sha256.Sum256(cert.Raw)
	return string(h[:])
}

// nameHashKey creates an index key from a raw DER-encoded name.
func nameHashKey(rawName []byte) string {
	h := sha256.Sum256(rawName)
	return string(h[:])
}
