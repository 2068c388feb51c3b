package chain

import (
	"crypto/x509"
	"sync"
)

// TrustAnchor is a certificate designated as an unconditionally trusted root
// for path validation.
type TrustAnchor struct {
	cert *x509.Certificate
}

// NewTrustAnchor wraps a certificate as a trust anchor.
func NewTrustAnchor(cert *x509.Certificate) *TrustAnchor {
	return &TrustAnchor{cert: cert}
}

// Certificate returns the anchor certificate.
func (a *TrustAnchor) Certificate() *x509.Certificate {
	return a.cert
}

// TrustAnchorStore holds the trust anchors of a validation configuration.
// Anchors are immutable per validation run; the store itself is safe for
// concurrent use.
type TrustAnchorStore struct {
	mu         sync.RWMutex
	anchors    map[string]*TrustAnchor
	subjectMap map[string][]*TrustAnchor
}

// NewTrustAnchorStore creates a store holding the given anchor certificates.
func NewTrustAnchorStore(certs ...*x509.Certificate) *TrustAnchorStore {
	s := &TrustAnchorStore{
		anchors:    make(map[string]*TrustAnchor),
		subjectMap: make(map[string][]*TrustAnchor),
	}
	for _, cert := range certs {
		s.Add(cert)
	}
	return s
}

// Add registers a certificate as a trust anchor.
func (s *TrustAnchorStore) Add(cert *x509.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := certKey(cert)
	if _, exists := s.anchors[key]; exists {
		return
	}
	anchor := NewTrustAnchor(cert)
	s.anchors[key] = anchor

	subjectKey := nameHashKey(cert.RawSubject)
	s.subjectMap[subjectKey] = append(s.subjectMap[subjectKey], anchor)
}

// IsAnchor reports whether cert is a registered trust anchor.
func (s *TrustAnchorStore) IsAnchor(cert *x509.Certificate) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.anchors[certKey(cert)]
	return ok
}

// IssuerAnchors returns anchors that could have issued cert.
func (s *TrustAnchorStore) IssuerAnchors(cert *x509.Certificate) []*TrustAnchor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var issuers []*TrustAnchor
	for _, anchor := range s.subjectMap[nameHashKey(cert.RawIssuer)] {
		if isPotentialIssuer(anchor.cert, cert) {
			issuers = append(issuers, anchor)
		}
	}
	return issuers
}

// All returns every registered anchor.
func (s *TrustAnchorStore) All() []*TrustAnchor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*TrustAnchor, 0, len(s.anchors))
	for _, anchor := range s.anchors {
		result = append(result, anchor)
	}
	return result
}

// Count returns the number of anchors.
func (s *TrustAnchorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.anchors)
}
