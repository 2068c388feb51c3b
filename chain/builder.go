package chain

import (
	"crypto/x509"
	"errors"
	"fmt"
)

// ErrNoPathFound means no path from the target certificate to any trust
// anchor could be constructed.
var ErrNoPathFound = errors.New("no certification path found")

// Path is a built certification path from a target certificate toward a
// trust anchor. Certificates runs leaf-first and excludes the anchor.
type Path struct {
	Certificates []*x509.Certificate
	Anchor       *TrustAnchor
}

// Full returns the complete path including the anchor certificate.
func (p *Path) Full() []*x509.Certificate {
	full := make([]*x509.Certificate, 0, len(p.Certificates)+1)
	full = append(full, p.Certificates...)
	return append(full, p.Anchor.Certificate())
}

// Length returns the path length including the anchor.
func (p *Path) Length() int {
	return len(p.Certificates) + 1
}

// Builder constructs candidate certification paths using a trust anchor
// store and an optional store of intermediates.
type Builder struct {
	anchors *TrustAnchorStore
	store   *CertStore
}

// NewBuilder creates a Builder. The intermediate store may be nil.
func NewBuilder(anchors *TrustAnchorStore, store *CertStore) *Builder {
	return &Builder{anchors: anchors, store: store}
}

// Build returns all candidate paths from target to a trust anchor, using
// the supporting certificates and the intermediate store as sources.
// Supporting certificates delivered with a signature take precedence over
// stored intermediates.
func (b *Builder) Build(target *x509.Certificate, supporting []*x509.Certificate) ([]*Path, error) {
	var paths []*Path

	// A target that is itself an anchor yields the trivial path.
	if b.anchors.IsAnchor(target) {
		paths = append(paths, &Path{Anchor: NewTrustAnchor(target)})
	}

	supportingStore := NewCertStore()
	supportingStore.AddAll(supporting)

	w := &walker{
		builder:    b,
		supporting: supportingStore,
		seen:       map[string]bool{certKey(target): true},
	}
	paths = append(paths, w.walk(target, []*x509.Certificate{target})...)

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: subject %q", ErrNoPathFound, target.Subject.String())
	}
	return paths, nil
}

// walker recursively explores issuer candidates, guarding against cycles.
type walker struct {
	builder    *Builder
	supporting *CertStore
	seen       map[string]bool
}

func (w *walker) walk(cert *x509.Certificate, current []*x509.Certificate) []*Path {
	var paths []*Path

	// Anchors terminate a path.
	for _, anchor := range w.builder.anchors.IssuerAnchors(cert) {
		pathCerts := make([]*x509.Certificate, len(current))
		copy(pathCerts, current)
		paths = append(paths, &Path{Certificates: pathCerts, Anchor: anchor})
	}

	for _, issuer := range w.issuerCandidates(cert) {
		key := certKey(issuer)
		if w.seen[key] {
			continue
		}
		w.seen[key] = true
		paths = append(paths, w.walk(issuer, append(current, issuer))...)
		delete(w.seen, key)
	}
	return paths
}

func (w *walker) issuerCandidates(cert *x509.Certificate) []*x509.Certificate {
	candidates := w.supporting.PotentialIssuers(cert)
	if w.builder.store != nil {
		candidates = append(candidates, w.builder.store.PotentialIssuers(cert)...)
	}

	var unique []*x509.Certificate
	taken := make(map[string]bool)
	for _, c := range candidates {
		key := certKey(c)
		if taken[key] || c.Equal(cert) {
			continue
		}
		taken[key] = true
		unique = append(unique, c)
	}
	return unique
}
