package svt

import (
	"crypto"
	"fmt"

	jose "gopkg.in/square/go-jose.v2"
)

// ErrUnsupportedAlgorithm means a JWS signing algorithm has no known digest
// mapping.
type ErrUnsupportedAlgorithm struct {
	Algorithm string
}

func (e *ErrUnsupportedAlgorithm) Error() string {
	return fmt.Sprintf("unsupported JWS algorithm %q", e.Algorithm)
}

// DigestForAlgorithm returns the digest implied by a JWS signing algorithm.
// Token key identifiers and signature matching digests are computed with
// this hash.
func DigestForAlgorithm(alg jose.SignatureAlgorithm) (crypto.Hash, error) {
	switch alg {
	case jose.RS256, jose.ES256, jose.PS256:
		return crypto.SHA256, nil
	case jose.RS384, jose.ES384, jose.PS384:
		return crypto.SHA384, nil
	case jose.RS512, jose.ES512, jose.PS512:
		return crypto.SHA512, nil
	default:
		return 0, &ErrUnsupportedAlgorithm{Algorithm: string(alg)}
	}
}
