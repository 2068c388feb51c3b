// Package sigval holds the shared result model of signature validation: the
// per-signature status taxonomy, the core result structure that the XML and
// PDF validators extend, the collaborator interfaces for certificate and
// policy validation, and the concluding aggregation over a whole document.
package sigval

// Status is the terminal outcome of validating one signature.
type Status int

const (
	// StatusSuccess means the signature verified and was accepted by policy.
	StatusSuccess Status = iota

	// StatusBadFormat means the signature or its key material is malformed.
	StatusBadFormat

	// StatusInvalidSignature means cryptographic verification failed.
	StatusInvalidSignature

	// StatusSignerNotAccepted means no usable signer certificate is present.
	StatusSignerNotAccepted

	// StatusNotTrusted means no path to any trust anchor could be built.
	StatusNotTrusted

	// StatusSignerInvalid means a path was built but the signer certificate
	// or its binding to the signature failed.
	StatusSignerInvalid
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusBadFormat:
		return "bad format"
	case StatusInvalidSignature:
		return "invalid signature"
	case StatusSignerNotAccepted:
		return "signer not accepted"
	case StatusNotTrusted:
		return "signer not trusted"
	case StatusSignerInvalid:
		return "signer invalid"
	default:
		return "unknown"
	}
}

// Valid reports whether the status is the accepting terminal state.
func (s Status) Valid() bool {
	return s == StatusSuccess
}
