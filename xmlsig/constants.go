package xmlsig

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"

	dsig "github.com/russellhaering/goxmldsig"
)

// XML namespaces of the structures this package reads.
const (
	XMLDSigNamespace = "http://www.w3.org/2000/09/xmldsig#"
	XAdESNamespace   = "http://uri.etsi.org/01903/v1.3.2#"
	SVTNamespace     = "http://id.swedenconnect.se/svt/1.0/sig-prop/ns"
)

// digestFromURI maps an XML digest method URI to a hash.
func digestFromURI(uri string) (crypto.Hash, error) {
	switch uri {
	case "http://www.w3.org/2000/09/xmldsig#sha1":
		return crypto.SHA1, nil
	case "http://www.w3.org/2001/04/xmlenc#sha256":
		return crypto.SHA256, nil
	case "http://www.w3.org/2001/04/xmldsig-more#sha384":
		return crypto.SHA384, nil
	case "http://www.w3.org/2001/04/xmlenc#sha512":
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("unsupported digest method %q", uri)
}

// canonicalizerForMethod returns the canonicalizer for a declared
// canonicalization method URI. An empty URI falls back to inclusive
// canonical XML 1.0.
func canonicalizerForMethod(uri string) (dsig.Canonicalizer, error) {
	switch uri {
	case "", dsig.CanonicalXML10RecAlgorithmId.String():
		return dsig.MakeC14N10RecCanonicalizer(), nil
	case dsig.CanonicalXML10WithCommentsAlgorithmId.String():
		return dsig.MakeC14N10WithCommentsCanonicalizer(), nil
	case dsig.CanonicalXML10ExclusiveAlgorithmId.String():
		return dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList(""), nil
	case dsig.CanonicalXML10ExclusiveWithCommentsAlgorithmId.String():
		return dsig.MakeC14N10ExclusiveWithCommentsCanonicalizerWithPrefixList(""), nil
	case dsig.CanonicalXML11AlgorithmId.String():
		return dsig.MakeC14N11Canonicalizer(), nil
	case dsig.CanonicalXML11WithCommentsAlgorithmId.String():
		return dsig.MakeC14N11WithCommentsCanonicalizer(), nil
	}
	return nil, fmt.Errorf("unsupported canonicalization method %q", uri)
}
