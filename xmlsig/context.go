package xmlsig

import (
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// ErrNotXML means the input could not be parsed as an XML document.
var ErrNotXML = errors.New("document is not well-formed XML")

// Signature is one ds:Signature element located in a document, with the
// material needed for validation extracted.
type Signature struct {
	// Element is the signature element inside the parsed document.
	Element *etree.Element

	// ID is the signature element's Id attribute, possibly empty.
	ID string

	// SignatureValue is the decoded raw signature value.
	SignatureValue []byte

	// Certificates are the certificates carried in KeyInfo, in document
	// order.
	Certificates []*x509.Certificate

	// HasKeyValue is true when KeyInfo carries a raw public key.
	HasKeyValue bool

	// CoversDocument is true when a reference covers the whole document.
	CoversDocument bool

	// AdES holds the XAdES qualifying properties, when present.
	AdES *AdESProperties

	// SVTokens holds the Signature Validation Token JWTs carried in
	// ds:Object elements of this signature.
	SVTokens []string

	index int
}

// SignatureMethod returns the signature algorithm URI declared in
// SignedInfo.
func (s *Signature) SignatureMethod() string {
	if si := childByTag(s.Element, XMLDSigNamespace, "SignedInfo"); si != nil {
		if m := childByTag(si, XMLDSigNamespace, "SignatureMethod"); m != nil {
			return m.SelectAttrValue("Algorithm", "")
		}
	}
	return ""
}

// CanonicalSignatureValue canonicalizes the SignatureValue element with the
// given method, producing the bytes covered by a signature timestamp.
func (s *Signature) CanonicalSignatureValue(method string) ([]byte, error) {
	el := childByTag(s.Element, XMLDSigNamespace, "SignatureValue")
	if el == nil {
		return nil, errors.New("signature has no SignatureValue element")
	}
	canon, err := canonicalizerForMethod(method)
	if err != nil {
		return nil, err
	}
	return canon.Canonicalize(el)
}

// SignatureContext is a parsed XML document and the signatures found in it.
type SignatureContext struct {
	raw  []byte
	doc  *etree.Document
	sigs []*Signature
}

// NewSignatureContext parses a document and locates its signatures.
func NewSignatureContext(docBytes []byte) (*SignatureContext, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(docBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotXML, err)
	}
	if doc.Root() == nil {
		return nil, ErrNotXML
	}

	c := &SignatureContext{raw: docBytes, doc: doc}
	for i, el := range elementsByTag(doc.Root(), XMLDSigNamespace, "Signature") {
		sig, err := parseSignature(el, doc.Root())
		if err != nil {
			return nil, err
		}
		sig.index = i
		c.sigs = append(c.sigs, sig)
	}
	return c, nil
}

// Signatures returns the signatures in document order.
func (c *SignatureContext) Signatures() []*Signature {
	return c.sigs
}

// Document returns the parsed document.
func (c *SignatureContext) Document() *etree.Document {
	return c.doc
}

// DocumentForSignature serializes the document with every signature except
// the given one removed, so each signature of a multi-signature document
// can be verified on its own.
func (c *SignatureContext) DocumentForSignature(sig *Signature) (string, error) {
	if len(c.sigs) == 1 {
		return string(c.raw), nil
	}
	docCopy := c.doc.Copy()
	for i, el := range elementsByTag(docCopy.Root(), XMLDSigNamespace, "Signature") {
		if i != sig.index {
			el.Parent().RemoveChild(el)
		}
	}
	return docCopy.WriteToString()
}

// parseSignature extracts the validation material of one signature element.
func parseSignature(el, root *etree.Element) (*Signature, error) {
	sig := &Signature{
		Element: el,
		ID:      el.SelectAttrValue("Id", ""),
	}

	if valueEl := childByTag(el, XMLDSigNamespace, "SignatureValue"); valueEl != nil {
		decoded, err := decodeBase64Text(valueEl.Text())
		if err != nil {
			return nil, fmt.Errorf("decoding SignatureValue: %w", err)
		}
		sig.SignatureValue = decoded
	}

	if keyInfo := childByTag(el, XMLDSigNamespace, "KeyInfo"); keyInfo != nil {
		for _, certEl := range elementsByTag(keyInfo, XMLDSigNamespace, "X509Certificate") {
			der, err := decodeBase64Text(certEl.Text())
			if err != nil {
				continue
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				continue
			}
			sig.Certificates = append(sig.Certificates, cert)
		}
		sig.HasKeyValue = firstByTag(keyInfo, XMLDSigNamespace, "KeyValue") != nil
	}

	sig.CoversDocument = coversDocument(el, root)

	for _, obj := range childrenByTag(el, XMLDSigNamespace, "Object") {
		for _, tokenEl := range elementsByTag(obj, SVTNamespace, "SignatureValidationToken") {
			if token := strings.TrimSpace(tokenEl.Text()); token != "" {
				sig.SVTokens = append(sig.SVTokens, token)
			}
		}
		if sig.AdES == nil {
			if qp := firstByTag(obj, XAdESNamespace, "QualifyingProperties"); qp != nil {
				props, err := parseAdESProperties(qp)
				if err != nil {
					return nil, err
				}
				sig.AdES = props
			}
		}
	}
	return sig, nil
}

// coversDocument reports whether a reference covers the whole document:
// an empty reference URI, or a fragment pointing at the root element's
// identifier.
func coversDocument(sigEl, root *etree.Element) bool {
	signedInfo := childByTag(sigEl, XMLDSigNamespace, "SignedInfo")
	if signedInfo == nil {
		return false
	}
	rootID := rootIdentifier(root)
	for _, ref := range childrenByTag(signedInfo, XMLDSigNamespace, "Reference") {
		uri := ref.SelectAttrValue("URI", "")
		if uri == "" {
			return true
		}
		if rootID != "" && uri == "#"+rootID {
			return true
		}
	}
	return false
}

// rootIdentifier returns the root element's identifier attribute value.
func rootIdentifier(root *etree.Element) string {
	for _, name := range []string{"Id", "ID", "id"} {
		if v := root.SelectAttrValue(name, ""); v != "" {
			return v
		}
	}
	return ""
}

// elementsByTag returns el and its descendants matching the namespace and
// local name, in document order.
func elementsByTag(el *etree.Element, ns, tag string) []*etree.Element {
	var out []*etree.Element
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if e.Tag == tag && e.NamespaceURI() == ns {
			out = append(out, e)
		}
		for _, child := range e.ChildElements() {
			walk(child)
		}
	}
	walk(el)
	return out
}

// childByTag returns the first direct child matching the namespace and
// local name.
func childByTag(el *etree.Element, ns, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag && child.NamespaceURI() == ns {
			return child
		}
	}
	return nil
}

// childrenByTag returns the direct children matching the namespace and
// local name.
func childrenByTag(el *etree.Element, ns, tag string) []*etree.Element {
	var out []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == tag && child.NamespaceURI() == ns {
			out = append(out, child)
		}
	}
	return out
}

// firstByTag returns the first descendant matching the namespace and local
// name.
func firstByTag(el *etree.Element, ns, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if els := elementsByTag(child, ns, tag); len(els) > 0 {
			return els[0]
		}
	}
	return nil
}

// decodeBase64Text decodes base64 element text, tolerating embedded
// whitespace.
func decodeBase64Text(text string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, text)
	return base64.StdEncoding.DecodeString(cleaned)
}
