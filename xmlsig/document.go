package xmlsig

import (
	"context"

	"go.uber.org/zap"

	"github.com/swedenconnect/sig-validation-base/sigval"
)

// DocumentValidator validates every signature in an XML document.
type DocumentValidator struct {
	elements *ElementValidator
	log      *zap.Logger
}

// DocumentOption configures a DocumentValidator.
type DocumentOption func(*DocumentValidator)

// WithDocumentLogger sets the logger.
func WithDocumentLogger(log *zap.Logger) DocumentOption {
	return func(v *DocumentValidator) { v.log = log }
}

// NewDocumentValidator creates a document validator over an element
// validator.
func NewDocumentValidator(elements *ElementValidator, opts ...DocumentOption) *DocumentValidator {
	v := &DocumentValidator{elements: elements, log: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate parses the document and validates each signature found in it.
func (v *DocumentValidator) Validate(ctx context.Context, docBytes []byte) ([]*Result, error) {
	docCtx, err := NewSignatureContext(docBytes)
	if err != nil {
		return nil, err
	}

	sigs := docCtx.Signatures()
	v.log.Debug("validating XML document", zap.Int("signatures", len(sigs)))

	results := make([]*Result, 0, len(sigs))
	for _, sig := range sigs {
		results = append(results, v.elements.ValidateElement(ctx, docCtx, sig))
	}
	return results, nil
}

// ValidateDocument validates the document and concludes a document-level
// verdict over the per-signature results.
func (v *DocumentValidator) ValidateDocument(ctx context.Context, docBytes []byte) (*sigval.SignedDocumentValidationResult, []*Result, error) {
	results, err := v.Validate(ctx, docBytes)
	if err != nil {
		return nil, nil, err
	}
	return sigval.Conclude(CoreResults(results)), results, nil
}

// CoreResults extracts the embedded per-signature core results.
func CoreResults(results []*Result) []*sigval.Result {
	out := make([]*sigval.Result, len(results))
	for i := range results {
		out[i] = &results[i].Result
	}
	return out
}
