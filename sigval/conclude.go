package sigval

// Status messages of the concluding document result.
const (
	msgOK                 = "OK"
	msgNoSignatures       = "No signatures"
	msgNoValidSignatures  = "No valid signatures"
	msgPartiallyValidated = "Some signatures are valid and some are invalid"
)

// SignedDocumentValidationResult aggregates the outcomes of all signatures
// in one document.
type SignedDocumentValidationResult struct {
	// Signed is true when the document carries at least one signature.
	Signed bool

	// SignatureCount is the number of signatures found.
	SignatureCount int

	// ValidSignatureCount is the number of signatures with a success
	// status.
	ValidSignatureCount int

	// ValidSignatureSignsWholeDocument is true when at least one valid
	// signature covers the whole document.
	ValidSignatureSignsWholeDocument bool

	// CompleteSuccess is true when every signature validated.
	CompleteSuccess bool

	// StatusMessage summarizes the outcome.
	StatusMessage string
}

// Conclude aggregates per-signature results into a document-level verdict.
func Conclude(results []*Result) *SignedDocumentValidationResult {
	doc := &SignedDocumentValidationResult{
		Signed:         len(results) > 0,
		SignatureCount: len(results),
	}
	if !doc.Signed {
		doc.StatusMessage = msgNoSignatures
		return doc
	}

	for _, result := range results {
		if !result.Status.Valid() {
			continue
		}
		doc.ValidSignatureCount++
		if result.CoversDocument {
			doc.ValidSignatureSignsWholeDocument = true
		}
	}

	switch {
	case doc.ValidSignatureCount == doc.SignatureCount:
		doc.CompleteSuccess = true
		doc.StatusMessage = msgOK
	case doc.ValidSignatureCount == 0:
		doc.StatusMessage = msgNoValidSignatures
	default:
		doc.StatusMessage = msgPartiallyValidated
	}
	return doc
}
