package sigval

import (
	"testing"
	"time"

	"github.com/swedenconnect/sig-validation-base/svt"
)

func TestConcludeNoSignatures(t *testing.T) {
	doc := Conclude(nil)
	if doc.Signed {
		t.Error("expected unsigned")
	}
	if doc.StatusMessage != "No signatures" {
		t.Errorf("unexpected message %q", doc.StatusMessage)
	}
	if doc.CompleteSuccess {
		t.Error("unsigned document must not be a complete success")
	}
}

func TestConcludeAllValid(t *testing.T) {
	doc := Conclude([]*Result{
		{Status: StatusSuccess, CoversDocument: true},
		{Status: StatusSuccess},
	})
	if !doc.CompleteSuccess {
		t.Error("expected complete success")
	}
	if doc.StatusMessage != "OK" {
		t.Errorf("unexpected message %q", doc.StatusMessage)
	}
	if doc.ValidSignatureCount != 2 || doc.SignatureCount != 2 {
		t.Errorf("unexpected counts %d/%d", doc.ValidSignatureCount, doc.SignatureCount)
	}
	if !doc.ValidSignatureSignsWholeDocument {
		t.Error("expected a whole-document signature")
	}
}

func TestConcludeNoneValid(t *testing.T) {
	doc := Conclude([]*Result{
		{Status: StatusInvalidSignature, CoversDocument: true},
	})
	if doc.CompleteSuccess {
		t.Error("expected failure")
	}
	if doc.StatusMessage != "No valid signatures" {
		t.Errorf("unexpected message %q", doc.StatusMessage)
	}
	if doc.ValidSignatureSignsWholeDocument {
		t.Error("an invalid signature must not count as covering the document")
	}
}

func TestConcludePartiallyValid(t *testing.T) {
	doc := Conclude([]*Result{
		{Status: StatusSuccess},
		{Status: StatusNotTrusted, CoversDocument: true},
	})
	if doc.CompleteSuccess {
		t.Error("expected partial outcome")
	}
	if doc.StatusMessage != "Some signatures are valid and some are invalid" {
		t.Errorf("unexpected message %q", doc.StatusMessage)
	}
	if doc.ValidSignatureCount != 1 {
		t.Errorf("unexpected valid count %d", doc.ValidSignatureCount)
	}
	if doc.ValidSignatureSignsWholeDocument {
		t.Error("only valid signatures may count as covering the document")
	}
}

func TestVerifiedSigningTime(t *testing.T) {
	early := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	late := time.Now().Add(-1 * time.Hour).Truncate(time.Second)

	passed := []svt.PolicyValidationClaims{{Policy: "pkix", Result: svt.ConclusionPassed}}
	failed := []svt.PolicyValidationClaims{{Policy: "pkix", Result: svt.ConclusionFailed}}

	result := &Result{TimeValidation: []TimeValidationResult{
		{Claims: svt.TimeValidationClaims{Time: late.Unix(), Validation: passed}},
		{Claims: svt.TimeValidationClaims{Time: early.Unix(), Validation: passed}},
		{Claims: svt.TimeValidationClaims{Time: early.Add(-time.Hour).Unix(), Validation: failed}},
	}}

	got := result.VerifiedSigningTime()
	if !got.Equal(early) {
		t.Errorf("expected earliest passed evidence %v, got %v", early, got)
	}
}

func TestVerifiedSigningTimeNoEvidence(t *testing.T) {
	result := &Result{}
	if !result.VerifiedSigningTime().IsZero() {
		t.Error("expected zero time without evidence")
	}
}
