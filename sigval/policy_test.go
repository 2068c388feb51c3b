package sigval

import (
	"context"
	"testing"
	"time"

	"github.com/swedenconnect/sig-validation-base/chain"
	"github.com/swedenconnect/sig-validation-base/svt"
	"github.com/swedenconnect/sig-validation-base/validity"
)

// timeEvidence builds a passed timestamp evidence entry at the given time.
func timeEvidence(at time.Time) TimeValidationResult {
	return TimeValidationResult{
		Claims: svt.TimeValidationClaims{
			Time: at.Unix(),
			Type: svt.TimeValTypeTimestamp,
			Validation: []svt.PolicyValidationClaims{
				{Policy: svt.PolicyTimestampPKIX, Result: svt.ConclusionPassed},
			},
		},
	}
}

func revokedPath(at time.Time) *chain.PathValidationResult {
	return &chain.PathValidationResult{
		Statuses: []*validity.ValidationStatus{
			{Validity: validity.ValidityRevoked, RevocationTime: at},
		},
	}
}

func TestBasicPolicyAcceptsValidatedPath(t *testing.T) {
	result := &Result{
		Status:         StatusSuccess,
		PathValidation: &chain.PathValidationResult{Success: true},
	}
	verdict := NewBasicPolicyValidator().ValidatePolicy(context.Background(), result)
	if !verdict.Passed() {
		t.Fatalf("verdict = %+v", verdict)
	}
	if verdict.Policy != svt.PolicyPKIXValidation {
		t.Errorf("policy = %q", verdict.Policy)
	}
	if verdict.Status != StatusSuccess {
		t.Errorf("status = %v", verdict.Status)
	}
}

func TestBasicPolicyWithoutPathValidation(t *testing.T) {
	result := &Result{Status: StatusSuccess}
	verdict := NewBasicPolicyValidator().ValidatePolicy(context.Background(), result)
	if verdict.Conclusion != svt.ConclusionIndeterminate {
		t.Fatalf("conclusion = %v", verdict.Conclusion)
	}
	if verdict.Status != StatusNotTrusted {
		t.Errorf("status = %v", verdict.Status)
	}
}

func TestBasicPolicyRevokedSigner(t *testing.T) {
	revokedAt := time.Now().Add(-time.Hour)

	t.Run("timestamped before revocation", func(t *testing.T) {
		result := &Result{
			Status:         StatusSuccess,
			PathValidation: revokedPath(revokedAt),
			TimeValidation: []TimeValidationResult{timeEvidence(revokedAt.Add(-24 * time.Hour))},
		}
		verdict := NewBasicPolicyValidator().ValidatePolicy(context.Background(), result)
		if !verdict.Passed() {
			t.Fatalf("verdict = %+v", verdict)
		}
	})

	t.Run("timestamped after revocation", func(t *testing.T) {
		result := &Result{
			Status:         StatusSuccess,
			PathValidation: revokedPath(revokedAt),
			TimeValidation: []TimeValidationResult{timeEvidence(revokedAt.Add(time.Minute))},
		}
		verdict := NewBasicPolicyValidator().ValidatePolicy(context.Background(), result)
		if verdict.Passed() {
			t.Fatal("revoked signer accepted without prior time evidence")
		}
		if verdict.Status != StatusSignerInvalid {
			t.Errorf("status = %v", verdict.Status)
		}
	})

	t.Run("no time evidence", func(t *testing.T) {
		result := &Result{
			Status:         StatusSuccess,
			PathValidation: revokedPath(revokedAt),
		}
		verdict := NewBasicPolicyValidator().ValidatePolicy(context.Background(), result)
		if verdict.Passed() {
			t.Fatal("revoked signer accepted without time evidence")
		}
	})
}

func TestBasicPolicyFailedStatusPassesThrough(t *testing.T) {
	result := &Result{Status: StatusInvalidSignature, Message: "signature validation failed"}
	verdict := NewBasicPolicyValidator().ValidatePolicy(context.Background(), result)
	if verdict.Conclusion != svt.ConclusionFailed {
		t.Fatalf("conclusion = %v", verdict.Conclusion)
	}
	if verdict.Status != StatusInvalidSignature {
		t.Errorf("status = %v", verdict.Status)
	}
}

func TestPolicyNameOverride(t *testing.T) {
	v := NewBasicPolicyValidator(WithPolicyName("urn:example:policy"))
	verdict := v.ValidatePolicy(context.Background(), &Result{Status: StatusSuccess, PathValidation: &chain.PathValidationResult{Success: true}})
	if verdict.Policy != "urn:example:policy" {
		t.Errorf("policy = %q", verdict.Policy)
	}
}
