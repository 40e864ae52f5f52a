package contract

import (
	"fmt"

	"github.com/ppiankov/agentgate/internal/signing"
)

// VerifyEnvelope recomputes the envelope signature over every other field.
// Any mutation after signing returns *SignatureError.
func VerifyEnvelope(s *signing.Signer, env *DecisionEnvelope) error {
	if env == nil {
		return &InvariantError{Invariant: "envelope_present", Detail: "envelope is nil"}
	}
	ok, err := s.Verify(env, env.Signature, "signature")
	if err != nil {
		return fmt.Errorf("contract: verify envelope: %w", err)
	}
	if !ok {
		return &SignatureError{Object: "decision envelope", ID: env.DecisionID}
	}
	return nil
}

// VerifyReceipt recomputes the receipt signature over every other field.
func VerifyReceipt(s *signing.Signer, r *ExecutionReceipt) error {
	if r == nil {
		return &InvariantError{Invariant: "receipt_present", Detail: "receipt is nil"}
	}
	ok, err := s.Verify(r, r.Signature, "signature")
	if err != nil {
		return fmt.Errorf("contract: verify receipt: %w", err)
	}
	if !ok {
		return &SignatureError{Object: "execution receipt", ID: r.ReceiptID}
	}
	return nil
}
